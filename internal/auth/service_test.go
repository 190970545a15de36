package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"contractflow/internal/config"
	"contractflow/internal/models"
	"contractflow/internal/redis"
	"contractflow/internal/service/users"
	"contractflow/internal/storage"
	"contractflow/internal/storage/storagetest"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newUser(t *testing.T, db *storage.DB, email string) *models.User {
	t.Helper()
	u, err := users.NewService(db).Register(context.Background(), users.NewUser{Email: email, Password: "pw"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func TestAuthIssueValidateRevoke(t *testing.T) {
	db := storagetest.Open(t)
	u := newUser(t, db, "a@example.com")

	svc := NewService(db, nil, time.Hour)
	token, err := svc.IssueToken(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	userID, err := svc.ValidateToken(context.Background(), token)
	if err != nil || userID != u.ID {
		t.Fatalf("ValidateToken failed: id=%d err=%v", userID, err)
	}
	if err := svc.RevokeToken(context.Background(), token); err != nil {
		t.Fatalf("RevokeToken error: %v", err)
	}
	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revoke, got %v", err)
	}

	token2, err := svc.IssueToken(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if err := svc.RevokeUserTokens(context.Background(), u.ID); err != nil {
		t.Fatalf("RevokeUserTokens error: %v", err)
	}
	if _, err := svc.ValidateToken(context.Background(), token2); err == nil {
		t.Fatalf("expected error after revoke all")
	}
}

func TestAuthValidateExpiredToken(t *testing.T) {
	db := storagetest.Open(t)
	u := newUser(t, db, "b@example.com")

	svc := NewService(db, nil, 10*time.Millisecond)
	token, err := svc.IssueToken(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiration error, got %v", err)
	}
	// ensure token removed
	var count int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM user_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("query tokens: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired token not purged")
	}
}

func TestAuthTokenCacheUsesRedis(t *testing.T) {
	db := storagetest.Open(t)
	u := newUser(t, db, "c@example.com")

	cacheClient, cleanup := newRedisCacheClient(t)
	defer cleanup()

	svc := NewService(db, cacheClient, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, u.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	raw := cacheClient.Raw()
	if raw == nil {
		t.Fatalf("redis raw client nil")
	}
	key := redisTokenPrefix + token
	got, err := raw.Get(ctx, key).Result()
	if err != nil {
		t.Fatalf("get redis token: %v", err)
	}
	if got != strconv.FormatInt(u.ID, 10) {
		t.Fatalf("expected user %d in rdb, got %s", u.ID, got)
	}

	_, _ = db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, token)
	userID, err := svc.ValidateToken(ctx, token)
	if err != nil || userID != u.ID {
		t.Fatalf("ValidateToken via rdb failed: id=%d err=%v", userID, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := raw.Get(ctx, key).Result(); err == nil {
		t.Fatalf("expected redis key deleted")
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected error after revoke and rdb delete")
	}
}

func newRedisCacheClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Host: host,
			Port: port,
			DB:   db,
		},
	}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if raw := client.Raw(); raw != nil {
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup
}

func TestResetTokens(t *testing.T) {
	rt := NewResetTokens("secret", 30*time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rt.now = func() time.Time { return now }

	token, err := rt.Issue("user-uuid")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	subject, err := rt.Verify(token)
	if err != nil || subject != "user-uuid" {
		t.Fatalf("Verify = %q, %v", subject, err)
	}

	now = now.Add(31 * time.Minute)
	if _, err := rt.Verify(token); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	other := NewResetTokens("other", time.Minute)
	forged, _ := other.Issue("user-uuid")
	now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if _, err := rt.Verify(forged); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("token signed with another secret accepted: %v", err)
	}
}

func TestResetTokensRejectOtherScope(t *testing.T) {
	rt := NewResetTokens("secret", time.Minute)
	claims := resetClaims{
		Scope: "login",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-uuid",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := rt.Verify(token); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("wrong scope accepted: %v", err)
	}
}

func TestResetLink(t *testing.T) {
	got := ResetLink("https://app.example.com/", "a.b+c")
	if got != "https://app.example.com/reset-password?token=a.b%2Bc" {
		t.Fatalf("ResetLink = %q", got)
	}
}

func newRouter(svc *Service, db *storage.DB) *gin.Engine {
	r := gin.New()
	authed := r.Group("/", svc.Middleware(users.NewService(db)), svc.CSRFMiddleware())
	authed.GET("/me", func(c *gin.Context) {
		u, _ := UserFromContext(c)
		c.JSON(http.StatusOK, gin.H{"email": u.Email})
	})
	authed.POST("/me", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	authed.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestMiddleware(t *testing.T) {
	db := storagetest.Open(t)
	u := newUser(t, db, "d@example.com")
	svc := NewService(db, nil, time.Hour)
	token, _ := svc.IssueToken(context.Background(), u.ID)
	r := newRouter(svc, db)

	cases := []struct {
		name   string
		method string
		path   string
		setup  func(*http.Request)
		want   int
	}{
		{"no token", http.MethodGet, "/me", func(*http.Request) {}, http.StatusUnauthorized},
		{"bearer", http.MethodGet, "/me", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"cookie read", http.MethodGet, "/me", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		}, http.StatusOK},
		{"cookie write without csrf", http.MethodPost, "/me", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		}, http.StatusForbidden},
		{"cookie write with csrf", http.MethodPost, "/me", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
			r.AddCookie(&http.Cookie{Name: CSRFCookie, Value: "xyz"})
			r.Header.Set(CSRFHeader, "xyz")
		}, http.StatusNoContent},
		{"cookie write with mismatched csrf", http.MethodPost, "/me", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
			r.AddCookie(&http.Cookie{Name: CSRFCookie, Value: "xyz"})
			r.Header.Set(CSRFHeader, "abc")
		}, http.StatusForbidden},
		{"bearer write skips csrf", http.MethodPost, "/me", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"not admin", http.MethodGet, "/admin", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(""))
		tc.setup(req)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s: status %d, want %d (%s)", tc.name, w.Code, tc.want, w.Body.String())
		}
	}
}

func TestMiddlewareRejectsDeletedUser(t *testing.T) {
	db := storagetest.Open(t)
	u := newUser(t, db, "gone@example.com")
	svc := NewService(db, nil, time.Hour)
	token, _ := svc.IssueToken(context.Background(), u.ID)
	// keep the token row so only the account lookup can fail
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = OFF`); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if _, err := db.ExecContext(context.Background(), `DELETE FROM users WHERE id = ?`, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	newRouter(svc, db).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}
