package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"contractflow/internal/auth"
	"contractflow/internal/middleware"
	"contractflow/internal/models"
	"contractflow/internal/pipeline"
	"contractflow/internal/service/audit"
	"contractflow/internal/service/contracts"
	"contractflow/internal/service/users"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestor starts contract analyses. *pipeline.Pipeline satisfies it.
type Ingestor interface {
	Start(ctx context.Context, req pipeline.Request) (*pipeline.Run, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the HTTP routes.
type Deps struct {
	Auth      *auth.Service
	Resets    *auth.ResetTokens
	Mailer    auth.Mailer
	Users     *users.Service
	Contracts *contracts.Service
	Audit     *audit.Service
	Ingestor  Ingestor
	Health    map[string]HealthCheck
}

// Options tune request handling.
type Options struct {
	MaxUploadBytes int64
	PublicBaseURL  string
	AuthRateLimit  int
	AuthRateWindow time.Duration
}

// Handler wires HTTP routes to the services.
type Handler struct {
	auth      *auth.Service
	resets    *auth.ResetTokens
	mailer    auth.Mailer
	users     *users.Service
	contracts *contracts.Service
	audit     *audit.Service
	ingestor  Ingestor
	health    map[string]HealthCheck
	opts      Options
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.AuthRateLimit <= 0 {
		opts.AuthRateLimit = 20
	}
	if opts.AuthRateWindow <= 0 {
		opts.AuthRateWindow = time.Minute
	}
	mailer := d.Mailer
	if mailer == nil {
		mailer = auth.LogMailer{}
	}
	return &Handler{
		auth:      d.Auth,
		resets:    d.Resets,
		mailer:    mailer,
		users:     d.Users,
		contracts: d.Contracts,
		audit:     d.Audit,
		ingestor:  d.Ingestor,
		health:    d.Health,
		opts:      opts,
	}
}

// NewRouter returns an engine with the ambient middleware and every route.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.Metrics(),
	)
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	limiter := middleware.NewRateLimiter(h.opts.AuthRateLimit, h.opts.AuthRateWindow)
	public := api.Group("/auth", middleware.RateLimit(limiter))
	public.POST("/register", h.registerUser)
	public.POST("/login", h.loginUser)
	public.POST("/forgot-password", h.forgotPassword)
	public.POST("/reset-password", h.resetPassword)

	authed := api.Group("", h.auth.Middleware(h.users), h.auth.CSRFMiddleware())
	authed.POST("/auth/logout", h.logoutUser)

	authed.GET("/users/me", h.getMe)
	authed.PUT("/users/me", h.updateMe)
	authed.PUT("/users/me/password", h.changePassword)

	authed.POST("/contracts/upload", h.uploadContract)
	authed.GET("/contracts", h.listContracts)
	authed.GET("/contracts/stats", h.contractStats)
	authed.GET("/contracts/export", h.exportContracts)
	authed.GET("/contracts/:id", h.getContract)
	authed.DELETE("/contracts/:id", h.deleteContract)

	admin := authed.Group("/admin", auth.RequireAdmin())
	admin.GET("/users", h.adminListUsers)
	admin.POST("/users", h.adminCreateUser)
	admin.GET("/users/:uuid", h.adminGetUser)
	admin.PUT("/users/:uuid/role", h.adminChangeRole)
	admin.DELETE("/users/:uuid", h.adminDeleteUser)
	admin.GET("/audit-logs", h.adminAuditLogs)
}

func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return user, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(gin.H, len(h.health))
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}
