package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const resetScope = "reset_password"

var ErrInvalidResetToken = errors.New("invalid or expired reset token")

type resetClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// ResetTokens signs and verifies short lived password reset tokens.
type ResetTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewResetTokens(secret string, ttl time.Duration) *ResetTokens {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ResetTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a token that lets the holder reset the password of userUUID.
func (r *ResetTokens) Issue(userUUID string) (string, error) {
	now := r.now()
	claims := resetClaims{
		Scope: resetScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userUUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}
	return signed, nil
}

// Verify returns the user uuid carried by a valid reset token.
func (r *ResetTokens) Verify(token string) (string, error) {
	claims := &resetClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidResetToken
	}
	if claims.Scope != resetScope || claims.Subject == "" {
		return "", ErrInvalidResetToken
	}
	return claims.Subject, nil
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer writes reset links to the log instead of sending mail.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "password reset requested", "email", email, "link", link)
	return nil
}

// ResetLink builds the link a user follows to pick a new password.
func ResetLink(baseURL, token string) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/reset-password?token=%s", base, url.QueryEscape(token))
}
