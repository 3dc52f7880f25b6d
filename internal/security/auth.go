package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	// ScopeAdmin grants access to the inspection API mutations
	ScopeAdmin = "router:admin"

	tokenIssuer        = "adaptive-router"
	defaultTokenExpiry = 24 * time.Hour
)

var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid admin token")
	ErrMissingScope     = errors.New("token lacks admin scope")
	ErrAdminUnavailable = errors.New("admin access is not configured")
)

type contextKey string

const adminContextKey contextKey = "admin_claims"

// Config holds admin authentication configuration
type Config struct {
	AdminSecret string        `yaml:"admin_secret"`
	AdminKeys   []string      `yaml:"admin_keys"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// AdminClaims are the JWT claims of an admin token
type AdminClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the claims carry scope
func (c *AdminClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AdminAuth issues and verifies admin bearer tokens. Static admin keys are
// accepted alongside signed tokens.
type AdminAuth struct {
	config Config
	logger *logrus.Logger
}

// NewAdminAuth creates an admin authenticator
func NewAdminAuth(config Config, logger *logrus.Logger) *AdminAuth {
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = defaultTokenExpiry
	}
	return &AdminAuth{config: config, logger: logger}
}

// Enabled reports whether any admin credential is configured
func (a *AdminAuth) Enabled() bool {
	return a.config.AdminSecret != "" || len(a.config.AdminKeys) > 0
}

// IssueToken signs an admin token for subject
func (a *AdminAuth) IssueToken(subject string, scopes ...string) (string, error) {
	if a.config.AdminSecret == "" {
		return "", ErrAdminUnavailable
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeAdmin}
	}

	now := time.Now()
	claims := &AdminClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.AdminSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

// Verify checks a bearer token and requires the admin scope
func (a *AdminAuth) Verify(tokenString string) (*AdminClaims, error) {
	if !a.Enabled() {
		return nil, ErrAdminUnavailable
	}
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	for _, key := range a.config.AdminKeys {
		if subtle.ConstantTimeCompare([]byte(tokenString), []byte(key)) == 1 {
			return &AdminClaims{
				Scopes:           []string{ScopeAdmin},
				RegisteredClaims: jwt.RegisteredClaims{Subject: "key:" + maskKey(key)},
			}, nil
		}
	}

	if a.config.AdminSecret == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.config.AdminSecret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.HasScope(ScopeAdmin) {
		return nil, ErrMissingScope
	}
	return claims, nil
}

// Middleware rejects requests without a valid admin token
func (a *AdminAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Verify(extractBearer(r))
			if err != nil {
				status := http.StatusUnauthorized
				switch {
				case errors.Is(err, ErrAdminUnavailable):
					status = http.StatusServiceUnavailable
				case errors.Is(err, ErrMissingScope):
					status = http.StatusForbidden
				}

				a.logger.WithFields(logrus.Fields{
					"error":     err.Error(),
					"path":      r.URL.Path,
					"method":    r.Method,
					"remote_ip": ClientIP(r),
				}).Warn("Admin authentication failed")

				writeError(w, status, "authentication_error", err.Error())
				return
			}

			a.logger.WithFields(logrus.Fields{
				"subject": claims.Subject,
				"path":    r.URL.Path,
				"method":  r.Method,
			}).Debug("Admin request authorized")

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminContextKey, claims)))
		})
	}
}

// AdminFromContext returns the claims attached by Middleware
func AdminFromContext(ctx context.Context) (*AdminClaims, bool) {
	claims, ok := ctx.Value(adminContextKey).(*AdminClaims)
	return claims, ok
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// ClientIP returns the originating client address of a request
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":%q,"code":%d},"timestamp":%d}`, message, kind, status, time.Now().Unix())
}
