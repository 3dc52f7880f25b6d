package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T, config Config) *AdminAuth {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewAdminAuth(config, logger)
}

func TestAdminAuth_IssueAndVerify(t *testing.T) {
	auth := newTestAuth(t, Config{AdminSecret: "test-secret"})

	token, err := auth.IssueToken("operator")
	require.NoError(t, err)

	claims, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.True(t, claims.HasScope(ScopeAdmin))
	assert.Equal(t, tokenIssuer, claims.Issuer)
}

func TestAdminAuth_VerifyFailures(t *testing.T) {
	auth := newTestAuth(t, Config{AdminSecret: "test-secret"})
	other := newTestAuth(t, Config{AdminSecret: "other-secret"})

	foreign, err := other.IssueToken("operator")
	require.NoError(t, err)
	readOnly, err := auth.IssueToken("viewer", "router:read")
	require.NoError(t, err)

	expiredClaims := &AdminClaims{
		Scopes: []string{ScopeAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrMissingToken},
		{name: "garbage", token: "not-a-jwt", want: ErrInvalidToken},
		{name: "wrong secret", token: foreign, want: ErrInvalidToken},
		{name: "expired", token: expired, want: ErrInvalidToken},
		{name: "missing scope", token: readOnly, want: ErrMissingScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := auth.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, claims)
		})
	}
}

func TestAdminAuth_StaticKeys(t *testing.T) {
	auth := newTestAuth(t, Config{AdminKeys: []string{"static-admin-key"}})

	claims, err := auth.Verify("static-admin-key")
	require.NoError(t, err)
	assert.True(t, claims.HasScope(ScopeAdmin))
	assert.Equal(t, "key:stat****", claims.Subject)

	_, err = auth.Verify("wrong-key")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.IssueToken("operator")
	assert.ErrorIs(t, err, ErrAdminUnavailable)
}

func TestAdminAuth_Unconfigured(t *testing.T) {
	auth := newTestAuth(t, Config{})
	assert.False(t, auth.Enabled())

	_, err := auth.Verify("anything")
	assert.ErrorIs(t, err, ErrAdminUnavailable)
}

func TestAdminAuth_Middleware(t *testing.T) {
	auth := newTestAuth(t, Config{AdminSecret: "test-secret"})
	token, err := auth.IssueToken("operator")
	require.NoError(t, err)
	readOnly, err := auth.IssueToken("viewer", "router:read")
	require.NoError(t, err)

	var seen string
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := AdminFromContext(r.Context())
		require.True(t, ok)
		seen = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + token, status: http.StatusNoContent},
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "scope", header: "Bearer " + readOnly, status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/shadow", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, "operator", seen)

	unconfigured := newTestAuth(t, Config{}).Middleware()(handler)
	rec := httptest.NewRecorder()
	unconfigured.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/shadow", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication_error")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded", headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, remote: "10.0.0.2:1234", want: "203.0.113.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "203.0.113.9"}, remote: "10.0.0.2:1234", want: "203.0.113.9"},
		{name: "remote addr", remote: "192.0.2.7:5555", want: "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
