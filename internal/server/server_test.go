package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/adaptive-router/internal/config"
	"github.com/tributary-ai/adaptive-router/internal/engine"
	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/security"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

const testPrompt = "Write a short poem about autumn"

var testModels = []types.ModelInfo{
	{Name: "gpt-4o", Tier: types.CostTierPremium},
	{Name: "gpt-4o-mini", Tier: types.CostTierCheap},
	{Name: "claude-3-5-sonnet-20241022", Tier: types.CostTierPremium},
	{Name: "claude-3-haiku-20240307", Tier: types.CostTierCheap},
}

type testServer struct {
	server  *Server
	engine  *engine.Engine
	handler http.Handler
}

func newTestServer(t *testing.T, failing bool, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("LLM_ROUTER_ADMIN_SECRET", "")

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Persistence.Dir = t.TempDir()
	cfg.Registry.Path = ""
	cfg.Shadow.Enabled = false
	cfg.Router.Backoff.BaseDelay = time.Millisecond
	cfg.Router.Backoff.MaxDelay = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	pool := providers.NewPool(time.Hour, logger)
	for _, model := range testModels {
		name := model.Name
		pool.Register(name, &providers.FuncGenerator{
			Name: "fake",
			Fn: func(ctx context.Context, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error) {
				if failing {
					return nil, errors.New("upstream unavailable")
				}
				return &types.GenerateResult{
					Content: "Crisp leaves drift and fall, autumn hums a quiet song of gold.",
					Model:   name,
					Latency: 15 * time.Millisecond,
					CostUSD: 0.0002,
					Tokens:  18,
				}, nil
			},
		}, model)
	}

	e, err := engine.Build(cfg, pool, logger)
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	s := NewServer(e, cfg.Server, cfg.Security, logger)
	return &testServer{server: s, engine: e, handler: s.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, false, nil)

	rec := ts.do(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, len(testModels), body["serving"])
}

func TestHealthCheck_AllDisabled(t *testing.T) {
	ts := newTestServer(t, false, nil)
	for _, id := range ts.engine.Pool.IDs() {
		ts.engine.Pool.SetEnabled(id, false)
	}

	rec := ts.do(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

func TestGenerate(t *testing.T) {
	ts := newTestServer(t, false, nil)

	rec := ts.do(t, "POST", "/v1/generate", map[string]interface{}{"prompt": testPrompt}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["content"])
	assert.Contains(t, ts.engine.Pool.IDs(), body["provider"])

	plan, ok := body["plan"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(types.PlanSingle), plan["type"])
	assert.Equal(t, 1, ts.engine.Optimizer.Updates())
}

func TestGenerate_BadRequests(t *testing.T) {
	ts := newTestServer(t, false, nil)

	tests := []struct {
		name        string
		body        string
		contentType string
		status      int
	}{
		{name: "invalid json", body: "{not json", contentType: "application/json", status: http.StatusBadRequest},
		{name: "empty prompt", body: `{"prompt":""}`, contentType: "application/json", status: http.StatusBadRequest},
		{name: "wrong content type", body: `{"prompt":"hi"}`, contentType: "text/plain", status: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/generate", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestGenerate_RouteExhausted(t *testing.T) {
	ts := newTestServer(t, true, nil)

	rec := ts.do(t, "POST", "/v1/generate", map[string]interface{}{"prompt": testPrompt}, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decodeBody(t, rec)
	apiErr := body["error"].(map[string]interface{})
	assert.Equal(t, "route_exhausted", apiErr["type"])
	assert.Greater(t, body["attempts"], float64(0))
	assert.NotEmpty(t, body["history"])
}

func TestGenerate_RateLimited(t *testing.T) {
	ts := newTestServer(t, false, func(cfg *config.Config) {
		cfg.Security.RateLimit = security.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, BurstSize: 1}
	})

	first := ts.do(t, "POST", "/v1/generate", map[string]interface{}{"prompt": testPrompt}, nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := ts.do(t, "POST", "/v1/generate", map[string]interface{}{"prompt": testPrompt}, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// other endpoints are not limited
	plan := ts.do(t, "POST", "/v1/plan", map[string]interface{}{"prompt": testPrompt}, nil)
	assert.Equal(t, http.StatusOK, plan.Code)
}

func TestPlan(t *testing.T) {
	ts := newTestServer(t, false, nil)

	rec := ts.do(t, "POST", "/v1/plan", map[string]interface{}{"prompt": testPrompt, "budget": "cost_sensitive"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, string(types.DomainCreative), body["domain"])
	assert.NotEmpty(t, body["model"])
	assert.Equal(t, 0, ts.engine.Optimizer.Updates(), "planning must not execute")
}

func TestInspectionEndpoints(t *testing.T) {
	ts := newTestServer(t, false, nil)
	ts.do(t, "POST", "/v1/generate", map[string]interface{}{"prompt": testPrompt}, nil)

	providersRec := ts.do(t, "GET", "/v1/providers", nil, nil)
	require.Equal(t, http.StatusOK, providersRec.Code)
	assert.EqualValues(t, len(testModels), decodeBody(t, providersRec)["count"])

	learningRec := ts.do(t, "GET", "/v1/learning", nil, nil)
	require.Equal(t, http.StatusOK, learningRec.Code)
	learningBody := decodeBody(t, learningRec)
	assert.EqualValues(t, 1, learningBody["updates"])
	assert.Contains(t, learningBody, "epsilon")

	experimentsRec := ts.do(t, "GET", "/v1/experiments", nil, nil)
	require.Equal(t, http.StatusOK, experimentsRec.Code)
	assert.Equal(t, false, decodeBody(t, experimentsRec)["enabled"])

	missing := ts.do(t, "GET", "/v1/experiments/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	assert.Eventually(t, func() bool {
		rec := ts.do(t, "GET", "/v1/events", nil, nil)
		var body struct {
			Count int `json:"count"`
		}
		return json.Unmarshal(rec.Body.Bytes(), &body) == nil && body.Count > 0
	}, time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, false, nil)
	ts.do(t, "POST", "/v1/generate", map[string]interface{}{"prompt": testPrompt}, nil)

	assert.Eventually(t, func() bool {
		rec := ts.do(t, "GET", "/metrics", nil, nil)
		return rec.Code == http.StatusOK &&
			strings.Contains(rec.Body.String(), "adaptive_router_route_attempts_total")
	}, time.Second, 10*time.Millisecond)
}

func TestAdmin_Unconfigured(t *testing.T) {
	ts := newTestServer(t, false, nil)

	rec := ts.do(t, "POST", "/v1/admin/shadow", map[string]interface{}{"enabled": true}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdmin_Endpoints(t *testing.T) {
	ts := newTestServer(t, false, func(cfg *config.Config) {
		cfg.Security.Admin.AdminSecret = "test-admin-secret"
	})
	token, err := ts.server.auth.IssueToken("ops", security.ScopeAdmin)
	require.NoError(t, err)
	readOnly, err := ts.server.auth.IssueToken("viewer", "router:read")
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		rec := ts.do(t, "POST", "/v1/admin/shadow", map[string]interface{}{"enabled": true}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing scope", func(t *testing.T) {
		rec := ts.do(t, "POST", "/v1/admin/shadow", map[string]interface{}{"enabled": true}, bearer(readOnly))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("toggle shadow", func(t *testing.T) {
		rec := ts.do(t, "POST", "/v1/admin/shadow", map[string]interface{}{"enabled": true}, bearer(token))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, ts.engine.Lab.Enabled())
	})

	t.Run("toggle requires enabled", func(t *testing.T) {
		rec := ts.do(t, "POST", "/v1/admin/shadow", map[string]interface{}{}, bearer(token))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("disable provider", func(t *testing.T) {
		rec := ts.do(t, "POST", "/v1/admin/providers/gpt-4o/enabled", map[string]interface{}{"enabled": false}, bearer(token))
		require.Equal(t, http.StatusOK, rec.Code)

		for _, status := range ts.engine.Pool.ProviderStatuses(context.Background()) {
			if status.ID == "gpt-4o" {
				assert.False(t, status.Enabled)
			}
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		rec := ts.do(t, "POST", "/v1/admin/providers/nope/enabled", map[string]interface{}{"enabled": false}, bearer(token))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = ts.do(t, "POST", "/v1/admin/providers/nope/reset", nil, bearer(token))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("reset provider", func(t *testing.T) {
		generated := ts.do(t, "POST", "/v1/generate", map[string]interface{}{"prompt": testPrompt}, nil)
		require.Equal(t, http.StatusOK, generated.Code)
		provider := decodeBody(t, generated)["provider"].(string)

		rec := ts.do(t, "POST", "/v1/admin/providers/"+provider+"/reset", nil, bearer(token))
		require.Equal(t, http.StatusOK, rec.Code)

		stats, ok := ts.engine.Scorecard.Stats(provider)
		require.True(t, ok)
		assert.Equal(t, 0, stats.TotalRequests)
	})
}
