package api_test

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/oaipmh/internal/api"
	"github.com/charlesng35/oaipmh/internal/app"
	"github.com/charlesng35/oaipmh/internal/cache"
	"github.com/charlesng35/oaipmh/internal/handlers/testutil"
)

func TestRouterServesOAIAndOperationalRoutes(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/oai/request", url.Values{"verb": {"Identify"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = env.Request(http.MethodPost, "/oai/request", url.Values{"verb": {"Identify"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "oaipmh_oai_requests_total")

	w = env.Request(http.MethodGet, "/api/monitoring/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, testutil.DecodeResponse(t, w).Success)
}

func TestRouterFallbacks(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "NOT_FOUND", resp.Error.Code)

	w = env.Request(http.MethodDelete, "/oai/request", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouterCustomPathAndDisabledHealth(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.OAI.Path = "/oai"
		cfg.Monitoring.Health.Enabled = false
		cfg.Monitoring.Prometheus.Enabled = false
	})

	w := env.Request(http.MethodGet, "/oai", url.Values{"verb": {"Identify"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "disabled")

	w = env.Request(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.Request(http.MethodGet, "/api/monitoring/summary", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterRateLimit(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Server.RateLimit = app.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Minute}
	})

	args := url.Values{"verb": {"Identify"}}
	w := env.Request(http.MethodGet, "/oai/request", args)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = env.Request(http.MethodGet, "/oai/request", args)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestNewRouterValidatesInput(t *testing.T) {
	_, err := api.NewRouter(nil, nil, nil, nil)
	require.Error(t, err)

	_, err = api.NewRouter(testutil.DefaultConfig(), nil, nil, cache.NewMemoryStore())
	require.Error(t, err)
}
