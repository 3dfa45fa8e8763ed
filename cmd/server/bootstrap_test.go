package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/oaipmh/internal/app"
	"github.com/charlesng35/oaipmh/internal/services"
	"github.com/charlesng35/oaipmh/internal/tokens"
)

func testConfig() *app.Config {
	return &app.Config{
		Server: app.ServerConfig{
			Port: 8000,
			RateLimit: app.RateLimitConfig{
				Enabled:  true,
				Requests: 100,
				Window:   time.Minute,
				Store:    "memory",
			},
		},
		Database: app.DatabaseConfig{
			Driver: "sqlite",
			DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		OAI: app.OAIConfig{
			Path:                      "/oai/request",
			RepositoryName:            "Bootstrap Repository",
			AdminEmail:                "admin@example.org",
			SetsEnabled:               true,
			ResumptionTokenExpiration: time.Hour,
			TokenStore:                "database",
			MetadataFormats:           map[string]string{"oai_dc": "dublin_core"},
			Sets: []app.SetSourceConfig{{
				ViewDisplay: "articles_page",
				SetID:       "articles",
				EntityType:  "node",
				Bundle:      "article",
				PagerLimit:  10,
			}},
		},
	}
}

func seedEntity(t *testing.T, stack *runtimeStack) {
	t.Helper()

	entities, err := services.NewEntityService(stack.DB)
	require.NoError(t, err)
	_, err = entities.Upsert(context.Background(), services.UpsertEntityInput{
		Type:      "node",
		ID:        "7",
		Bundle:    "article",
		Label:     "Bootstrapped",
		Published: true,
		Fields:    map[string][]string{"title": {"Bootstrapped"}},
		Created:   time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func TestBootstrapRuntimeServesOAI(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	seedEntity(t, stack)
	require.NoError(t, stack.Cleaner.RebuildIndex(context.Background()))

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/oai/request?verb=GetRecord&metadataPrefix=oai_dc&identifier=oai:example.com:node-7", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "<dc:title>Bootstrapped</dc:title>")
	require.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBootstrapRuntimeTokenStoreSelection(t *testing.T) {
	cfg := testConfig()
	cfg.OAI.TokenStore = "memory"

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	store, err := stack.tokenStore("memory", zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &tokens.CacheStore{}, store)

	store, err = stack.tokenStore("database", zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &tokens.DatabaseStore{}, store)

	require.Same(t, stack.dbStore, stack.store("redis", zap.NewNop()))
	require.Same(t, stack.memoryStore, stack.store("memory", zap.NewNop()))
}

func TestBootstrapRuntimeRedisFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Redis.Enabled = true
	cfg.Cache.Redis.Address = "127.0.0.1:1"
	cfg.Cache.Redis.Timeout = 200 * time.Millisecond
	cfg.OAI.TokenStore = "redis"

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.Nil(t, stack.Redis)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), "redis unavailable")
}

func TestRebuildOnce(t *testing.T) {
	cfg := testConfig()

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	seedEntity(t, stack)
	require.NoError(t, rebuildOnce(context.Background(), stack, zap.NewNop()))

	var count int64
	require.NoError(t, stack.DB.Table("oai_records").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/definitely/not/here")
	require.Error(t, err)
}
