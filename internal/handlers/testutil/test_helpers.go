package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/oaipmh/internal/api"
	"github.com/charlesng35/oaipmh/internal/app"
	"github.com/charlesng35/oaipmh/internal/cache"
	sharedtestutil "github.com/charlesng35/oaipmh/internal/database/testutil"
	"github.com/charlesng35/oaipmh/internal/metadata"
	"github.com/charlesng35/oaipmh/internal/monitoring"
	"github.com/charlesng35/oaipmh/internal/oai"
	"github.com/charlesng35/oaipmh/internal/services"
	"github.com/charlesng35/oaipmh/internal/tokens"
	"github.com/charlesng35/oaipmh/pkg/response"
)

// Env encapsulates a fully-wired repository backed by an in-memory database.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Config   *app.Config
	Router   *gin.Engine
	Entities *services.EntityService
	Indexer  *services.IndexerService
}

// Option adjusts the configuration before the stack is built.
type Option func(*app.Config)

// DefaultConfig returns the configuration used by NewEnv: an "articles" set
// over node/article with a page size of two, plus oai_dc and oai_raw.
func DefaultConfig() *app.Config {
	return &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		OAI: app.OAIConfig{
			Path:                      "/oai/request",
			RepositoryName:            "Test Repository",
			AdminEmail:                "admin@example.org",
			SetsEnabled:               true,
			ResumptionTokenExpiration: time.Hour,
			TokenStore:                "database",
			SampleEntityType:          "node",
			MetadataFormats: map[string]string{
				"oai_dc":  metadata.DublinCorePluginID,
				"oai_raw": metadata.RawFieldsPluginID,
			},
			Sets: []app.SetSourceConfig{{
				ViewDisplay: "articles_page",
				SetID:       "articles",
				Label:       "Articles",
				EntityType:  "node",
				Bundle:      "article",
				PagerLimit:  2,
			}},
		},
	}
}

// NewEnv provisions a fresh repository with migrations and seed data applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	mon, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	monitoring.SetModule(mon)

	entities, err := services.NewEntityService(db)
	require.NoError(t, err)
	strategy, err := cfg.Indexer.Strategy()
	require.NoError(t, err)
	indexer, err := services.NewIndexerService(db, entities, cfg.OAI.SetSources(), services.WithCacheStrategy(strategy))
	require.NoError(t, err)
	entities.OnChange(indexer.HandleEntityChange)
	records, err := services.NewRecordCacheService(db)
	require.NoError(t, err)

	var tokenStore oai.TokenStore
	if cfg.OAI.TokenStore == "memory" {
		tokenStore, err = tokens.NewCacheStore(cache.NewMemoryStore())
	} else {
		tokenStore, err = tokens.NewDatabaseStore(db)
	}
	require.NoError(t, err)

	registry := metadata.NewRegistry()
	require.NoError(t, metadata.RegisterBuiltins(registry, cfg.OAI.FieldMapping()))
	catalog, err := metadata.NewCatalog(registry, cfg.OAI.MetadataFormats)
	require.NoError(t, err)

	engine, err := oai.NewEngine(records, tokenStore, entities, catalog, cfg.OAI.EngineSettings())
	require.NoError(t, err)

	router, err := api.NewRouter(cfg, engine, mon, cache.NewMemoryStore())
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Config:   cfg,
		Router:   router,
		Entities: entities,
		Indexer:  indexer,
	}
}

// Article upserts a published node/article with the given title.
func (e *Env) Article(id, title string, changed time.Time, fields map[string][]string) {
	e.T.Helper()

	all := map[string][]string{metadata.FieldTitle: {title}}
	for name, values := range fields {
		all[name] = values
	}
	_, err := e.Entities.Upsert(context.Background(), services.UpsertEntityInput{
		Type:      "node",
		ID:        id,
		Bundle:    "article",
		Label:     title,
		Published: true,
		Fields:    all,
		Created:   changed,
		Changed:   changed,
	})
	require.NoError(e.T, err)
}

// Rebuild refreshes the record cache.
func (e *Env) Rebuild() services.IndexResult {
	e.T.Helper()
	result, err := e.Indexer.Rebuild(context.Background())
	require.NoError(e.T, err)
	return result
}

// Request executes an HTTP request against the test router.
func (e *Env) Request(method, path string, form url.Values) *httptest.ResponseRecorder {
	e.T.Helper()

	var req *http.Request
	if method == http.MethodPost {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		target := path
		if len(form) > 0 {
			target += "?" + form.Encode()
		}
		req = httptest.NewRequest(method, target, nil)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// OAI issues a GET against the OAI endpoint with alternating name/value pairs
// and returns the parsed document root.
func (e *Env) OAI(pairs ...string) (*httptest.ResponseRecorder, *etree.Element) {
	e.T.Helper()
	require.Zero(e.T, len(pairs)%2, "arguments must come in pairs")

	form := url.Values{}
	for i := 0; i < len(pairs); i += 2 {
		form.Add(pairs[i], pairs[i+1])
	}
	w := e.Request(http.MethodGet, e.Config.OAI.Path, form)
	return w, ParseXML(e.T, w)
}

// ParseXML parses an OAI-PMH response body.
func ParseXML(t *testing.T, w *httptest.ResponseRecorder) *etree.Element {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, response.XMLContentType, w.Header().Get("Content-Type"))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(w.Body.Bytes()))
	root := doc.Root()
	require.NotNil(t, root)
	require.Equal(t, "OAI-PMH", root.Tag)
	return root
}

// ErrorCodes lists the error codes of an OAI-PMH document.
func ErrorCodes(root *etree.Element) []string {
	var codes []string
	for _, el := range root.SelectElements("error") {
		codes = append(codes, el.SelectAttrValue("code", ""))
	}
	return codes
}

// APIResponse represents the JSON envelope returned by operational routes.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}
