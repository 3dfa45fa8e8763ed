package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/charlesng35/oaipmh/internal/app"
	"github.com/charlesng35/oaipmh/internal/cache"
	"github.com/charlesng35/oaipmh/internal/handlers"
	"github.com/charlesng35/oaipmh/internal/middleware"
	"github.com/charlesng35/oaipmh/internal/monitoring"
)

// NewRouter builds the Gin engine, wires middleware and registers the OAI-PMH
// endpoint next to the operational routes. rateStore may be nil when rate
// limiting is disabled.
func NewRouter(cfg *app.Config, engine handlers.OAIResponder, mon *monitoring.Module, rateStore cache.Store) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	oaiHandler, err := handlers.NewOAIHandler(engine)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(otelgin.Middleware(serviceName(cfg)))
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}

	path := strings.TrimSpace(cfg.OAI.Path)
	if path == "" {
		path = "/oai/request"
	}
	r.GET(path, oaiHandler.Serve)
	r.POST(path, oaiHandler.Serve)

	registerHealthRoutes(r, cfg, mon)
	registerMetricsRoute(r, cfg, mon)
	registerMonitoringRoutes(r.Group("/api"), handlers.NewMonitoringHandler(mon, cfg))

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}

func serviceName(cfg *app.Config) string {
	if name := strings.TrimSpace(cfg.Tracing.ServiceName); name != "" {
		return name
	}
	return "oaipmh"
}
