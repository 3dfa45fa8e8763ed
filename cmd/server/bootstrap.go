package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/oaipmh/internal/api"
	"github.com/charlesng35/oaipmh/internal/app"
	"github.com/charlesng35/oaipmh/internal/app/maintenance"
	"github.com/charlesng35/oaipmh/internal/cache"
	"github.com/charlesng35/oaipmh/internal/database"
	"github.com/charlesng35/oaipmh/internal/metadata"
	"github.com/charlesng35/oaipmh/internal/monitoring"
	"github.com/charlesng35/oaipmh/internal/monitoring/checks"
	"github.com/charlesng35/oaipmh/internal/oai"
	"github.com/charlesng35/oaipmh/internal/services"
	"github.com/charlesng35/oaipmh/internal/tokens"
	"github.com/charlesng35/oaipmh/internal/tracing"
	"github.com/charlesng35/oaipmh/pkg/logger"
)

const (
	storeDatabase  = "database"
	storeRedis     = "redis"
	storeMemcached = "memcached"
	storeMemory    = "memory"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisStore
	Memcached *cache.MemcacheStore
	Monitor   *monitoring.Module
	Indexer   *services.IndexerService
	Engine    *oai.Engine
	Cleaner   *maintenance.Cleaner
	Router    *gin.Engine

	dbStore     *cache.DatabaseStore
	memoryStore *cache.MemoryStore
	stopTracing tracing.ShutdownFunc
}

// bootstrapRuntime initialises tracing, the database, caches, the protocol
// engine, the indexer, background jobs and the HTTP router. Jobs are not
// started.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.stopTracing, err = tracing.Setup(ctx, cfg.Tracing.TracingSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise tracing: %w", err)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.dbStore = cache.NewDatabaseStore(stack.DB)
	stack.memoryStore = cache.NewMemoryStore()

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed storage", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	if cfg.Cache.Memcached.Enabled {
		if stack.Memcached, err = cache.NewMemcacheStore(cfg.Cache.MemcacheClientConfig()); err != nil {
			log.Warn("memcached unavailable; falling back to database-backed storage", zap.Error(err))
			stack.Memcached = nil
		} else {
			log.Info("memcached configured", zap.Strings("servers", cfg.Cache.Memcached.Servers))
		}
	}

	if cfg.Monitoring.Prometheus.Enabled || cfg.Monitoring.Health.Enabled {
		stack.Monitor, err = monitoring.NewModule(monitoring.Options{Repository: cfg.OAI.RepositoryName})
		if err != nil {
			return nil, fmt.Errorf("initialise monitoring: %w", err)
		}
		monitoring.SetModule(stack.Monitor)
		stack.registerHealthChecks(cfg)
	}

	tokenStore, err := stack.tokenStore(cfg.OAI.TokenStore, log)
	if err != nil {
		return nil, err
	}

	registry := metadata.NewRegistry()
	if err := metadata.RegisterBuiltins(registry, cfg.OAI.FieldMapping()); err != nil {
		return nil, fmt.Errorf("register metadata plugins: %w", err)
	}
	catalog, err := metadata.NewCatalog(registry, cfg.OAI.MetadataFormats)
	if err != nil {
		return nil, fmt.Errorf("build metadata catalog: %w", err)
	}

	entities, err := services.NewEntityService(stack.DB)
	if err != nil {
		return nil, err
	}
	records, err := services.NewRecordCacheService(stack.DB)
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Indexer.Strategy()
	if err != nil {
		return nil, fmt.Errorf("initialise indexer: %w", err)
	}
	stack.Indexer, err = services.NewIndexerService(stack.DB, entities, cfg.OAI.SetSources(), services.WithCacheStrategy(strategy))
	if err != nil {
		return nil, fmt.Errorf("initialise indexer: %w", err)
	}
	entities.OnChange(stack.Indexer.HandleEntityChange)

	stack.Engine, err = oai.NewEngine(records, tokenStore, entities, catalog, cfg.OAI.EngineSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise oai engine: %w", err)
	}

	cleanerOpts := []maintenance.Option{
		maintenance.WithIndexer(stack.Indexer, cfg.Indexer.Schedule),
		maintenance.WithCachePurge(stack.dbStore, cfg.Maintenance.CachePurgeSchedule),
	}
	if purger, ok := tokenStore.(maintenance.Purger); ok {
		cleanerOpts = append(cleanerOpts, maintenance.WithTokenPurge(purger, cfg.Maintenance.TokenPurgeSchedule))
	}
	stack.Cleaner = maintenance.NewCleaner(cleanerOpts...)

	var rateStore cache.Store
	if cfg.Server.RateLimit.Enabled {
		rateStore = stack.store(cfg.Server.RateLimit.Store, log)
	}

	stack.Router, err = api.NewRouter(cfg, stack.Engine, stack.Monitor, rateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) registerHealthChecks(cfg *app.Config) {
	health := s.Monitor.Health()
	health.RegisterReadiness(checks.Database(s.DB, 2*time.Second))

	var redisPinger, memcachePinger checks.Pinger
	if s.Redis != nil {
		redisPinger = s.Redis
	}
	if s.Memcached != nil {
		memcachePinger = s.Memcached
	}
	health.RegisterReadiness(checks.Cache("redis", redisPinger, cfg.Cache.Redis.Enabled, cfg.Cache.Redis.Timeout))
	health.RegisterReadiness(checks.Cache("memcached", memcachePinger, cfg.Cache.Memcached.Enabled, cfg.Cache.Memcached.Timeout))
	health.RegisterReadiness(checks.Maintenance(0))
}

// store resolves a configured backend name to a cache store. Unavailable
// network backends fall back to the database.
func (s *runtimeStack) store(kind string, log *zap.Logger) cache.Store {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case storeRedis:
		if s.Redis != nil {
			return s.Redis
		}
	case storeMemcached:
		if s.Memcached != nil {
			return s.Memcached
		}
	case storeMemory:
		return s.memoryStore
	case "", storeDatabase:
		return s.dbStore
	}
	log.Warn("cache backend unavailable; using database", zap.String("backend", kind))
	return s.dbStore
}

func (s *runtimeStack) tokenStore(kind string, log *zap.Logger) (oai.TokenStore, error) {
	if k := strings.ToLower(strings.TrimSpace(kind)); k == "" || k == storeDatabase {
		store, err := tokens.NewDatabaseStore(s.DB)
		if err != nil {
			return nil, fmt.Errorf("initialise token store: %w", err)
		}
		return store, nil
	}

	store, err := tokens.NewCacheStore(s.store(kind, log))
	if err != nil {
		return nil, fmt.Errorf("initialise token store: %w", err)
	}
	log.Info("resumption tokens kept in cache", zap.String("backend", kind))
	return store, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
