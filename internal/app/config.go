package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/charlesng35/oaipmh/pkg/validator"
)

// Config represents the runtime configuration of the OAI-PMH provider.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	OAI         OAIConfig         `mapstructure:"oai"`
	Indexer     IndexerConfig     `mapstructure:"indexer"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port" validate:"gte=1,lte=65535"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format" validate:"omitempty,oneof=json console"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig throttles requests per client address.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests" validate:"gte=0"`
	Window   time.Duration `mapstructure:"window" validate:"gte=0"`
	Store    string        `mapstructure:"store" validate:"omitempty,oneof=database redis memcached memory"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver" validate:"oneof=sqlite postgres postgresql mysql"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis     RedisCacheConfig     `mapstructure:"redis"`
	Memcached MemcachedCacheConfig `mapstructure:"memcached"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Prefix   string        `mapstructure:"prefix"`
}

// MemcachedCacheConfig holds memcached connection options.
type MemcachedCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`
	Prefix  string        `mapstructure:"prefix"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,startswith=/"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// OAIConfig holds the repository and protocol settings.
type OAIConfig struct {
	Path                      string              `mapstructure:"path" validate:"required,startswith=/"`
	RepositoryName            string              `mapstructure:"repository_name"`
	AdminEmail                string              `mapstructure:"admin_email" validate:"omitempty,email"`
	SetsEnabled               bool                `mapstructure:"sets_enabled"`
	ResumptionTokenExpiration time.Duration       `mapstructure:"resumption_token_expiration" validate:"gt=0"`
	TokenStore                string              `mapstructure:"token_store" validate:"oneof=database redis memcached memory"`
	MaxPageSize               int                 `mapstructure:"max_page_size" validate:"gte=0"`
	SampleEntityType          string              `mapstructure:"sample_entity_type"`
	MetadataFormats           map[string]string   `mapstructure:"metadata_formats" validate:"min=1"`
	FieldMappings             map[string][]string `mapstructure:"field_mappings"`
	Sets                      []SetSourceConfig   `mapstructure:"sets" validate:"dive"`
}

// SetSourceConfig describes one membership source of the indexer.
type SetSourceConfig struct {
	ViewDisplay    string `mapstructure:"view_display" validate:"required"`
	SetID          string `mapstructure:"set_id"`
	Label          string `mapstructure:"label"`
	EntityType     string `mapstructure:"entity_type" validate:"required,excludes=-"`
	Bundle         string `mapstructure:"bundle"`
	PartitionField string `mapstructure:"partition_field"`
	PagerLimit     int    `mapstructure:"pager_limit" validate:"gte=0"`
}

// IndexerConfig schedules record cache rebuilds.
type IndexerConfig struct {
	Schedule      string `mapstructure:"schedule"`
	RunOnStart    bool   `mapstructure:"run_on_start"`
	CacheStrategy string `mapstructure:"cache_strategy" validate:"omitempty,oneof=conservative liberal"`
}

// MaintenanceConfig schedules housekeeping jobs.
type MaintenanceConfig struct {
	TokenPurgeSchedule string `mapstructure:"token_purge_schedule"`
	CachePurgeSchedule string `mapstructure:"cache_purge_schedule"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("OAIPMH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate checks struct rules and the cross-field constraints between
// sections.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: config is nil")
	}
	if err := validator.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for _, store := range []struct{ key, value string }{
		{"oai.token_store", c.OAI.TokenStore},
		{"server.rate_limit.store", c.Server.RateLimit.Store},
	} {
		switch store.value {
		case "redis":
			if !c.Cache.Redis.Enabled {
				return fmt.Errorf("config: %s is redis but cache.redis is disabled", store.key)
			}
		case "memcached":
			if !c.Cache.Memcached.Enabled || len(c.Cache.Memcached.Servers) == 0 {
				return fmt.Errorf("config: %s is memcached but cache.memcached is disabled or has no servers", store.key)
			}
		}
	}

	seen := make(map[string]struct{}, len(c.OAI.Sets))
	for _, set := range c.OAI.Sets {
		if _, dup := seen[set.ViewDisplay]; dup {
			return fmt.Errorf("config: oai.sets: duplicate view_display %q", set.ViewDisplay)
		}
		seen[set.ViewDisplay] = struct{}{}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.rate_limit.store", "memory")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/oaipmh.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.prefix", "oaipmh:")
	v.SetDefault("cache.memcached.enabled", false)
	v.SetDefault("cache.memcached.servers", []string{"127.0.0.1:11211"})
	v.SetDefault("cache.memcached.timeout", "500ms")
	v.SetDefault("cache.memcached.prefix", "oaipmh:")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "oaipmh")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("oai.path", "/oai/request")
	v.SetDefault("oai.repository_name", "")
	v.SetDefault("oai.admin_email", "")
	v.SetDefault("oai.sets_enabled", true)
	v.SetDefault("oai.resumption_token_expiration", "1h")
	v.SetDefault("oai.token_store", "database")
	v.SetDefault("oai.max_page_size", 0)
	v.SetDefault("oai.sample_entity_type", "node")
	v.SetDefault("oai.metadata_formats", map[string]string{"oai_dc": "dublin_core"})

	v.SetDefault("indexer.schedule", "@every 1h")
	v.SetDefault("indexer.run_on_start", true)
	v.SetDefault("indexer.cache_strategy", "conservative")

	v.SetDefault("maintenance.token_purge_schedule", "@every 15m")
	v.SetDefault("maintenance.cache_purge_schedule", "@every 1h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
