package app

import (
	"strings"

	"github.com/charlesng35/oaipmh/internal/cache"
	"github.com/charlesng35/oaipmh/internal/database"
	"github.com/charlesng35/oaipmh/internal/metadata"
	"github.com/charlesng35/oaipmh/internal/oai"
	"github.com/charlesng35/oaipmh/internal/services"
	"github.com/charlesng35/oaipmh/internal/tracing"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
		Prefix:   c.Redis.Prefix,
	}
}

// MemcacheClientConfig converts the memcached section.
func (c CacheConfig) MemcacheClientConfig() cache.MemcacheConfig {
	servers := make([]string, 0, len(c.Memcached.Servers))
	for _, server := range c.Memcached.Servers {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}
	return cache.MemcacheConfig{
		Servers: servers,
		Timeout: c.Memcached.Timeout,
		Prefix:  c.Memcached.Prefix,
	}
}

// ConnectionConfig picks the host settings matching the configured driver.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var auth DBAuthConfig
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql":
		auth = c.Postgres
	case "mysql":
		auth = c.MySQL
	default:
		return cfg
	}

	cfg.Host = auth.Host
	cfg.Port = auth.Port
	cfg.Name = auth.Database
	cfg.User = auth.Username
	cfg.Password = auth.Password
	cfg.Options = auth.Options
	return cfg
}

// EngineSettings converts the repository settings for the protocol engine.
func (c OAIConfig) EngineSettings() oai.Settings {
	return oai.Settings{
		RepositoryName:   c.RepositoryName,
		AdminEmail:       c.AdminEmail,
		SetsEnabled:      c.SetsEnabled,
		TokenLifetime:    c.ResumptionTokenExpiration,
		MaxPageSize:      c.MaxPageSize,
		SampleEntityType: c.SampleEntityType,
	}
}

// FieldMapping returns the configured field mapping, or the default title and
// created mapping when none is configured.
func (c OAIConfig) FieldMapping() metadata.FieldMapping {
	if len(c.FieldMappings) == 0 {
		return metadata.DefaultFieldMapping()
	}
	mapping := make(metadata.FieldMapping, len(c.FieldMappings))
	for field, properties := range c.FieldMappings {
		mapping[field] = append([]string(nil), properties...)
	}
	return mapping
}

// SetSources converts the configured set sources for the indexer.
func (c OAIConfig) SetSources() []services.SetSource {
	sources := make([]services.SetSource, 0, len(c.Sets))
	for _, set := range c.Sets {
		sources = append(sources, services.SetSource{
			ViewDisplay:    set.ViewDisplay,
			SetID:          set.SetID,
			Label:          set.Label,
			EntityType:     set.EntityType,
			Bundle:         set.Bundle,
			PartitionField: set.PartitionField,
			PagerLimit:     set.PagerLimit,
		})
	}
	return sources
}

// Strategy resolves the record cache strategy applied on entity writes.
func (c IndexerConfig) Strategy() (services.CacheStrategy, error) {
	return services.ParseCacheStrategy(c.CacheStrategy)
}

// TracingSettings converts the tracing section.
func (c TracingConfig) TracingSettings() tracing.Config {
	return tracing.Config{
		Enabled:     c.Enabled,
		Endpoint:    c.Endpoint,
		Insecure:    c.Insecure,
		ServiceName: c.ServiceName,
		SampleRatio: c.SampleRatio,
	}
}
