package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/oaipmh/internal/monitoring"
	"github.com/charlesng35/oaipmh/internal/services"
	"github.com/charlesng35/oaipmh/pkg/logger"
)

// Job names reported to monitoring.
const (
	JobIndexRebuild = "index_rebuild"
	JobTokenPurge   = "token_purge"
	JobCachePurge   = "cache_purge"
)

const (
	defaultIndexSpec      = "@hourly"
	defaultTokenSpec      = "@every 15m"
	defaultCachePurgeSpec = "@hourly"
)

// Indexer rebuilds the record cache.
type Indexer interface {
	Rebuild(ctx context.Context) (services.IndexResult, error)
}

// Purger removes rows that expired before now.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Cleaner coordinates background jobs: rebuilding the record cache, purging
// expired resumption tokens and purging expired cache entries.
type Cleaner struct {
	indexer Indexer
	tokens  Purger
	cache   Purger
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	indexSchedule string
	tokenSchedule string
	cacheSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for purge comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithIndexer enables the record cache rebuild job.
func WithIndexer(indexer Indexer, spec string) Option {
	return func(cleaner *Cleaner) {
		cleaner.indexer = indexer
		if spec != "" {
			cleaner.indexSchedule = spec
		}
	}
}

// WithTokenPurge enables the resumption token purge job.
func WithTokenPurge(purger Purger, spec string) Option {
	return func(cleaner *Cleaner) {
		cleaner.tokens = purger
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithCachePurge enables the cache entry purge job.
func WithCachePurge(purger Purger, spec string) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = purger
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs without a collaborator are skipped.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		now:           time.Now,
		indexSchedule: defaultIndexSpec,
		tokenSchedule: defaultTokenSpec,
		cacheSchedule: defaultCachePurgeSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.indexer != nil || c.tokens != nil || c.cache != nil
}

// Start registers the enabled jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	jobs := []struct {
		enabled bool
		spec    string
		run     func(context.Context) error
	}{
		{c.indexer != nil, c.indexSchedule, c.RebuildIndex},
		{c.tokens != nil, c.tokenSchedule, c.PurgeTokens},
		{c.cache != nil, c.cacheSchedule, c.PurgeCache},
	}
	for _, job := range jobs {
		if !job.enabled {
			continue
		}
		run := job.run
		if _, err := c.cron.AddFunc(job.spec, func() {
			_ = run(context.Background())
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.indexer != nil {
		errs = multierr.Append(errs, c.RebuildIndex(ctx))
	}
	if c.tokens != nil {
		errs = multierr.Append(errs, c.PurgeTokens(ctx))
	}
	if c.cache != nil {
		errs = multierr.Append(errs, c.PurgeCache(ctx))
	}
	return errs
}

// RebuildIndex runs the record cache rebuild and records the outcome.
func (c *Cleaner) RebuildIndex(ctx context.Context) error {
	if c.indexer == nil {
		return nil
	}
	start := time.Now()
	result, err := c.indexer.Rebuild(ctx)
	c.record(JobIndexRebuild, err, time.Since(start),
		zap.Int("sets", result.Sets),
		zap.Int("records", result.Records),
	)
	return err
}

// PurgeTokens deletes expired resumption tokens.
func (c *Cleaner) PurgeTokens(ctx context.Context) error {
	return c.purge(ctx, JobTokenPurge, c.tokens)
}

// PurgeCache deletes expired cache entries.
func (c *Cleaner) PurgeCache(ctx context.Context) error {
	return c.purge(ctx, JobCachePurge, c.cache)
}

func (c *Cleaner) purge(ctx context.Context, job string, purger Purger) error {
	if purger == nil {
		return nil
	}
	start := time.Now()
	removed, err := purger.PurgeExpired(ctx, c.now())
	c.record(job, err, time.Since(start), zap.Int64("removed", removed))
	return err
}

func (c *Cleaner) record(job string, err error, duration time.Duration, fields ...zap.Field) {
	if err != nil {
		monitoring.RecordMaintenanceRun(job, "failure", err.Error(), duration)
		c.log.Warn("maintenance job failed", append(fields, zap.String("job", job), zap.Error(err))...)
		return
	}
	monitoring.RecordMaintenanceRun(job, monitoring.ResultSuccess, "", duration)
	c.log.Debug("maintenance job finished", append(fields, zap.String("job", job), zap.Duration("duration", duration))...)
}
