package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/oaipmh/internal/cache"
	testutil "github.com/charlesng35/oaipmh/internal/database/testutil"
	"github.com/charlesng35/oaipmh/internal/monitoring"
	"github.com/charlesng35/oaipmh/internal/services"
	"github.com/charlesng35/oaipmh/internal/tokens"
)

type stubIndexer struct {
	calls atomic.Int32
	err   error
}

func (s *stubIndexer) Rebuild(context.Context) (services.IndexResult, error) {
	s.calls.Add(1)
	return services.IndexResult{Sets: 1, Records: 2}, s.err
}

type stubPurger struct {
	calls atomic.Int32
	seen  atomic.Value
	err   error
}

func (s *stubPurger) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.calls.Add(1)
	s.seen.Store(now)
	return 3, s.err
}

func jobRuns(job string) uint64 {
	for _, entry := range monitoring.Snapshot().Maintenance.Jobs {
		if entry.Job == job {
			return entry.TotalRuns
		}
	}
	return 0
}

func TestCleanerRunOnce(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	indexer := &stubIndexer{}
	tokenPurger := &stubPurger{}
	cachePurger := &stubPurger{}

	mod, err := monitoring.NewModule(monitoring.Options{})
	require.NoError(t, err)
	monitoring.SetModule(mod)

	cleaner := NewCleaner(
		WithNow(func() time.Time { return now }),
		WithIndexer(indexer, ""),
		WithTokenPurge(tokenPurger, ""),
		WithCachePurge(cachePurger, ""),
	)
	require.NoError(t, cleaner.RunOnce(context.Background()))

	require.EqualValues(t, 1, indexer.calls.Load())
	require.EqualValues(t, 1, tokenPurger.calls.Load())
	require.EqualValues(t, 1, cachePurger.calls.Load())
	require.Equal(t, now, tokenPurger.seen.Load())
	require.EqualValues(t, 1, jobRuns(JobTokenPurge))
	require.EqualValues(t, 1, jobRuns(JobIndexRebuild))
}

func TestCleanerRunOnceAggregatesErrors(t *testing.T) {
	cleaner := NewCleaner(
		WithIndexer(&stubIndexer{err: errors.New("index broken")}, ""),
		WithTokenPurge(&stubPurger{err: errors.New("tokens broken")}, ""),
		WithCachePurge(&stubPurger{}, ""),
	)

	err := cleaner.RunOnce(context.Background())
	require.ErrorContains(t, err, "index broken")
	require.ErrorContains(t, err, "tokens broken")
}

func TestCleanerWithoutJobsDoesNotStart(t *testing.T) {
	cleaner := NewCleaner()
	require.NoError(t, cleaner.Start())
	require.NoError(t, cleaner.RunOnce(context.Background()))
	<-cleaner.Stop().Done()
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	c := cron.New(cron.WithLogger(cron.DiscardLogger))
	cleaner := NewCleaner(
		WithCron(c),
		WithIndexer(&stubIndexer{}, "@every 1h"),
		WithTokenPurge(&stubPurger{}, "@every 5m"),
	)
	require.NoError(t, cleaner.Start())
	t.Cleanup(func() { <-cleaner.Stop().Done() })

	require.Len(t, c.Entries(), 2)
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	cleaner := NewCleaner(WithTokenPurge(&stubPurger{}, "every now and then"))
	require.Error(t, cleaner.Start())
}

func TestCleanerPurgesDatabaseRows(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	ctx := context.Background()

	tokenStore, err := tokens.NewDatabaseStore(db)
	require.NoError(t, err)
	require.NoError(t, tokenStore.Put(ctx, "1", tokens.Token{Verb: "ListRecords", MetadataPrefix: "oai_dc", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, tokenStore.Put(ctx, "2", tokens.Token{Verb: "ListRecords", MetadataPrefix: "oai_dc", ExpiresAt: now.Add(time.Hour)}))

	cacheStore := cache.NewDatabaseStore(db)

	cleaner := NewCleaner(
		WithNow(func() time.Time { return now }),
		WithTokenPurge(tokenStore, ""),
		WithCachePurge(cacheStore, ""),
	)
	require.NoError(t, cleaner.RunOnce(ctx))

	_, err = tokenStore.Get(ctx, "1")
	require.ErrorIs(t, err, tokens.ErrNotFound)
	_, err = tokenStore.Get(ctx, "2")
	require.NoError(t, err)
}
