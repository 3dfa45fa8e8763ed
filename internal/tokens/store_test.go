package tokens

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/oaipmh/internal/cache"
	"github.com/charlesng35/oaipmh/internal/database/testutil"
)

type purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	dbStore, err := NewDatabaseStore(testutil.MustOpenTestDB(t, testutil.WithSeedData()))
	require.NoError(t, err)

	cacheStore, err := NewCacheStore(cache.NewMemoryStore())
	require.NoError(t, err)

	return map[string]Store{
		"database": dbStore,
		"cache":    cacheStore,
	}
}

func sampleToken(now time.Time) Token {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Token{
		Verb:             "ListRecords",
		MetadataPrefix:   "oai_dc",
		Set:              "article",
		Cursor:           20,
		From:             &from,
		CompleteListSize: 57,
		ExpiresAt:        now.Add(time.Hour).Truncate(time.Second),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := store.NextID(ctx)
			require.NoError(t, err)
			require.Equal(t, "1", id)

			want := sampleToken(now)
			require.NoError(t, store.Put(ctx, id, want))

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, id, got.ID)
			require.Equal(t, want.Verb, got.Verb)
			require.Equal(t, want.MetadataPrefix, got.MetadataPrefix)
			require.Equal(t, want.Set, got.Set)
			require.Equal(t, want.Cursor, got.Cursor)
			require.Equal(t, want.CompleteListSize, got.CompleteListSize)
			require.NotNil(t, got.From)
			require.True(t, want.From.Equal(*got.From))
			require.Nil(t, got.Until)
			require.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

			require.NoError(t, store.Delete(ctx, id))
			_, err = store.Get(ctx, id)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreNextIDIsMonotonic(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, want := range []string{"1", "2", "3"} {
				id, err := store.NextID(ctx)
				require.NoError(t, err)
				require.Equal(t, want, id)
			}
		})
	}
}

func TestStoreGetUnknown(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "404")
			require.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, store.Delete(context.Background(), "404"))
		})
	}
}

func TestStorePutRequiresID(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Put(context.Background(), " ", sampleToken(time.Now()))
			require.Error(t, err)
		})
	}
}

func TestCacheStoreNextIDConcurrent(t *testing.T) {
	store, err := NewCacheStore(cache.NewMemoryStore())
	require.NoError(t, err)

	const workers = 16
	ids := make(chan string, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.NextID(context.Background())
			if err != nil {
				errs <- err
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)
	require.Empty(t, errs)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, workers)
}

func TestCacheStoreDropsExpiredTokens(t *testing.T) {
	backend := cache.NewMemoryStore()
	store, err := NewCacheStore(backend)
	require.NoError(t, err)

	now := time.Now()
	token := sampleToken(now)
	token.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, store.Put(context.Background(), "9", token))

	got, err := store.Get(context.Background(), "9")
	if err == nil {
		require.True(t, got.Expired(now))
	} else {
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	store, err := NewDatabaseStore(testutil.MustOpenTestDB(t, testutil.WithSeedData()))
	require.NoError(t, err)
	var _ purger = store

	ctx := context.Background()
	now := time.Now().UTC()

	stale := sampleToken(now)
	stale.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, store.Put(ctx, "1", stale))
	require.NoError(t, store.Put(ctx, "2", sampleToken(now)))

	purged, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	_, err = store.Get(ctx, "1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "2")
	require.NoError(t, err)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	require.True(t, Token{ExpiresAt: now}.Expired(now))
	require.True(t, Token{ExpiresAt: now.Add(-time.Second)}.Expired(now))
	require.False(t, Token{ExpiresAt: now.Add(time.Second)}.Expired(now))
}

func TestConstructorsRejectNil(t *testing.T) {
	_, err := NewDatabaseStore(nil)
	require.Error(t, err)
	_, err = NewCacheStore(nil)
	require.Error(t, err)
}
