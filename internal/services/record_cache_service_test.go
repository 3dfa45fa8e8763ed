package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/oaipmh/internal/database/testutil"
	"github.com/charlesng35/oaipmh/internal/models"
	"github.com/charlesng35/oaipmh/internal/oai"
)

func cacheDay(d int) time.Time {
	return time.Date(2024, 2, d, 9, 30, 0, 0, time.UTC)
}

func seedRecordCache(t *testing.T, db *gorm.DB) {
	t.Helper()

	sets := []models.Set{
		{SetID: "articles", EntityType: "node", Label: "Articles", PagerLimit: 10, ViewDisplay: "articles"},
		{SetID: "books", EntityType: "node", Label: "Books", PagerLimit: 0, ViewDisplay: "books"},
	}
	require.NoError(t, db.Create(&sets).Error)

	records := []models.Record{
		{EntityType: "node", EntityID: "1", Created: cacheDay(1), Changed: cacheDay(5)},
		{EntityType: "node", EntityID: "2", Created: cacheDay(2), Changed: cacheDay(6)},
		{EntityType: "node", EntityID: "3", Created: cacheDay(3), Changed: cacheDay(7)},
		{EntityType: "media", EntityID: "9", Created: cacheDay(4), Changed: cacheDay(8)},
		// cached but not a member of any set
		{EntityType: "node", EntityID: "4", Created: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Changed: cacheDay(9)},
	}
	require.NoError(t, db.Create(&records).Error)

	members := []models.Member{
		{EntityType: "node", EntityID: "1", SetID: "articles"},
		{EntityType: "node", EntityID: "1", SetID: "books"},
		{EntityType: "node", EntityID: "2", SetID: "articles"},
		{EntityType: "node", EntityID: "3", SetID: "books"},
		{EntityType: "media", EntityID: "9", SetID: "books"},
	}
	require.NoError(t, db.Create(&members).Error)
}

func newRecordCache(t *testing.T) *RecordCacheService {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedRecordCache(t, db)

	svc, err := NewRecordCacheService(db)
	require.NoError(t, err)
	return svc
}

func recordIDs(records []oai.CachedRecord) []string {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.EntityType + "-" + rec.EntityID
	}
	return ids
}

func TestNewRecordCacheServiceRequiresDB(t *testing.T) {
	_, err := NewRecordCacheService(nil)
	require.Error(t, err)
}

func TestRecordCacheService_EarliestDatestamp(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewRecordCacheService(db)
	require.NoError(t, err)

	_, ok, err := svc.EarliestDatestamp(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	seedRecordCache(t, db)
	earliest, ok, err := svc.EarliestDatestamp(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, earliest.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)), earliest)
}

func TestRecordCacheService_Sets(t *testing.T) {
	svc := newRecordCache(t)

	sets, err := svc.Sets(context.Background())
	require.NoError(t, err)
	require.Equal(t, []oai.Set{
		{Spec: "articles", Name: "Articles", PagerLimit: 10},
		{Spec: "books", Name: "Books", PagerLimit: 0},
	}, sets)
}

func TestRecordCacheService_SelectOnlyExposedRecords(t *testing.T) {
	svc := newRecordCache(t)
	ctx := context.Background()

	count, err := svc.CountRecords(ctx, oai.RecordFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 4, count)

	all, err := svc.SelectRecords(ctx, oai.RecordFilter{}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"media-9", "node-1", "node-2", "node-3"}, recordIDs(all))

	page, err := svc.SelectRecords(ctx, oai.RecordFilter{}, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"node-1", "node-2"}, recordIDs(page))

	require.True(t, all[1].Changed.Equal(cacheDay(5)))
}

func TestRecordCacheService_FilterBySetAndDates(t *testing.T) {
	svc := newRecordCache(t)
	ctx := context.Background()

	books, err := svc.SelectRecords(ctx, oai.RecordFilter{Set: "books"}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"media-9", "node-1", "node-3"}, recordIDs(books))

	from, until := cacheDay(6), cacheDay(7)
	ranged, err := svc.SelectRecords(ctx, oai.RecordFilter{From: &from, Until: &until}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"node-2", "node-3"}, recordIDs(ranged))

	count, err := svc.CountRecords(ctx, oai.RecordFilter{Set: "articles", From: &from})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	none, err := svc.SelectRecords(ctx, oai.RecordFilter{Set: "missing"}, 0, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRecordCacheService_SetSpecs(t *testing.T) {
	svc := newRecordCache(t)

	specs, err := svc.SetSpecs(context.Background(), []oai.RecordKey{
		{EntityType: "node", EntityID: "1"},
		{EntityType: "media", EntityID: "9"},
		{EntityType: "node", EntityID: "4"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"articles", "books"}, specs[oai.RecordKey{EntityType: "node", EntityID: "1"}])
	require.Equal(t, []string{"books"}, specs[oai.RecordKey{EntityType: "media", EntityID: "9"}])
	require.Empty(t, specs[oai.RecordKey{EntityType: "node", EntityID: "4"}])

	empty, err := svc.SetSpecs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRecordCacheService_LookupRecord(t *testing.T) {
	svc := newRecordCache(t)
	ctx := context.Background()

	rec, ok, err := svc.LookupRecord(ctx, oai.RecordKey{EntityType: "node", EntityID: "2"})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.Created.Equal(cacheDay(2)))

	_, ok, err = svc.LookupRecord(ctx, oai.RecordKey{EntityType: "node", EntityID: "4"})
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = svc.LookupRecord(ctx, oai.RecordKey{EntityType: "node", EntityID: "404"})
	require.NoError(t, err)
	require.False(t, ok)
}
