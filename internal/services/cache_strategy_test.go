package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/oaipmh/internal/models"
)

func TestParseCacheStrategy(t *testing.T) {
	for name, want := range map[string]CacheStrategy{
		"":             CacheStrategyConservative,
		"conservative": CacheStrategyConservative,
		" Liberal ":    CacheStrategyLiberal,
		"liberal":      CacheStrategyLiberal,
	} {
		got, err := ParseCacheStrategy(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}

	_, err := ParseCacheStrategy("aggressive")
	require.ErrorContains(t, err, "unknown cache strategy")
}

func TestIndexerService_RemoveRecord(t *testing.T) {
	f := newIndexerFixture(t)
	ctx := context.Background()
	f.entity(t, UpsertEntityInput{Type: "node", ID: "1", Label: "A", Published: true,
		Fields: map[string][]string{"field_topic": {"physics", "chemistry"}}})
	f.entity(t, UpsertEntityInput{Type: "node", ID: "2", Label: "B", Published: true,
		Fields: map[string][]string{"field_topic": {"chemistry"}}})

	svc := f.indexer(t, SetSource{ViewDisplay: "by_topic", EntityType: "node", PartitionField: "field_topic"})
	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	removed, err := svc.RemoveRecord(ctx, "node", "1")
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	require.Equal(t, map[string][]string{"node:chemistry": {"node-2"}}, f.members(t))

	var sets []models.Set
	require.NoError(t, f.db.Order("set_id").Find(&sets).Error)
	require.Len(t, sets, 1)
	require.Equal(t, "node:chemistry", sets[0].SetID)

	var records int64
	require.NoError(t, f.db.Model(&models.Record{}).Count(&records).Error)
	require.EqualValues(t, 1, records)

	removed, err = svc.RemoveRecord(ctx, "node", "1")
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestIndexerService_DeleteHookRemovesRecord(t *testing.T) {
	f := newIndexerFixture(t)
	ctx := context.Background()
	f.entity(t, UpsertEntityInput{Type: "node", ID: "1", Label: "A", Published: true})
	f.entity(t, UpsertEntityInput{Type: "node", ID: "2", Label: "B", Published: true})

	svc := f.indexer(t, SetSource{ViewDisplay: "all", EntityType: "node"})
	f.entities.OnChange(svc.HandleEntityChange)
	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	require.NoError(t, f.entities.Delete(ctx, "node", "2"))
	require.Equal(t, map[string][]string{"all": {"node-1"}}, f.members(t))

	var records int64
	require.NoError(t, f.db.Model(&models.Record{}).Where("entity_id = ?", "2").Count(&records).Error)
	require.Zero(t, records)
}

func TestIndexerService_SaveHookFollowsStrategy(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	changed := created.Add(72 * time.Hour)

	cases := []struct {
		strategy CacheStrategy
		want     time.Time
	}{
		{strategy: CacheStrategyConservative, want: created},
		{strategy: CacheStrategyLiberal, want: changed},
	}

	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			f := newIndexerFixture(t)
			ctx := context.Background()
			f.entity(t, UpsertEntityInput{Type: "node", ID: "1", Label: "One", Published: true, Created: created})

			svc, err := NewIndexerService(f.db, f.entities, []SetSource{{ViewDisplay: "all", EntityType: "node"}},
				WithCacheStrategy(tc.strategy))
			require.NoError(t, err)
			require.Equal(t, tc.strategy, svc.Strategy())
			f.entities.OnChange(svc.HandleEntityChange)
			_, err = svc.Rebuild(ctx)
			require.NoError(t, err)

			f.entity(t, UpsertEntityInput{Type: "node", ID: "1", Label: "One", Published: true, Created: created, Changed: changed})

			var record models.Record
			require.NoError(t, f.db.Take(&record, "entity_type = ? AND entity_id = ?", "node", "1").Error)
			require.True(t, record.Changed.Equal(tc.want), "changed = %s", record.Changed)
		})
	}
}

func TestIndexerService_LiberalIgnoresUncachedEntities(t *testing.T) {
	f := newIndexerFixture(t)
	ctx := context.Background()

	svc, err := NewIndexerService(f.db, f.entities, []SetSource{{ViewDisplay: "all", EntityType: "node"}},
		WithCacheStrategy(CacheStrategyLiberal))
	require.NoError(t, err)
	f.entities.OnChange(svc.HandleEntityChange)

	f.entity(t, UpsertEntityInput{Type: "node", ID: "1", Label: "New", Published: true})
	f.entity(t, UpsertEntityInput{Type: "media", ID: "9", Label: "Other", Published: true})

	var records int64
	require.NoError(t, f.db.WithContext(ctx).Model(&models.Record{}).Count(&records).Error)
	require.Zero(t, records)
}

func TestEntityService_HookErrorsAreReturned(t *testing.T) {
	svc := newEntityService(t)
	ctx := context.Background()

	var seen []EntityOp
	svc.OnChange(func(_ context.Context, entityType, entityID string, op EntityOp) error {
		seen = append(seen, op)
		if op == EntityOpDelete {
			return errors.New("cache offline")
		}
		return nil
	})

	_, err := svc.Upsert(ctx, UpsertEntityInput{Type: "node", ID: "1", Label: "One", Published: true})
	require.NoError(t, err)

	err = svc.Delete(ctx, "node", "1")
	require.ErrorContains(t, err, "cache offline")
	require.Equal(t, []EntityOp{EntityOpSave, EntityOpDelete}, seen)

	_, err = svc.LoadEntity(ctx, "node", "1")
	require.Error(t, err)
}
