package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/oaipmh/internal/models"
	"github.com/charlesng35/oaipmh/internal/monitoring"
	"github.com/charlesng35/oaipmh/pkg/logger"
)

var tracer = otel.Tracer("services")

const defaultIndexBatchSize = 100

// SetSource describes where set members come from. A source without a
// partition field yields one set; otherwise every distinct value v of the
// field yields the set "<entity_type>:<v>".
type SetSource struct {
	ViewDisplay    string
	SetID          string
	Label          string
	EntityType     string
	Bundle         string
	PartitionField string
	PagerLimit     int
}

// IndexResult summarises one rebuild.
type IndexResult struct {
	Generation     int64
	Sets           int
	Records        int
	Members        int
	RemovedSets    int64
	RemovedMembers int64
	RemovedRecords int64
}

// IndexerService rebuilds the record cache from the entity table.
type IndexerService struct {
	db       *gorm.DB
	entities *EntityService
	sources  []SetSource
	log      *zap.Logger
	now      func() time.Time
	strategy CacheStrategy

	mu sync.Mutex
}

// IndexerOption customises the indexer.
type IndexerOption func(*IndexerService)

// WithIndexerClock overrides the clock used for generations.
func WithIndexerClock(now func() time.Time) IndexerOption {
	return func(s *IndexerService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewIndexerService validates the set sources and constructs the indexer.
func NewIndexerService(db *gorm.DB, entities *EntityService, sources []SetSource, opts ...IndexerOption) (*IndexerService, error) {
	if db == nil {
		return nil, errors.New("indexer service: db is required")
	}
	if entities == nil {
		return nil, errors.New("indexer service: entity service is required")
	}

	seen := make(map[string]struct{}, len(sources))
	normalised := make([]SetSource, 0, len(sources))
	for i, src := range sources {
		src.ViewDisplay = strings.TrimSpace(src.ViewDisplay)
		src.SetID = strings.TrimSpace(src.SetID)
		src.EntityType = strings.TrimSpace(src.EntityType)
		src.Bundle = strings.TrimSpace(src.Bundle)
		src.PartitionField = strings.TrimSpace(src.PartitionField)

		if src.ViewDisplay == "" {
			return nil, fmt.Errorf("indexer service: source %d: view_display is required", i)
		}
		if _, dup := seen[src.ViewDisplay]; dup {
			return nil, fmt.Errorf("indexer service: duplicate source %q", src.ViewDisplay)
		}
		seen[src.ViewDisplay] = struct{}{}
		if src.EntityType == "" {
			return nil, fmt.Errorf("indexer service: source %q: entity_type is required", src.ViewDisplay)
		}
		if src.PagerLimit < 0 {
			return nil, fmt.Errorf("indexer service: source %q: pager_limit must not be negative", src.ViewDisplay)
		}
		if src.PartitionField == "" && src.SetID == "" {
			src.SetID = src.ViewDisplay
		}
		if src.Label == "" {
			src.Label = src.SetID
		}
		normalised = append(normalised, src)
	}

	s := &IndexerService{
		db:       db,
		entities: entities,
		sources:  normalised,
		log:      logger.WithModule("indexer"),
		now:      time.Now,
		strategy: CacheStrategyConservative,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sources returns the configured set sources.
func (s *IndexerService) Sources() []SetSource {
	return append([]SetSource(nil), s.sources...)
}

// Rebuild refreshes every set from its source, then sweeps sets and members
// left over from older generations and records without members. Concurrent
// calls are serialised.
func (s *IndexerService) Rebuild(ctx context.Context) (IndexResult, error) {
	if s == nil {
		return IndexResult{}, errors.New("indexer service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Indexer.Service.Rebuild")
	defer span.End()

	result := IndexResult{Generation: s.now().UTC().UnixNano()}
	records := make(map[string]struct{})

	for _, src := range s.sources {
		stats, err := s.indexSource(ctx, src, result.Generation, records)
		if err != nil {
			span.RecordError(err)
			return result, err
		}
		result.Sets += stats.sets
		result.Members += stats.members
		s.log.Debug("indexed set source",
			zap.String("view_display", src.ViewDisplay),
			zap.Int("sets", stats.sets),
			zap.Int("members", stats.members),
		)
	}
	result.Records = len(records)

	if err := s.sweep(ctx, &result); err != nil {
		span.RecordError(err)
		return result, err
	}

	if err := s.publishSize(ctx); err != nil {
		s.log.Warn("failed to publish index size", zap.Error(err))
	}

	span.SetAttributes(
		attribute.Int("index.sets", result.Sets),
		attribute.Int("index.records", result.Records),
		attribute.Int("index.members", result.Members),
	)
	s.log.Info("record cache rebuilt",
		zap.Int("sets", result.Sets),
		zap.Int("records", result.Records),
		zap.Int("members", result.Members),
		zap.Int64("removed_sets", result.RemovedSets),
		zap.Int64("removed_members", result.RemovedMembers),
		zap.Int64("removed_records", result.RemovedRecords),
	)
	return result, nil
}

type sourceStats struct {
	sets    int
	members int
}

func (s *IndexerService) indexSource(ctx context.Context, src SetSource, generation int64, records map[string]struct{}) (sourceStats, error) {
	batch := src.PagerLimit
	if batch <= 0 {
		batch = defaultIndexBatchSize
	}

	var stats sourceStats
	sets := make(map[string]struct{})

	for offset := 0; ; offset += batch {
		entities, err := s.entities.List(ctx, EntityFilter{Type: src.EntityType, Bundle: src.Bundle}, offset, batch)
		if err != nil {
			return stats, fmt.Errorf("indexer service: source %q: %w", src.ViewDisplay, err)
		}

		for _, entity := range entities {
			setIDs := memberSets(src, entity)
			if len(setIDs) == 0 {
				continue
			}
			if err := s.upsertRecord(ctx, entity); err != nil {
				return stats, err
			}
			records[entity.Type+"\x00"+entity.ID] = struct{}{}

			for _, setID := range setIDs {
				if err := s.upsertMember(ctx, entity, setID, generation); err != nil {
					return stats, err
				}
				stats.members++
				sets[setID] = struct{}{}
			}
		}

		if len(entities) < batch {
			break
		}
	}

	ids := make([]string, 0, len(sets))
	for id := range sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, setID := range ids {
		label, err := s.setLabel(ctx, src, setID)
		if err != nil {
			return stats, err
		}
		if err := s.upsertSet(ctx, src, setID, label, generation); err != nil {
			return stats, err
		}
	}
	stats.sets = len(ids)
	return stats, nil
}

// memberSets lists the sets an entity belongs to for src.
func memberSets(src SetSource, entity models.Entity) []string {
	if src.PartitionField == "" {
		return []string{src.SetID}
	}
	values := entity.FieldValues()[src.PartitionField]
	var ids []string
	for _, value := range normaliseIDs(values) {
		ids = append(ids, src.EntityType+":"+value)
	}
	return ids
}

func (s *IndexerService) setLabel(ctx context.Context, src SetSource, setID string) (string, error) {
	if src.PartitionField == "" {
		return src.Label, nil
	}
	value := strings.TrimPrefix(setID, src.EntityType+":")
	label, found, err := s.entities.Label(ctx, src.EntityType, value)
	if err != nil {
		return "", fmt.Errorf("indexer service: label for set %q: %w", setID, err)
	}
	if !found || strings.TrimSpace(label) == "" {
		return value, nil
	}
	return label, nil
}

func (s *IndexerService) upsertRecord(ctx context.Context, entity models.Entity) error {
	changed := entity.Changed
	if changed.IsZero() {
		changed = entity.Created
	}
	record := models.Record{
		EntityType: entity.Type,
		EntityID:   entity.ID,
		Created:    entity.Created.UTC().Truncate(time.Second),
		Changed:    changed.UTC().Truncate(time.Second),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"created", "changed"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("indexer service: upsert record %s/%s: %w", entity.Type, entity.ID, err)
	}
	return nil
}

func (s *IndexerService) upsertMember(ctx context.Context, entity models.Entity, setID string, generation int64) error {
	member := models.Member{
		EntityType: entity.Type,
		EntityID:   entity.ID,
		SetID:      setID,
		Generation: generation,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "set_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"generation"}),
		}).
		Create(&member).Error
	if err != nil {
		return fmt.Errorf("indexer service: upsert member %s/%s in %q: %w", entity.Type, entity.ID, setID, err)
	}
	return nil
}

func (s *IndexerService) upsertSet(ctx context.Context, src SetSource, setID, label string, generation int64) error {
	set := models.Set{
		SetID:       setID,
		EntityType:  src.EntityType,
		Label:       label,
		PagerLimit:  src.PagerLimit,
		ViewDisplay: src.ViewDisplay,
		Generation:  generation,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "set_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"entity_type", "label", "pager_limit", "view_display", "generation", "updated_at"}),
		}).
		Create(&set).Error
	if err != nil {
		return fmt.Errorf("indexer service: upsert set %q: %w", setID, err)
	}
	return nil
}

func (s *IndexerService) sweep(ctx context.Context, result *IndexResult) error {
	db := s.db.WithContext(ctx)

	members := db.Where("generation < ?", result.Generation).Delete(&models.Member{})
	if members.Error != nil {
		return fmt.Errorf("indexer service: sweep members: %w", members.Error)
	}
	result.RemovedMembers = members.RowsAffected

	sets := db.Where("generation < ?", result.Generation).Delete(&models.Set{})
	if sets.Error != nil {
		return fmt.Errorf("indexer service: sweep sets: %w", sets.Error)
	}
	result.RemovedSets = sets.RowsAffected

	orphans := db.
		Where("NOT EXISTS (?)", s.db.Model(&models.Member{}).
			Select("1").
			Where("oai_members.entity_type = oai_records.entity_type AND oai_members.entity_id = oai_records.entity_id")).
		Delete(&models.Record{})
	if orphans.Error != nil {
		return fmt.Errorf("indexer service: sweep records: %w", orphans.Error)
	}
	result.RemovedRecords = orphans.RowsAffected
	return nil
}

func (s *IndexerService) publishSize(ctx context.Context) error {
	var records, sets int64
	if err := s.db.WithContext(ctx).Model(&models.Record{}).Count(&records).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&models.Set{}).Count(&sets).Error; err != nil {
		return err
	}
	monitoring.SetIndexSize(records, sets)
	return nil
}
