package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/oaipmh/internal/models"
	"github.com/charlesng35/oaipmh/internal/oai"
)

var _ oai.RecordCache = (*RecordCacheService)(nil)

// RecordCacheService reads the record, set and member tables filled by the
// indexer. A record is exposed only while it has at least one member row.
type RecordCacheService struct {
	db *gorm.DB
}

// NewRecordCacheService constructs the record cache reader.
func NewRecordCacheService(db *gorm.DB) (*RecordCacheService, error) {
	if db == nil {
		return nil, errors.New("record cache service: db is required")
	}
	return &RecordCacheService{db: db}, nil
}

// EarliestDatestamp returns the oldest created time in the cache.
func (s *RecordCacheService) EarliestDatestamp(ctx context.Context) (time.Time, bool, error) {
	ctx = ensuredContext(ctx)

	var rec models.Record
	err := s.db.WithContext(ctx).Order("created ASC").Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("record cache service: earliest datestamp: %w", err)
	}
	return rec.Created.UTC(), true, nil
}

// Sets lists every set ordered by set id.
func (s *RecordCacheService) Sets(ctx context.Context) ([]oai.Set, error) {
	ctx = ensuredContext(ctx)

	var rows []models.Set
	if err := s.db.WithContext(ctx).Order("set_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("record cache service: list sets: %w", err)
	}

	sets := make([]oai.Set, 0, len(rows))
	for _, row := range rows {
		sets = append(sets, oai.Set{Spec: row.SetID, Name: row.Label, PagerLimit: row.PagerLimit})
	}
	return sets, nil
}

// CountRecords counts exposed records matching filter.
func (s *RecordCacheService) CountRecords(ctx context.Context, filter oai.RecordFilter) (int64, error) {
	ctx = ensuredContext(ctx)

	var count int64
	if err := s.exposed(ctx, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("record cache service: count records: %w", err)
	}
	return count, nil
}

// SelectRecords returns one page of exposed records ordered by entity type
// then entity id.
func (s *RecordCacheService) SelectRecords(ctx context.Context, filter oai.RecordFilter, offset, limit int) ([]oai.CachedRecord, error) {
	ctx = ensuredContext(ctx)

	q := s.exposed(ctx, filter).
		Order("oai_records.entity_type ASC").
		Order("oai_records.entity_id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.Record
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("record cache service: select records: %w", err)
	}

	out := make([]oai.CachedRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCachedRecord(row))
	}
	return out, nil
}

// SetSpecs returns the sorted set ids of each key.
func (s *RecordCacheService) SetSpecs(ctx context.Context, keys []oai.RecordKey) (map[oai.RecordKey][]string, error) {
	ctx = ensuredContext(ctx)
	out := make(map[oai.RecordKey][]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	byType := make(map[string][]string)
	for _, key := range keys {
		byType[key.EntityType] = append(byType[key.EntityType], key.EntityID)
	}

	for entityType, ids := range byType {
		var members []models.Member
		err := s.db.WithContext(ctx).
			Where("entity_type = ? AND entity_id IN ?", entityType, ids).
			Order("set_id ASC").
			Find(&members).Error
		if err != nil {
			return nil, fmt.Errorf("record cache service: set specs: %w", err)
		}
		for _, m := range members {
			key := oai.RecordKey{EntityType: m.EntityType, EntityID: m.EntityID}
			out[key] = append(out[key], m.SetID)
		}
	}
	return out, nil
}

// LookupRecord finds an exposed record.
func (s *RecordCacheService) LookupRecord(ctx context.Context, key oai.RecordKey) (oai.CachedRecord, bool, error) {
	ctx = ensuredContext(ctx)

	var row models.Record
	err := s.exposed(ctx, oai.RecordFilter{}).
		Where("oai_records.entity_type = ? AND oai_records.entity_id = ?", key.EntityType, key.EntityID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return oai.CachedRecord{}, false, nil
	}
	if err != nil {
		return oai.CachedRecord{}, false, fmt.Errorf("record cache service: lookup %s/%s: %w", key.EntityType, key.EntityID, err)
	}
	return toCachedRecord(row), true, nil
}

// exposed selects records with a member row, optionally in filter.Set, whose
// changed time lies inside the inclusive from/until bounds.
func (s *RecordCacheService) exposed(ctx context.Context, filter oai.RecordFilter) *gorm.DB {
	members := s.db.Model(&models.Member{}).
		Select("1").
		Where("oai_members.entity_type = oai_records.entity_type AND oai_members.entity_id = oai_records.entity_id")
	if filter.Set != "" {
		members = members.Where("oai_members.set_id = ?", filter.Set)
	}

	q := s.db.WithContext(ctx).Model(&models.Record{}).Where("EXISTS (?)", members)
	if filter.From != nil {
		q = q.Where("oai_records.changed >= ?", filter.From.UTC())
	}
	if filter.Until != nil {
		q = q.Where("oai_records.changed <= ?", filter.Until.UTC())
	}
	return q
}

func toCachedRecord(row models.Record) oai.CachedRecord {
	return oai.CachedRecord{
		RecordKey: oai.RecordKey{EntityType: row.EntityType, EntityID: row.EntityID},
		Created:   row.Created.UTC(),
		Changed:   row.Changed.UTC(),
	}
}
