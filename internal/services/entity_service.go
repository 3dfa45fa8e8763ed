package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/oaipmh/internal/metadata"
	"github.com/charlesng35/oaipmh/internal/models"
	"github.com/charlesng35/oaipmh/internal/oai"
)

var _ oai.EntityLoader = (*EntityService)(nil)

// EntityService reads and writes the repository entity table.
type EntityService struct {
	db    *gorm.DB
	hooks []EntityChangeHook
}

// NewEntityService constructs an entity service once a database handle is supplied.
func NewEntityService(db *gorm.DB) (*EntityService, error) {
	if db == nil {
		return nil, errors.New("entity service: db is required")
	}
	return &EntityService{db: db}, nil
}

// OnChange registers a hook run after every successful Upsert or Delete.
func (s *EntityService) OnChange(hook EntityChangeHook) {
	if hook != nil {
		s.hooks = append(s.hooks, hook)
	}
}

func (s *EntityService) notify(ctx context.Context, entityType, entityID string, op EntityOp) error {
	var errs error
	for _, hook := range s.hooks {
		if err := hook(ctx, entityType, entityID, op); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return fmt.Errorf("entity service: %s %s/%s: refresh record cache: %w", op, entityType, entityID, errs)
	}
	return nil
}

// EntityFilter narrows List. Empty fields match everything.
type EntityFilter struct {
	Type   string
	Bundle string
}

// UpsertEntityInput describes an entity written by an import.
type UpsertEntityInput struct {
	Type      string
	ID        string
	Bundle    string
	Label     string
	Published bool
	Fields    map[string][]string
	Created   time.Time
	Changed   time.Time
}

// LoadEntity returns a published entity, or metadata.ErrEntityNotFound.
func (s *EntityService) LoadEntity(ctx context.Context, entityType, entityID string) (*metadata.Entity, error) {
	ctx = ensuredContext(ctx)

	var row models.Entity
	err := s.db.WithContext(ctx).
		Where("type = ? AND id = ? AND published = ?", entityType, entityID, true).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, metadata.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entity service: load %s/%s: %w", entityType, entityID, err)
	}
	return ToMetadataEntity(row), nil
}

// List pages through published entities ordered by type then id. A limit of
// zero returns every match.
func (s *EntityService) List(ctx context.Context, filter EntityFilter, offset, limit int) ([]models.Entity, error) {
	ctx = ensuredContext(ctx)

	q := s.db.WithContext(ctx).Where("published = ?", true)
	if t := strings.TrimSpace(filter.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if b := strings.TrimSpace(filter.Bundle); b != "" {
		q = q.Where("bundle = ?", b)
	}
	q = q.Order("type ASC").Order("id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.Entity
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("entity service: list: %w", err)
	}
	return rows, nil
}

// Label returns the label of any entity, published or not.
func (s *EntityService) Label(ctx context.Context, entityType, entityID string) (string, bool, error) {
	ctx = ensuredContext(ctx)

	var row models.Entity
	err := s.db.WithContext(ctx).
		Select("label").
		Where("type = ? AND id = ?", entityType, entityID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("entity service: label %s/%s: %w", entityType, entityID, err)
	}
	return row.Label, true, nil
}

// Upsert creates or replaces an entity.
func (s *EntityService) Upsert(ctx context.Context, input UpsertEntityInput) (*models.Entity, error) {
	ctx = ensuredContext(ctx)

	entityType := strings.TrimSpace(input.Type)
	entityID := strings.TrimSpace(input.ID)
	if entityType == "" || entityID == "" {
		return nil, errors.New("entity service: type and id are required")
	}
	if strings.Contains(entityType, "-") {
		return nil, fmt.Errorf("entity service: entity type %q must not contain '-'", entityType)
	}

	created := input.Created.UTC()
	changed := input.Changed.UTC()
	if changed.IsZero() {
		changed = created
	}

	row := models.Entity{
		Type:      entityType,
		ID:        entityID,
		Bundle:    strings.TrimSpace(input.Bundle),
		Label:     input.Label,
		Published: input.Published,
		Fields:    datatypes.NewJSONType(models.EntityFields(input.Fields)),
		Created:   created,
		Changed:   changed,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"bundle", "label", "published", "fields", "created", "changed"}),
		}).
		Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("entity service: upsert %s/%s: %w", entityType, entityID, err)
	}
	if err := s.notify(ctx, entityType, entityID, EntityOpSave); err != nil {
		return &row, err
	}
	return &row, nil
}

// Delete removes an entity. Deleting a missing entity is not an error.
func (s *EntityService) Delete(ctx context.Context, entityType, entityID string) error {
	ctx = ensuredContext(ctx)
	err := s.db.WithContext(ctx).
		Where("type = ? AND id = ?", entityType, entityID).
		Delete(&models.Entity{}).Error
	if err != nil {
		return fmt.Errorf("entity service: delete %s/%s: %w", entityType, entityID, err)
	}
	return s.notify(ctx, entityType, entityID, EntityOpDelete)
}

// ToMetadataEntity converts a stored entity for metadata plugins.
func ToMetadataEntity(row models.Entity) *metadata.Entity {
	return &metadata.Entity{
		Type:    row.Type,
		ID:      row.ID,
		Bundle:  row.Bundle,
		Label:   row.Label,
		Fields:  row.FieldValues(),
		Created: row.Created.UTC(),
		Changed: row.Changed.UTC(),
	}
}
