package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/oaipmh/internal/models"
)

// CacheStrategy selects how entity writes refresh the record cache between
// scheduled rebuilds.
type CacheStrategy string

const (
	// CacheStrategyConservative drops deleted entities and leaves updates to
	// the next rebuild.
	CacheStrategyConservative CacheStrategy = "conservative"
	// CacheStrategyLiberal also rebuilds when a saved entity is already
	// cached as a record or names a partitioned set.
	CacheStrategyLiberal CacheStrategy = "liberal"
)

// ParseCacheStrategy maps a configured name to a strategy. Empty selects the
// conservative strategy.
func ParseCacheStrategy(name string) (CacheStrategy, error) {
	switch CacheStrategy(strings.ToLower(strings.TrimSpace(name))) {
	case "", CacheStrategyConservative:
		return CacheStrategyConservative, nil
	case CacheStrategyLiberal:
		return CacheStrategyLiberal, nil
	default:
		return "", fmt.Errorf("unknown cache strategy %q", name)
	}
}

// EntityOp names the write an entity change hook observes.
type EntityOp string

const (
	EntityOpSave   EntityOp = "save"
	EntityOpDelete EntityOp = "delete"
)

// EntityChangeHook runs after an entity write commits.
type EntityChangeHook func(ctx context.Context, entityType, entityID string, op EntityOp) error

// WithCacheStrategy sets the strategy used by HandleEntityChange.
func WithCacheStrategy(strategy CacheStrategy) IndexerOption {
	return func(s *IndexerService) {
		if strategy != "" {
			s.strategy = strategy
		}
	}
}

// Strategy reports the configured cache strategy.
func (s *IndexerService) Strategy() CacheStrategy {
	return s.strategy
}

// HandleEntityChange applies the cache strategy to one entity write. It has
// the EntityChangeHook signature.
func (s *IndexerService) HandleEntityChange(ctx context.Context, entityType, entityID string, op EntityOp) error {
	if s == nil {
		return errors.New("indexer service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	switch op {
	case EntityOpDelete:
		_, err := s.RemoveRecord(ctx, entityType, entityID)
		return err
	case EntityOpSave:
		if s.strategy != CacheStrategyLiberal || !s.exposesType(entityType) {
			return nil
		}
		cached, err := s.isCached(ctx, entityType, entityID)
		if err != nil || !cached {
			return err
		}
		s.log.Debug("cached entity changed, rebuilding",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
		)
		_, err = s.Rebuild(ctx)
		return err
	default:
		return fmt.Errorf("indexer service: unknown entity op %q", op)
	}
}

// RemoveRecord drops one record with its memberships and any set left without
// members. It returns the number of record rows removed.
func (s *IndexerService) RemoveRecord(ctx context.Context, entityType, entityID string) (int64, error) {
	if s == nil {
		return 0, errors.New("indexer service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Indexer.Service.RemoveRecord")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity.type", entityType),
		attribute.String("entity.id", entityID),
	)

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
			Delete(&models.Member{}).Error; err != nil {
			return fmt.Errorf("delete members: %w", err)
		}

		res := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).Delete(&models.Record{})
		if res.Error != nil {
			return fmt.Errorf("delete record: %w", res.Error)
		}
		removed = res.RowsAffected

		empty := tx.Where("NOT EXISTS (?)", tx.Session(&gorm.Session{NewDB: true}).
			Model(&models.Member{}).
			Select("1").
			Where("oai_members.set_id = oai_sets.set_id")).
			Delete(&models.Set{})
		if empty.Error != nil {
			return fmt.Errorf("delete empty sets: %w", empty.Error)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("indexer service: remove record %s/%s: %w", entityType, entityID, err)
	}

	if err := s.publishSize(ctx); err != nil {
		s.log.Warn("failed to publish index size", zap.Error(err))
	}
	if removed > 0 {
		s.log.Info("record removed from cache",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
		)
	}
	return removed, nil
}

func (s *IndexerService) exposesType(entityType string) bool {
	for _, src := range s.sources {
		if src.EntityType == entityType {
			return true
		}
	}
	return false
}

// isCached reports whether the entity is a cached record or names a set
// partitioned on its type.
func (s *IndexerService) isCached(ctx context.Context, entityType, entityID string) (bool, error) {
	db := s.db.WithContext(ctx)

	var records int64
	if err := db.Model(&models.Record{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Count(&records).Error; err != nil {
		return false, fmt.Errorf("indexer service: lookup record %s/%s: %w", entityType, entityID, err)
	}
	if records > 0 {
		return true, nil
	}

	var sets int64
	if err := db.Model(&models.Set{}).
		Where("entity_type = ? AND set_id = ?", entityType, entityType+":"+entityID).
		Count(&sets).Error; err != nil {
		return false, fmt.Errorf("indexer service: lookup set %s:%s: %w", entityType, entityID, err)
	}
	return sets > 0, nil
}
