package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/oaipmh/internal/models"
)

// NextTokenIDSetting holds the last allocated resumption token id.
const NextTokenIDSetting = "oai.next_token_id"

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Where(&models.SystemSetting{Key: key}).Take(&setting).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{
		Key:   key,
		Value: value,
	}

	if err := db.WithContext(ctx).
		Where(&models.SystemSetting{Key: key}).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}

	return nil
}

// IncrementSystemCounter atomically adds one to an integer setting and returns
// the new value. A missing row starts at zero.
func IncrementSystemCounter(ctx context.Context, db *gorm.DB, key string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("system settings: key is required")
	}

	var next int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var setting models.SystemSetting
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(&models.SystemSetting{Key: key}).
			Take(&setting).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			next = 1
			return tx.Create(&models.SystemSetting{Key: key, Value: "1"}).Error
		}
		if err != nil {
			return err
		}

		current, parseErr := strconv.ParseInt(strings.TrimSpace(setting.Value), 10, 64)
		if parseErr != nil {
			return fmt.Errorf("counter %q holds non-integer value %q", key, setting.Value)
		}
		next = current + 1
		return tx.Model(&models.SystemSetting{}).
			Where(&models.SystemSetting{Key: key}).
			Update("value", strconv.FormatInt(next, 10)).Error
	})
	if err != nil {
		return 0, fmt.Errorf("system settings: increment %q: %w", key, err)
	}
	return next, nil
}
