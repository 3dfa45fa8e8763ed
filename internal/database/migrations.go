package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/oaipmh/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Entity{},
		&models.Record{},
		&models.Set{},
		&models.Member{},
		&models.ResumptionToken{},
		&models.SystemSetting{},
		&models.CacheEntry{},
	)
}

// SeedData makes sure the resumption token counter exists so the first
// increment has a row to lock.
func SeedData(db *gorm.DB) error {
	counter := models.SystemSetting{Key: NextTokenIDSetting, Value: "0"}
	return db.Where(&models.SystemSetting{Key: counter.Key}).
		Attrs(counter).
		FirstOrCreate(&models.SystemSetting{}).Error
}
