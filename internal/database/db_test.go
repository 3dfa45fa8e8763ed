package database

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/oaipmh/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("SELECT 1").Error)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.ErrorContains(t, err, `unsupported database driver "oracle"`)
}

func TestOpenPostgresRequiresCredentials(t *testing.T) {
	_, err := Open(Config{Driver: "postgresql"})
	require.ErrorContains(t, err, "requires user and database name")
}

func TestAutoMigrateAndSeedData(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrateAndSeed(db))

	migrator := db.Migrator()
	for _, model := range []any{
		&models.Entity{},
		&models.Record{},
		&models.Set{},
		&models.Member{},
		&models.ResumptionToken{},
		&models.SystemSetting{},
		&models.CacheEntry{},
	} {
		require.True(t, migrator.HasTable(model), "expected table for %T", model)
	}

	value, err := GetSystemSetting(t.Context(), db, NextTokenIDSetting)
	require.NoError(t, err)
	require.Equal(t, "0", value)

	// Seeding twice keeps the existing counter.
	require.NoError(t, UpsertSystemSetting(t.Context(), db, NextTokenIDSetting, "41"))
	require.NoError(t, SeedData(db))
	value, err = GetSystemSetting(t.Context(), db, NextTokenIDSetting)
	require.NoError(t, err)
	require.Equal(t, "41", value)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
