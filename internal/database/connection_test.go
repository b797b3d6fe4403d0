// internal/database/connection_test.go
package database

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func openTestDB(t *testing.T) *gorm.DB {
	log := testLogger()
	db, err := Initialize(config.DatabaseConfig{
		Dialect:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "licensing.db"),
		LogLevel:   "silent",
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { Close(db, log) })
	return db
}

func TestInitializeAndMigrateSQLite(t *testing.T) {
	db := openTestDB(t)
	assert.Equal(t, "sqlite", db.Dialector.Name())

	require.NoError(t, RunMigrations(db, testLogger()))
	// migrations are idempotent
	require.NoError(t, RunMigrations(db, testLogger()))

	for _, table := range []interface{}{
		&models.License{}, &models.Activation{}, &models.UsageRecord{},
		&models.LicenseTransfer{}, &models.AuditLog{}, &models.AdminNotification{},
	} {
		assert.True(t, db.Migrator().HasTable(table))
	}
}

func TestWithTransactionRollsBack(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, RunMigrations(db, testLogger()))

	boom := errors.New("boom")
	err := WithTransaction(db, func(tx *gorm.DB) error {
		if err := tx.Create(&models.AuditLog{Action: "license.create", ResourceType: "license"}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)

	err = WithTransaction(db, func(tx *gorm.DB) error {
		return tx.Create(&models.AuditLog{Action: "license.create", ResourceType: "license"}).Error
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
