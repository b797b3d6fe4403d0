// internal/store/gorm_store.go
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/license-backend/internal/models"
)

// GormStore persists licenses through gorm. Counter and status changes are
// single conditional UPDATE statements; the JSON features column is
// read-check-written under a per-license lock.
type GormStore struct {
	db      *gorm.DB
	locker  Locker
	lockTTL time.Duration
}

func NewGormStore(db *gorm.DB, locker Locker, lockTTL time.Duration) *GormStore {
	if locker == nil {
		locker = NewMutexLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &GormStore{db: db, locker: locker, lockTTL: lockTTL}
}

func (s *GormStore) CreateLicense(ctx context.Context, license *models.License) error {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(license).Error
	return translate(err)
}

func (s *GormStore) KeyHashExists(ctx context.Context, keyHash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.License{}).
		Where("key_hash = ?", keyHash).
		Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

func (s *GormStore) GetLicenseByKeyHash(ctx context.Context, keyHash string) (*models.License, error) {
	var license models.License
	if err := s.db.WithContext(ctx).Where("key_hash = ?", keyHash).First(&license).Error; err != nil {
		return nil, translate(err)
	}
	return &license, nil
}

func (s *GormStore) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var license models.License
	err := s.db.WithContext(ctx).
		Preload("ActivationHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&license).Error
	if err != nil {
		return nil, translate(err)
	}
	return &license, nil
}

func (s *GormStore) ListLicensesByOwner(ctx context.Context, ownerID string, offset, limit int) ([]models.License, int64, error) {
	var (
		licenses []models.License
		total    int64
	)
	query := s.db.WithContext(ctx).Model(&models.License{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}
	query = query.Order("created_at DESC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&licenses).Error; err != nil {
		return nil, 0, translate(err)
	}
	return licenses, total, nil
}

func (s *GormStore) UpdateLicense(ctx context.Context, id uuid.UUID, patch LicensePatch) (*models.License, error) {
	if patch.Features != nil {
		unlock, err := s.locker.Lock(ctx, featureLockKey(id), s.lockTTL)
		if err != nil {
			return nil, err
		}
		defer unlock(context.Background())
	}

	updates := patchColumns(patch)
	updates["updated_at"] = time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&models.License{}).Where("id = ?", id)
		if patch.MaxActivations != nil {
			query = query.Where("current_activations <= ?", *patch.MaxActivations)
		}
		if len(patch.DisallowStatuses) > 0 {
			query = query.Where("status NOT IN ?", patch.DisallowStatuses)
		}
		result := query.Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var current models.License
			if err := tx.Select("status").Where("id = ?", id).Take(&current).Error; err != nil {
				return err
			}
			if statusIn(current.Status, patch.DisallowStatuses) {
				return ErrStatusGuard
			}
			return ErrConditionFailed
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return s.GetLicenseByID(ctx, id)
}

func (s *GormStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.LicenseStatus) (bool, error) {
	var swapped bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.License{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]interface{}{
				"status":     to,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			swapped = true
			return nil
		}
		found, err := exists(tx, id)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return false, translate(err)
	}
	return swapped, nil
}

func (s *GormStore) ExpireLicense(ctx context.Context, id uuid.UUID, from models.LicenseStatus, at time.Time) (bool, error) {
	var swapped bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.License{}).
			Where("id = ? AND status = ?", id, from).
			Where("expiration_date IS NOT NULL AND expiration_date < ?", at.UTC()).
			Updates(map[string]interface{}{
				"status":     models.LicenseStatusExpired,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			swapped = true
			return nil
		}
		found, err := exists(tx, id)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return false, translate(err)
	}
	return swapped, nil
}

func (s *GormStore) TouchLastCheck(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.License{}).
		Where("id = ?", id).
		UpdateColumn("last_check", at)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) AddActivationIfBelowLimit(ctx context.Context, activation *models.Activation) (bool, error) {
	if activation.CreatedAt.IsZero() {
		activation.CreatedAt = time.Now().UTC()
	}

	var added bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.License{}).
			Where("id = ? AND current_activations < max_activations", activation.LicenseID).
			Updates(map[string]interface{}{
				"current_activations": gorm.Expr("current_activations + 1"),
				"updated_at":          activation.CreatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			found, err := exists(tx, activation.LicenseID)
			if err != nil {
				return err
			}
			if !found {
				return ErrNotFound
			}
			return nil
		}
		if err := tx.Create(activation).Error; err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, translate(err)
	}
	return added, nil
}

func (s *GormStore) ConsumeFeatureUsage(ctx context.Context, record *models.UsageRecord) (*models.LicenseFeature, error) {
	unlock, err := s.locker.Lock(ctx, featureLockKey(record.LicenseID), s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock(context.Background())

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	var consumed *models.LicenseFeature
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.lockFeatures(tx, record.LicenseID)
		if err != nil {
			return err
		}
		features := license.Features
		feature, err := consumeFeature(features, record.FeatureName, record.UsageCount)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.License{}).Where("id = ?", record.LicenseID).
			Updates(map[string]interface{}{
				"features":   features,
				"updated_at": record.Timestamp,
			}).Error; err != nil {
			return err
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		consumed = feature
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return consumed, nil
}

func (s *GormStore) MutateFeatures(ctx context.Context, id uuid.UUID, fn func(models.LicenseFeatures) (models.LicenseFeatures, error)) (*models.License, error) {
	unlock, err := s.locker.Lock(ctx, featureLockKey(id), s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock(context.Background())

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.lockFeatures(tx, id)
		if err != nil {
			return err
		}
		features, err := fn(license.Features)
		if err != nil {
			return err
		}
		return tx.Model(&models.License{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"features":   features,
				"updated_at": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return s.GetLicenseByID(ctx, id)
}

func (s *GormStore) TransferOwner(ctx context.Context, transfer *models.LicenseTransfer) (bool, error) {
	if transfer.TransferredAt.IsZero() {
		transfer.TransferredAt = time.Now().UTC()
	}

	var moved bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.License{}).
			Where("id = ? AND owner_id = ?", transfer.LicenseID, transfer.FromOwnerID).
			Updates(map[string]interface{}{
				"owner_id":         transfer.ToOwnerID,
				"last_transfer_at": transfer.TransferredAt,
				"updated_at":       transfer.TransferredAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			found, err := exists(tx, transfer.LicenseID)
			if err != nil {
				return err
			}
			if !found {
				return ErrNotFound
			}
			return nil
		}
		if err := tx.Create(transfer).Error; err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, translate(err)
	}
	return moved, nil
}

func (s *GormStore) ListActivations(ctx context.Context, licenseID uuid.UUID) ([]models.Activation, error) {
	var activations []models.Activation
	err := s.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("created_at ASC").
		Find(&activations).Error
	if err != nil {
		return nil, translate(err)
	}
	return activations, nil
}

func (s *GormStore) ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	query := s.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true})
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, translate(err)
	}
	return records, nil
}

func (s *GormStore) FeatureUsageTotals(ctx context.Context, licenseID uuid.UUID) (map[string]int64, error) {
	var rows []struct {
		FeatureName string
		Total       int64
	}
	err := s.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select("feature_name, SUM(usage_count) AS total").
		Where("license_id = ?", licenseID).
		Group("feature_name").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.FeatureName] = row.Total
	}
	return totals, nil
}

func (s *GormStore) ListTransfers(ctx context.Context, licenseID uuid.UUID) ([]models.LicenseTransfer, error) {
	var transfers []models.LicenseTransfer
	err := s.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("transferred_at ASC").
		Find(&transfers).Error
	if err != nil {
		return nil, translate(err)
	}
	return transfers, nil
}

// lockFeatures loads the features column, taking a row lock where the
// dialect supports it.
func (s *GormStore) lockFeatures(tx *gorm.DB, id uuid.UUID) (*models.License, error) {
	query := tx.Select("id", "features")
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var license models.License
	if err := query.Where("id = ?", id).First(&license).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

func exists(tx *gorm.DB, id uuid.UUID) (bool, error) {
	var count int64
	if err := tx.Model(&models.License{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func patchColumns(patch LicensePatch) map[string]interface{} {
	updates := make(map[string]interface{})
	if patch.Type != nil {
		updates["type"] = *patch.Type
	}
	if patch.Features != nil {
		updates["features"] = patch.Features
	}
	if patch.MaxActivations != nil {
		updates["max_activations"] = *patch.MaxActivations
	}
	if patch.ClearExpiration {
		updates["expiration_date"] = nil
	} else if patch.ExpirationDate != nil {
		updates["expiration_date"] = patch.ExpirationDate.UTC()
	}
	if patch.Restrictions != nil {
		updates["restrictions"] = *patch.Restrictions
	}
	if patch.Metadata != nil {
		updates["metadata"] = patch.Metadata
	}
	return updates
}

// translate maps driver and gorm errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConditionFailed), errors.Is(err, ErrStatusGuard),
		errors.Is(err, ErrUnknownFeature), errors.Is(err, ErrFeatureDisabled),
		errors.Is(err, ErrUsageLimit), errors.Is(err, ErrDuplicateKey),
		errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	case isTransient(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "database is locked", "too many connections"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
