// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/license-backend/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateKey    = errors.New("duplicate license key")
	ErrUnavailable     = errors.New("license store unavailable")
	ErrConditionFailed = errors.New("conditional update rejected")
	ErrStatusGuard     = errors.New("license status forbids update")

	ErrUnknownFeature  = errors.New("unknown feature")
	ErrFeatureDisabled = errors.New("feature disabled")
	ErrUsageLimit      = errors.New("feature usage limit exceeded")
)

// LicenseStore is the durable, indexed storage behind the licensing engine.
// Every conditional method is a single atomic operation against the backend.
type LicenseStore interface {
	CreateLicense(ctx context.Context, license *models.License) error
	KeyHashExists(ctx context.Context, keyHash string) (bool, error)
	GetLicenseByKeyHash(ctx context.Context, keyHash string) (*models.License, error)
	GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	ListLicensesByOwner(ctx context.Context, ownerID string, offset, limit int) ([]models.License, int64, error)

	// UpdateLicense applies an administrative patch. When the patch lowers
	// max_activations it only succeeds if current_activations still fits,
	// otherwise ErrConditionFailed is returned. A row whose status is listed
	// in patch.DisallowStatuses is left untouched and ErrStatusGuard returned.
	UpdateLicense(ctx context.Context, id uuid.UUID, patch LicensePatch) (*models.License, error)

	// CompareAndSetStatus moves status from -> to and reports whether the
	// row was still in the from state.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.LicenseStatus) (bool, error)
	// ExpireLicense moves status from -> expired only while expiration_date
	// is set and before at.
	ExpireLicense(ctx context.Context, id uuid.UUID, from models.LicenseStatus, at time.Time) (bool, error)
	TouchLastCheck(ctx context.Context, id uuid.UUID, at time.Time) error

	// AddActivationIfBelowLimit increments current_activations and appends the
	// activation only if current_activations < max_activations.
	AddActivationIfBelowLimit(ctx context.Context, activation *models.Activation) (bool, error)

	// ConsumeFeatureUsage adds record.UsageCount to the feature's counter and
	// appends the record, or returns ErrUnknownFeature, ErrFeatureDisabled or
	// ErrUsageLimit without writing anything.
	ConsumeFeatureUsage(ctx context.Context, record *models.UsageRecord) (*models.LicenseFeature, error)
	MutateFeatures(ctx context.Context, id uuid.UUID, fn func(models.LicenseFeatures) (models.LicenseFeatures, error)) (*models.License, error)

	// TransferOwner sets owner_id = transfer.ToOwnerID only while the current
	// owner equals transfer.FromOwnerID, and appends the transfer row.
	TransferOwner(ctx context.Context, transfer *models.LicenseTransfer) (bool, error)

	ListActivations(ctx context.Context, licenseID uuid.UUID) ([]models.Activation, error)
	ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]models.UsageRecord, error)
	FeatureUsageTotals(ctx context.Context, licenseID uuid.UUID) (map[string]int64, error)
	ListTransfers(ctx context.Context, licenseID uuid.UUID) ([]models.LicenseTransfer, error)
}

// LicensePatch carries the administratively mutable fields. Nil means unchanged.
type LicensePatch struct {
	Type            *models.LicenseType
	Features        models.LicenseFeatures
	MaxActivations  *int
	ExpirationDate  *time.Time
	ClearExpiration bool
	Restrictions    *models.Restrictions
	Metadata        models.JSONB

	// DisallowStatuses is checked in the same atomic step as the write.
	DisallowStatuses []models.LicenseStatus
}

// Empty reports whether the patch changes nothing. DisallowStatuses is a
// condition, not a change.
func (p LicensePatch) Empty() bool {
	return p.Type == nil && p.Features == nil && p.MaxActivations == nil &&
		p.ExpirationDate == nil && !p.ClearExpiration && p.Restrictions == nil && p.Metadata == nil
}

// IsUnavailable reports whether err is a transient store failure worth retrying.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func featureLockKey(id uuid.UUID) string {
	return "license:features:" + id.String()
}
