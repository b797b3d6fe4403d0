// internal/store/retry.go
package store

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/models"
)

type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Jitter     float64
	Max        time.Duration
}

func (cfg BackoffConfig) nextDelay(attempt int, rng float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(cfg.Initial)
	if base <= 0 {
		base = float64(50 * time.Millisecond)
	}
	multiplier := cfg.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt))
	if cfg.Jitter > 0 {
		j := cfg.Jitter
		if j > 1 {
			j = 1
		}
		delay = delay * (1 + (rng*2-1)*j)
	}
	if cfg.Max > 0 && delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}
	return time.Duration(delay)
}

// RetryingStore retries operations that failed with ErrUnavailable. Every
// other outcome, including a rejected conditional update, is returned as is.
//
// Inserts and counter increments run once: an error after the backend has
// committed would turn a retry into a double count or a second license.
// Those surface ErrUnavailable to the caller instead.
type RetryingStore struct {
	next     LicenseStore
	attempts int
	backoff  BackoffConfig
	logger   *logrus.Logger

	// OnRetry is called before each retry with the operation name.
	OnRetry func(op string)
}

func NewRetryingStore(next LicenseStore, attempts int, backoff BackoffConfig, logger *logrus.Logger) *RetryingStore {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RetryingStore{next: next, attempts: attempts, backoff: backoff, logger: logger}
}

func (r *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if err = fn(); err == nil || !IsUnavailable(err) {
			return err
		}
		if attempt == r.attempts-1 {
			break
		}

		delay := r.backoff.nextDelay(attempt, rand.Float64())
		r.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).WithError(err).Warn("License store unavailable, retrying")
		if r.OnRetry != nil {
			r.OnRetry(op)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
	return err
}

func (r *RetryingStore) CreateLicense(ctx context.Context, license *models.License) error {
	return r.next.CreateLicense(ctx, license)
}

func (r *RetryingStore) KeyHashExists(ctx context.Context, keyHash string) (bool, error) {
	var out bool
	err := r.do(ctx, "key_hash_exists", func() (err error) {
		out, err = r.next.KeyHashExists(ctx, keyHash)
		return err
	})
	return out, err
}

func (r *RetryingStore) GetLicenseByKeyHash(ctx context.Context, keyHash string) (*models.License, error) {
	var out *models.License
	err := r.do(ctx, "get_license_by_key_hash", func() (err error) {
		out, err = r.next.GetLicenseByKeyHash(ctx, keyHash)
		return err
	})
	return out, err
}

func (r *RetryingStore) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var out *models.License
	err := r.do(ctx, "get_license_by_id", func() (err error) {
		out, err = r.next.GetLicenseByID(ctx, id)
		return err
	})
	return out, err
}

func (r *RetryingStore) ListLicensesByOwner(ctx context.Context, ownerID string, offset, limit int) ([]models.License, int64, error) {
	var (
		out   []models.License
		total int64
	)
	err := r.do(ctx, "list_licenses_by_owner", func() (err error) {
		out, total, err = r.next.ListLicensesByOwner(ctx, ownerID, offset, limit)
		return err
	})
	return out, total, err
}

func (r *RetryingStore) UpdateLicense(ctx context.Context, id uuid.UUID, patch LicensePatch) (*models.License, error) {
	var out *models.License
	err := r.do(ctx, "update_license", func() (err error) {
		out, err = r.next.UpdateLicense(ctx, id, patch)
		return err
	})
	return out, err
}

func (r *RetryingStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.LicenseStatus) (bool, error) {
	var out bool
	err := r.do(ctx, "compare_and_set_status", func() (err error) {
		out, err = r.next.CompareAndSetStatus(ctx, id, from, to)
		return err
	})
	return out, err
}

func (r *RetryingStore) ExpireLicense(ctx context.Context, id uuid.UUID, from models.LicenseStatus, at time.Time) (bool, error) {
	var out bool
	err := r.do(ctx, "expire_license", func() (err error) {
		out, err = r.next.ExpireLicense(ctx, id, from, at)
		return err
	})
	return out, err
}

func (r *RetryingStore) TouchLastCheck(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.do(ctx, "touch_last_check", func() error {
		return r.next.TouchLastCheck(ctx, id, at)
	})
}

func (r *RetryingStore) AddActivationIfBelowLimit(ctx context.Context, activation *models.Activation) (bool, error) {
	return r.next.AddActivationIfBelowLimit(ctx, activation)
}

func (r *RetryingStore) ConsumeFeatureUsage(ctx context.Context, record *models.UsageRecord) (*models.LicenseFeature, error) {
	return r.next.ConsumeFeatureUsage(ctx, record)
}

func (r *RetryingStore) MutateFeatures(ctx context.Context, id uuid.UUID, fn func(models.LicenseFeatures) (models.LicenseFeatures, error)) (*models.License, error) {
	var out *models.License
	err := r.do(ctx, "mutate_features", func() (err error) {
		out, err = r.next.MutateFeatures(ctx, id, fn)
		return err
	})
	return out, err
}

func (r *RetryingStore) TransferOwner(ctx context.Context, transfer *models.LicenseTransfer) (bool, error) {
	return r.next.TransferOwner(ctx, transfer)
}

func (r *RetryingStore) ListActivations(ctx context.Context, licenseID uuid.UUID) ([]models.Activation, error) {
	var out []models.Activation
	err := r.do(ctx, "list_activations", func() (err error) {
		out, err = r.next.ListActivations(ctx, licenseID)
		return err
	})
	return out, err
}

func (r *RetryingStore) ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]models.UsageRecord, error) {
	var out []models.UsageRecord
	err := r.do(ctx, "list_usage", func() (err error) {
		out, err = r.next.ListUsage(ctx, licenseID, limit)
		return err
	})
	return out, err
}

func (r *RetryingStore) FeatureUsageTotals(ctx context.Context, licenseID uuid.UUID) (map[string]int64, error) {
	var out map[string]int64
	err := r.do(ctx, "feature_usage_totals", func() (err error) {
		out, err = r.next.FeatureUsageTotals(ctx, licenseID)
		return err
	})
	return out, err
}

func (r *RetryingStore) ListTransfers(ctx context.Context, licenseID uuid.UUID) ([]models.LicenseTransfer, error) {
	var out []models.LicenseTransfer
	err := r.do(ctx, "list_transfers", func() (err error) {
		out, err = r.next.ListTransfers(ctx, licenseID)
		return err
	})
	return out, err
}

var _ LicenseStore = (*RetryingStore)(nil)
var _ LicenseStore = (*GormStore)(nil)
var _ LicenseStore = (*MemoryStore)(nil)
