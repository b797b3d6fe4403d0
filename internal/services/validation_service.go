// internal/services/validation_service.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/store"
)

type ValidationResult struct {
	Valid              bool                   `json:"valid"`
	Status             models.LicenseStatus   `json:"status"`
	LicenseID          uuid.UUID              `json:"license_id"`
	Type               models.LicenseType     `json:"type,omitempty"`
	Features           models.LicenseFeatures `json:"features,omitempty"`
	ExpirationDate     *time.Time             `json:"expiration_date,omitempty"`
	MaxActivations     int                    `json:"max_activations"`
	CurrentActivations int                    `json:"current_activations"`
	Message            string                 `json:"message,omitempty"`
}

// ValidationEngine decides whether a key is currently usable and performs
// the lazy active -> expired transition.
type ValidationEngine struct {
	store     store.LicenseStore
	registry  *Registry
	lastCheck *LastCheckWriter
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	now       func() time.Time
}

func NewValidationEngine(licenseStore store.LicenseStore, registry *Registry, lastCheck *LastCheckWriter, m *metrics.Metrics, logger *logrus.Logger) *ValidationEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ValidationEngine{
		store:     licenseStore,
		registry:  registry,
		lastCheck: lastCheck,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (v *ValidationEngine) Validate(ctx context.Context, key string) (*ValidationResult, error) {
	_, result, err := v.check(ctx, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// check returns the license as observed after any status transition.
func (v *ValidationEngine) check(ctx context.Context, key string) (*models.License, *ValidationResult, error) {
	if key == "" {
		return nil, nil, newError(KindValidationFailed, "license key is required")
	}

	license, err := v.store.GetLicenseByKeyHash(ctx, HashKey(key))
	if err != nil {
		return nil, nil, fromStore(err, "license")
	}

	if err := v.settleStatus(ctx, license); err != nil {
		return nil, nil, err
	}

	result := &ValidationResult{
		Valid:              license.Status == models.LicenseStatusActive,
		Status:             license.Status,
		LicenseID:          license.ID,
		Type:               license.Type,
		Features:           license.Features,
		ExpirationDate:     license.ExpirationDate,
		MaxActivations:     license.MaxActivations,
		CurrentActivations: license.CurrentActivations,
	}
	if result.Valid {
		v.lastCheck.Record(ctx, license.ID, v.now().UTC())
	} else {
		result.Message = statusError(license.Status).Message
	}

	v.metrics.RecordValidation(string(license.Status))
	return license, result, nil
}

// settleStatus applies the expiration rule. On return license.Status is
// the status the caller must act on.
func (v *ValidationEngine) settleStatus(ctx context.Context, license *models.License) error {
	if !license.IsExpiredAt(v.now()) {
		return nil
	}

	for attempt := 0; attempt < 3; attempt++ {
		now := v.now()
		if !license.IsExpiredAt(now) || !v.registry.CanTransition(license.Status, models.LicenseStatusExpired) {
			return nil
		}

		from := license.Status
		swapped, err := v.store.ExpireLicense(ctx, license.ID, from, now)
		if err != nil {
			return fromStore(err, "license")
		}
		if swapped {
			v.logger.WithFields(logrus.Fields{
				"license_id": license.ID,
				"from":       from,
			}).Info("License expired")
			license.Status = models.LicenseStatusExpired
			return nil
		}

		// Someone else moved the status or the expiration first; act on
		// what they stored.
		current, err := v.store.GetLicenseByID(ctx, license.ID)
		if err != nil {
			return fromStore(err, "license")
		}
		*license = *current
	}
	return nil
}
