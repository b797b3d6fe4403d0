// internal/services/entitlement_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/store"
)

const (
	ReasonUnknownFeature     = "unknown_feature"
	ReasonFeatureDisabled    = "feature_disabled"
	ReasonUsageLimitExceeded = "usage_limit_exceeded"
)

type Entitlement struct {
	Granted      bool   `json:"granted"`
	Feature      string `json:"feature"`
	Reason       string `json:"reason,omitempty"`
	CurrentUsage int64  `json:"current_usage"`
	// Remaining is nil when the feature is uncapped.
	Remaining *int64 `json:"remaining,omitempty"`
}

type UsageRequest struct {
	Feature  string       `json:"feature" validate:"required,feature_name"`
	Amount   int64        `json:"amount" validate:"min=1"`
	Metadata models.JSONB `json:"metadata,omitempty"`
}

// EntitlementChecker gates feature access and meters usage.
type EntitlementChecker struct {
	store      store.LicenseStore
	validation *ValidationEngine
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	now        func() time.Time
}

func NewEntitlementChecker(licenseStore store.LicenseStore, validation *ValidationEngine, m *metrics.Metrics, logger *logrus.Logger) *EntitlementChecker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EntitlementChecker{
		store:      licenseStore,
		validation: validation,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// CheckFeature reports whether one more unit of the feature may be used.
// It never writes usage.
func (e *EntitlementChecker) CheckFeature(ctx context.Context, key, feature string) (*Entitlement, error) {
	if feature == "" {
		return nil, newError(KindValidationFailed, "feature name is required")
	}
	license, result, err := e.validation.check(ctx, key)
	if err != nil {
		return nil, err
	}

	ent := decide(license, result, feature, 1)
	e.metrics.RecordEntitlement("check", ent.Reason)
	return ent, nil
}

// RecordUsage consumes amount units when the feature allows it. A denial
// is reported in the Entitlement and leaves the license untouched.
func (e *EntitlementChecker) RecordUsage(ctx context.Context, key string, req UsageRequest) (*Entitlement, error) {
	if req.Feature == "" {
		return nil, newError(KindValidationFailed, "feature name is required")
	}
	if req.Amount < 1 {
		return nil, newError(KindValidationFailed, "usage amount must be at least 1")
	}

	license, result, err := e.validation.check(ctx, key)
	if err != nil {
		return nil, err
	}
	if ent := decide(license, result, req.Feature, req.Amount); !ent.Granted {
		e.metrics.RecordEntitlement("usage", ent.Reason)
		return ent, nil
	}

	record := &models.UsageRecord{
		LicenseID:   license.ID,
		FeatureName: req.Feature,
		Timestamp:   e.now().UTC(),
		UsageCount:  req.Amount,
		Metadata:    req.Metadata,
	}
	feature, err := e.store.ConsumeFeatureUsage(ctx, record)
	if err != nil {
		// The feature may have changed between the check and the write.
		if reason := usageRejection(err); reason != "" {
			e.metrics.RecordEntitlement("usage", reason)
			return &Entitlement{Granted: false, Feature: req.Feature, Reason: reason}, nil
		}
		return nil, fromStore(err, "license")
	}

	e.logger.WithFields(logrus.Fields{
		"license_id": license.ID,
		"feature":    req.Feature,
		"amount":     req.Amount,
	}).Debug("Feature usage recorded")

	ent := granted(feature)
	e.metrics.RecordEntitlement("usage", ent.Reason)
	return ent, nil
}

func decide(license *models.License, result *ValidationResult, name string, amount int64) *Entitlement {
	if !result.Valid {
		return &Entitlement{Feature: name, Reason: "license_" + string(result.Status)}
	}
	feature, _ := license.Feature(name)
	switch {
	case feature == nil:
		return &Entitlement{Feature: name, Reason: ReasonUnknownFeature}
	case !feature.Enabled:
		return &Entitlement{Feature: name, Reason: ReasonFeatureDisabled, CurrentUsage: feature.Usage()}
	case !feature.Allows(amount):
		ent := granted(feature)
		ent.Granted = false
		ent.Reason = ReasonUsageLimitExceeded
		return ent
	}
	return granted(feature)
}

func granted(feature *models.LicenseFeature) *Entitlement {
	ent := &Entitlement{Granted: true, Feature: feature.Name, CurrentUsage: feature.Usage()}
	if remaining := feature.Remaining(); remaining >= 0 {
		ent.Remaining = &remaining
	}
	return ent
}

func usageRejection(err error) string {
	switch {
	case errors.Is(err, store.ErrUnknownFeature):
		return ReasonUnknownFeature
	case errors.Is(err, store.ErrFeatureDisabled):
		return ReasonFeatureDisabled
	case errors.Is(err, store.ErrUsageLimit):
		return ReasonUsageLimitExceeded
	}
	return ""
}
