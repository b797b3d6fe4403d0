// internal/services/license_service.go
package services

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/store"
	"github.com/javajoker/license-backend/internal/utils"
)

type LicenseService struct {
	store               store.LicenseStore
	registry            *Registry
	keys                *KeyGenerator
	notificationService *NotificationService
	metrics             *metrics.Metrics
	logger              *logrus.Logger
	now                 func() time.Time
}

type CreateLicenseRequest struct {
	OwnerID        string                 `json:"owner_id,omitempty" validate:"omitempty,max=64"`
	Type           models.LicenseType     `json:"type" validate:"required,license_type"`
	Features       models.LicenseFeatures `json:"features,omitempty" validate:"omitempty,dive"`
	MaxActivations int                    `json:"max_activations,omitempty" validate:"omitempty,min=1"`
	ExpirationDays *int                   `json:"expiration_days,omitempty" validate:"omitempty,min=1,max=36500"`
	Restrictions   models.Restrictions    `json:"restrictions"`
	Metadata       models.JSONB           `json:"metadata,omitempty"`
}

type UpdateLicenseRequest struct {
	Type            *models.LicenseType    `json:"type,omitempty" validate:"omitempty,license_type"`
	Features        models.LicenseFeatures `json:"features,omitempty" validate:"omitempty,dive"`
	MaxActivations  *int                   `json:"max_activations,omitempty" validate:"omitempty,min=1"`
	ExpirationDate  *time.Time             `json:"expiration_date,omitempty"`
	ClearExpiration bool                   `json:"clear_expiration,omitempty"`
	Restrictions    *models.Restrictions   `json:"restrictions,omitempty"`
	Metadata        models.JSONB           `json:"metadata,omitempty"`

	// Status is accepted only to reject it; status moves through actions.
	Status *models.LicenseStatus `json:"status,omitempty"`
}

func (r *UpdateLicenseRequest) touchesEntitlements() bool {
	return r.Type != nil || r.Features != nil || r.MaxActivations != nil ||
		r.ExpirationDate != nil || r.ClearExpiration
}

func NewLicenseService(licenseStore store.LicenseStore, registry *Registry, keys *KeyGenerator, notificationService *NotificationService, m *metrics.Metrics, logger *logrus.Logger) *LicenseService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LicenseService{
		store:               licenseStore,
		registry:            registry,
		keys:                keys,
		notificationService: notificationService,
		metrics:             m,
		logger:              logger,
		now:                 time.Now,
	}
}

func (s *LicenseService) Create(ctx context.Context, actor Actor, req *CreateLicenseRequest) (*models.License, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, wrapError(KindValidationFailed, err, "invalid license request")
	}
	return s.issue(ctx, actor, req, "single")
}

// issue assumes req has already passed struct validation.
func (s *LicenseService) issue(ctx context.Context, actor Actor, req *CreateLicenseRequest, origin string) (*models.License, error) {
	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = actor.UserID
	}
	if ownerID == "" {
		return nil, newError(KindValidationFailed, "owner_id is required")
	}
	if ownerID != actor.UserID && !actor.CanIssue() {
		return nil, newError(KindPermissionDenied, "user %s may not issue licenses to %s", actor.UserID, ownerID)
	}

	defaults, ok := s.registry.Defaults(req.Type)
	if !ok {
		return nil, newError(KindValidationFailed, "unknown license type %q", req.Type)
	}

	features := defaults.Features
	if req.Features != nil {
		features = req.Features.Clone()
	}
	if err := checkFeatures(features); err != nil {
		return nil, err
	}
	if err := checkRestrictionEntries(req.Restrictions); err != nil {
		return nil, err
	}

	maxActivations := defaults.MaxActivations
	if req.MaxActivations > 0 {
		maxActivations = req.MaxActivations
	}

	now := s.now().UTC()
	var expiration *time.Time
	days := defaults.ExpirationDays
	if req.ExpirationDays != nil {
		days = *req.ExpirationDays
	}
	if days > 0 {
		t := now.AddDate(0, 0, days)
		expiration = &t
	}

	var lastErr error
	for attempt := 0; attempt < s.keys.attempts; attempt++ {
		key, hash, err := s.keys.Generate(ctx)
		if err != nil {
			return nil, err
		}

		license := &models.License{
			Key:            key,
			KeyHash:        hash,
			OwnerID:        ownerID,
			Type:           req.Type,
			Status:         models.LicenseStatusActive,
			Features:       features.Clone(),
			MaxActivations: maxActivations,
			ExpirationDate: expiration,
			Restrictions:   req.Restrictions.Clone(),
			Metadata:       req.Metadata.Clone(),
		}
		license.CreatedAt = now

		err = s.store.CreateLicense(ctx, license)
		if err == nil {
			s.metrics.RecordLicenseCreated(string(license.Type), origin)
			s.logger.WithFields(logrus.Fields{
				"license_id": license.ID,
				"owner_id":   ownerID,
				"type":       license.Type,
				"actor":      actor.UserID,
			}).Info("License created")
			return license, nil
		}
		// Lost a race with a concurrent insert of the same key.
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fromStore(err, "license")
		}
		lastErr = err
	}
	return nil, wrapError(KindDuplicateKeyRetryExhausted, lastErr, "no unique license key after %d attempts", s.keys.attempts)
}

func (s *LicenseService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.License, error) {
	license, err := s.store.GetLicenseByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, "license")
	}
	if err := requireManage(actor, license); err != nil {
		return nil, err
	}
	return license, nil
}

func (s *LicenseService) ListByOwner(ctx context.Context, actor Actor, ownerID string, params utils.PaginationParams) ([]models.License, int64, error) {
	if ownerID == "" {
		ownerID = actor.UserID
	}
	if ownerID != actor.UserID && !actor.IsAdmin() {
		return nil, 0, newError(KindPermissionDenied, "user %s may not list licenses of %s", actor.UserID, ownerID)
	}
	licenses, total, err := s.store.ListLicensesByOwner(ctx, ownerID, params.Offset(), params.Limit)
	if err != nil {
		return nil, 0, fromStore(err, "license")
	}
	return licenses, total, nil
}

// Update patches administrative fields. Owners may change metadata and
// restrictions; entitlement fields require an administrator.
func (s *LicenseService) Update(ctx context.Context, actor Actor, id uuid.UUID, req *UpdateLicenseRequest) (*models.License, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, wrapError(KindValidationFailed, err, "invalid license update")
	}
	if req.Status != nil {
		return nil, newError(KindValidationFailed, "status cannot be patched; use suspend, resume or revoke")
	}

	license, err := s.store.GetLicenseByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, "license")
	}
	if err := requireManage(actor, license); err != nil {
		return nil, err
	}
	if req.touchesEntitlements() && !actor.IsAdmin() {
		return nil, newError(KindPermissionDenied, "only administrators may change license entitlements")
	}

	switch license.Status {
	case models.LicenseStatusRevoked:
		return nil, newError(KindInvalidTransition, "revoked licenses cannot be modified")
	case models.LicenseStatusExpired:
		if req.ExpirationDate != nil || req.ClearExpiration {
			return nil, newError(KindInvalidTransition, "expired licenses cannot be extended")
		}
	}

	if req.Features != nil {
		if err := checkFeatures(req.Features); err != nil {
			return nil, err
		}
	}
	if req.Restrictions != nil {
		if err := checkRestrictionEntries(*req.Restrictions); err != nil {
			return nil, err
		}
	}

	patch := store.LicensePatch{
		Type:            req.Type,
		Features:        req.Features,
		MaxActivations:  req.MaxActivations,
		ExpirationDate:  req.ExpirationDate,
		ClearExpiration: req.ClearExpiration,
		Restrictions:    req.Restrictions,
		Metadata:        req.Metadata,
	}
	if patch.Empty() {
		return nil, newError(KindValidationFailed, "no fields to update")
	}
	// Re-checked atomically in case validation or a revoke won the race.
	patch.DisallowStatuses = []models.LicenseStatus{models.LicenseStatusRevoked}
	if req.ExpirationDate != nil || req.ClearExpiration {
		patch.DisallowStatuses = append(patch.DisallowStatuses, models.LicenseStatusExpired)
	}

	updated, err := s.store.UpdateLicense(ctx, id, patch)
	if err != nil {
		if errors.Is(err, store.ErrStatusGuard) {
			return nil, newError(KindInvalidTransition, "license status changed; revoked licenses cannot be modified and expired licenses cannot be extended")
		}
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, newError(KindValidationFailed, "max_activations cannot be below current activations")
		}
		return nil, fromStore(err, "license")
	}

	s.logger.WithFields(logrus.Fields{
		"license_id": id,
		"actor":      actor.UserID,
	}).Info("License updated")
	return updated, nil
}

// Revoke is terminal and idempotent.
func (s *LicenseService) Revoke(ctx context.Context, actor Actor, id uuid.UUID) (*models.License, error) {
	return s.ApplyAction(ctx, actor, id, ActionRevoke)
}

func (s *LicenseService) ApplyAction(ctx context.Context, actor Actor, id uuid.UUID, action LicenseAction) (*models.License, error) {
	license, err := s.store.GetLicenseByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, "license")
	}

	switch action {
	case ActionRevoke:
		if err := requireManage(actor, license); err != nil {
			return nil, err
		}
	case ActionSuspend, ActionResume:
		if !actor.IsAdmin() {
			return nil, newError(KindPermissionDenied, "only administrators may %s licenses", action)
		}
	default:
		return nil, newError(KindValidationFailed, "unknown license action %s", action)
	}

	target, err := s.registry.Target(action)
	if err != nil {
		return nil, err
	}

	// A concurrent transition can win the compare-and-set; re-read and
	// decide again against the new status.
	for attempt := 0; attempt < 3; attempt++ {
		from := license.Status
		if from == target {
			return license, nil
		}
		if !s.registry.CanTransition(from, target) {
			return nil, newError(KindInvalidTransition, "cannot %s a %s license", action, from)
		}

		swapped, err := s.store.CompareAndSetStatus(ctx, id, from, target)
		if err != nil {
			return nil, fromStore(err, "license")
		}
		if swapped {
			license.Status = target
			s.logger.WithFields(logrus.Fields{
				"license_id": id,
				"from":       from,
				"to":         target,
				"actor":      actor.UserID,
			}).Info("License status changed")
			s.notificationService.LicenseStatusChanged(ctx, license, from, actor.UserID)
			return license, nil
		}

		license, err = s.store.GetLicenseByID(ctx, id)
		if err != nil {
			return nil, fromStore(err, "license")
		}
	}
	return nil, newError(KindStoreUnavailable, "license status kept changing, retry")
}

func (s *LicenseService) SetFeatureAccess(ctx context.Context, actor Actor, id uuid.UUID, name string, action FeatureAction) (*models.License, error) {
	if !actor.IsAdmin() {
		return nil, newError(KindPermissionDenied, "only administrators may change feature access")
	}

	license, err := s.store.MutateFeatures(ctx, id, func(features models.LicenseFeatures) (models.LicenseFeatures, error) {
		for i := range features {
			if features[i].Name != name {
				continue
			}
			switch action {
			case FeatureEnable:
				features[i].Enabled = true
			case FeatureDisable:
				features[i].Enabled = false
			case FeatureResetUsage:
				zero := int64(0)
				features[i].CurrentUsage = &zero
			default:
				return nil, newError(KindValidationFailed, "unknown feature action %s", action)
			}
			return features, nil
		}
		return nil, store.ErrUnknownFeature
	})
	if err != nil {
		var svcErr *Error
		switch {
		case errors.As(err, &svcErr):
			return nil, svcErr
		case errors.Is(err, store.ErrUnknownFeature):
			return nil, newError(KindNotFound, "feature %q not found", name)
		}
		return nil, fromStore(err, "license")
	}

	s.logger.WithFields(logrus.Fields{
		"license_id": id,
		"feature":    name,
		"action":     action.String(),
		"actor":      actor.UserID,
	}).Info("Feature access changed")
	return license, nil
}

func checkFeatures(features models.LicenseFeatures) error {
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if f.Name == "" {
			return newError(KindValidationFailed, "feature name is required")
		}
		if seen[f.Name] {
			return newError(KindValidationFailed, "duplicate feature %q", f.Name)
		}
		seen[f.Name] = true
		if f.MaxUsage != nil && *f.MaxUsage < 0 {
			return newError(KindValidationFailed, "feature %q has a negative max_usage", f.Name)
		}
		if f.CurrentUsage != nil && *f.CurrentUsage < 0 {
			return newError(KindValidationFailed, "feature %q has a negative current_usage", f.Name)
		}
	}
	return nil
}

func checkRestrictionEntries(r models.Restrictions) error {
	for _, entry := range r.AllowedIPs {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return wrapError(KindValidationFailed, err, "invalid allowed_ips entry %q", entry)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return newError(KindValidationFailed, "invalid allowed_ips entry %q", entry)
		}
	}
	for _, entry := range r.AllowedDomains {
		if strings.TrimSpace(entry) == "" {
			return newError(KindValidationFailed, "allowed_domains entries must not be empty")
		}
	}
	return nil
}
