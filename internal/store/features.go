// internal/store/features.go
package store

import (
	"github.com/javajoker/license-backend/internal/models"
)

// consumeFeature applies amount to the named feature in place and returns a
// copy of the updated feature. The slice is left untouched on error.
func consumeFeature(features models.LicenseFeatures, name string, amount int64) (*models.LicenseFeature, error) {
	for i := range features {
		f := &features[i]
		if f.Name != name {
			continue
		}
		if !f.Enabled {
			return nil, ErrFeatureDisabled
		}
		if !f.Allows(amount) {
			return nil, ErrUsageLimit
		}
		next := f.Usage() + amount
		f.CurrentUsage = &next
		out := features[i:i+1].Clone()[0]
		return &out, nil
	}
	return nil, ErrUnknownFeature
}

// applyPatch copies the patched fields onto license. Lifecycle fields
// (status, owner, counters) are never touched here.
func applyPatch(license *models.License, patch LicensePatch) error {
	if statusIn(license.Status, patch.DisallowStatuses) {
		return ErrStatusGuard
	}
	if patch.MaxActivations != nil && *patch.MaxActivations < license.CurrentActivations {
		return ErrConditionFailed
	}
	if patch.Type != nil {
		license.Type = *patch.Type
	}
	if patch.Features != nil {
		license.Features = patch.Features.Clone()
	}
	if patch.MaxActivations != nil {
		license.MaxActivations = *patch.MaxActivations
	}
	if patch.ClearExpiration {
		license.ExpirationDate = nil
	} else if patch.ExpirationDate != nil {
		t := *patch.ExpirationDate
		license.ExpirationDate = &t
	}
	if patch.Restrictions != nil {
		license.Restrictions = patch.Restrictions.Clone()
	}
	if patch.Metadata != nil {
		license.Metadata = patch.Metadata.Clone()
	}
	return nil
}

func statusIn(status models.LicenseStatus, statuses []models.LicenseStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
