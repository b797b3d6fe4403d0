// internal/services/registry.go
package services

import (
	"fmt"

	"github.com/javajoker/license-backend/internal/models"
)

// LicenseAction is the closed set of administrative status changes.
type LicenseAction int

const (
	ActionSuspend LicenseAction = iota + 1
	ActionResume
	ActionRevoke
)

func (a LicenseAction) String() string {
	switch a {
	case ActionSuspend:
		return "suspend"
	case ActionResume:
		return "resume"
	case ActionRevoke:
		return "revoke"
	}
	return fmt.Sprintf("LicenseAction(%d)", int(a))
}

func ParseLicenseAction(s string) (LicenseAction, error) {
	switch s {
	case "suspend":
		return ActionSuspend, nil
	case "resume":
		return ActionResume, nil
	case "revoke":
		return ActionRevoke, nil
	}
	return 0, newError(KindValidationFailed, "unknown license action %q", s)
}

// FeatureAction is the closed set of per-feature administrative changes.
type FeatureAction int

const (
	FeatureEnable FeatureAction = iota + 1
	FeatureDisable
	FeatureResetUsage
)

func (a FeatureAction) String() string {
	switch a {
	case FeatureEnable:
		return "enable"
	case FeatureDisable:
		return "disable"
	case FeatureResetUsage:
		return "reset_usage"
	}
	return fmt.Sprintf("FeatureAction(%d)", int(a))
}

func ParseFeatureAction(s string) (FeatureAction, error) {
	switch s {
	case "enable":
		return FeatureEnable, nil
	case "disable":
		return FeatureDisable, nil
	case "reset_usage":
		return FeatureResetUsage, nil
	}
	return 0, newError(KindValidationFailed, "unknown feature action %q", s)
}

// TypeDefaults are applied when a create request leaves a field unset.
type TypeDefaults struct {
	MaxActivations int
	ExpirationDays int // 0 means perpetual
	Features       models.LicenseFeatures
}

// Registry holds license-type defaults and the status transition table.
// It is built once at startup and shared read-only.
type Registry struct {
	defaults    map[models.LicenseType]TypeDefaults
	transitions map[models.LicenseStatus]map[models.LicenseStatus]bool
}

func int64Ptr(v int64) *int64 { return &v }

func NewRegistry() *Registry {
	return &Registry{
		defaults: map[models.LicenseType]TypeDefaults{
			models.LicenseTypeTrial: {
				MaxActivations: 1,
				ExpirationDays: 14,
				Features: models.LicenseFeatures{
					{Name: "api_access", Enabled: true, MaxUsage: int64Ptr(1000)},
				},
			},
			models.LicenseTypeStandard: {
				MaxActivations: 3,
				ExpirationDays: 365,
				Features: models.LicenseFeatures{
					{Name: "api_access", Enabled: true, MaxUsage: int64Ptr(100000)},
				},
			},
			models.LicenseTypePremium: {
				MaxActivations: 10,
				ExpirationDays: 365,
				Features: models.LicenseFeatures{
					{Name: "api_access", Enabled: true},
					{Name: "export", Enabled: true},
				},
			},
			models.LicenseTypeEnterprise: {
				MaxActivations: 100,
				Features: models.LicenseFeatures{
					{Name: "api_access", Enabled: true},
					{Name: "export", Enabled: true},
					{Name: "sso", Enabled: true},
				},
			},
		},
		transitions: map[models.LicenseStatus]map[models.LicenseStatus]bool{
			models.LicenseStatusActive: {
				models.LicenseStatusExpired:   true,
				models.LicenseStatusSuspended: true,
				models.LicenseStatusRevoked:   true,
			},
			models.LicenseStatusSuspended: {
				models.LicenseStatusActive:  true,
				models.LicenseStatusExpired: true,
				models.LicenseStatusRevoked: true,
			},
		},
	}
}

func (r *Registry) Defaults(t models.LicenseType) (TypeDefaults, bool) {
	d, ok := r.defaults[t]
	if !ok {
		return TypeDefaults{}, false
	}
	d.Features = d.Features.Clone()
	return d, true
}

func (r *Registry) CanTransition(from, to models.LicenseStatus) bool {
	return r.transitions[from][to]
}

// Target returns the status an action moves a license into.
func (r *Registry) Target(action LicenseAction) (models.LicenseStatus, error) {
	switch action {
	case ActionSuspend:
		return models.LicenseStatusSuspended, nil
	case ActionResume:
		return models.LicenseStatusActive, nil
	case ActionRevoke:
		return models.LicenseStatusRevoked, nil
	}
	return "", newError(KindValidationFailed, "unknown license action %s", action)
}
