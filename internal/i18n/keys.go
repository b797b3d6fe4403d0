// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess            = "success"
	KeyError              = "error"
	KeyServiceUnavailable = "service.unavailable"
	KeyRateLimited        = "rate_limit.exceeded"

	// Authentication
	KeyAuthRequired     = "auth.required"
	KeyAuthInvalidToken = "auth.invalid_token"
	KeyAccessDenied     = "auth.access_denied"

	// Licenses
	KeyLicenseCreated       = "license.created"
	KeyLicenseUpdated       = "license.updated"
	KeyLicenseRevoked       = "license.revoked"
	KeyLicenseSuspended     = "license.suspended"
	KeyLicenseResumed       = "license.resumed"
	KeyLicenseTransferred   = "license.transferred"
	KeyLicenseNotFound      = "license.not_found"
	KeyLicenseExpired       = "license.expired"
	KeyLicenseInvalid       = "license.invalid"
	KeyLicenseLimitExceeded = "license.limit_exceeded"
	KeyLicensePermission    = "license.permission_denied"
	KeyLicenseKeyExhausted  = "license.key_generation_failed"
	KeyLicenseInvalidAction = "license.invalid_action"
	KeyLicenseBulkCompleted = "license.bulk_completed"
	KeyLicenseActivated     = "license.activated"
	KeyFeatureUpdated       = "feature.updated"
	KeyFeatureUsageRecorded = "feature.usage_recorded"

	// Validation
	KeyValidationRequired = "validation.required"
	KeyValidationInvalid  = "validation.invalid"

	// Notifications
	KeyNotificationSent     = "notification.sent"
	KeyNotificationFailed   = "notification.failed"
	KeyNotificationNotFound = "notification.not_found"
)
