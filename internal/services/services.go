// internal/services/services.go
package services

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/store"
)

// Deps are the shared collaborators of the licensing engine. DB, Storage
// and Metrics are optional.
type Deps struct {
	Store   store.LicenseStore
	DB      *gorm.DB
	Storage *StorageService
	Metrics *metrics.Metrics
	Logger  *logrus.Logger
	Config  *config.Config
}

type Services struct {
	Registry     *Registry
	Keys         *KeyGenerator
	LastCheck    *LastCheckWriter
	Validation   *ValidationEngine
	Activation   *ActivationManager
	Entitlement  *EntitlementChecker
	License      *LicenseService
	Bulk         *BulkProvisioner
	Transfer     *TransferManager
	Analytics    *UsageAnalyticsAggregator
	Notification *NotificationService
	Admin        *AdminService
}

func New(deps Deps) *Services {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	registry := NewRegistry()
	keys := NewKeyGenerator(deps.Store, cfg.License.KeyGenerationAttempts)
	lastCheck := NewLastCheckWriter(deps.Store, cfg.License.LastCheckQueueSize, logger, deps.Metrics)

	var notification *NotificationService
	var admin *AdminService
	if deps.DB != nil {
		notification = NewNotificationService(deps.DB, &cfg.Email, logger)
		admin = NewAdminService(deps.DB)
	}

	validation := NewValidationEngine(deps.Store, registry, lastCheck, deps.Metrics, logger)
	license := NewLicenseService(deps.Store, registry, keys, notification, deps.Metrics, logger)

	return &Services{
		Registry:     registry,
		Keys:         keys,
		LastCheck:    lastCheck,
		Validation:   validation,
		Activation:   NewActivationManager(deps.Store, validation, deps.Metrics, logger),
		Entitlement:  NewEntitlementChecker(deps.Store, validation, deps.Metrics, logger),
		License:      license,
		Bulk:         NewBulkProvisioner(license, deps.Storage, notification, cfg.License.MaxBulkCount, cfg.License.BulkWorkers, logger),
		Transfer:     NewTransferManager(deps.Store, notification, deps.Metrics, logger),
		Analytics:    NewUsageAnalyticsAggregator(deps.Store, cfg.License.AnalyticsHistoryLimit),
		Notification: notification,
		Admin:        admin,
	}
}
