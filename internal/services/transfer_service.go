// internal/services/transfer_service.go
package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/store"
)

type TransferRequest struct {
	ToOwnerID string `json:"to_owner_id" validate:"required,max=64"`
}

// TransferManager moves a license to a new owner. Status, activations and
// features travel with the license unchanged.
type TransferManager struct {
	store               store.LicenseStore
	notificationService *NotificationService
	metrics             *metrics.Metrics
	logger              *logrus.Logger
	now                 func() time.Time
}

func NewTransferManager(licenseStore store.LicenseStore, notificationService *NotificationService, m *metrics.Metrics, logger *logrus.Logger) *TransferManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TransferManager{
		store:               licenseStore,
		notificationService: notificationService,
		metrics:             m,
		logger:              logger,
		now:                 time.Now,
	}
}

// Transfer succeeds only while fromOwner still owns the license.
func (t *TransferManager) Transfer(ctx context.Context, licenseID uuid.UUID, fromOwner, toOwner string) (*models.License, error) {
	license, err := t.transfer(ctx, licenseID, fromOwner, toOwner)
	t.metrics.RecordTransfer(transferResult(err))
	return license, err
}

func (t *TransferManager) TransferByKey(ctx context.Context, key, fromOwner, toOwner string) (*models.License, error) {
	if key == "" {
		return nil, newError(KindValidationFailed, "license key is required")
	}
	license, err := t.store.GetLicenseByKeyHash(ctx, HashKey(key))
	if err != nil {
		err = fromStore(err, "license")
		t.metrics.RecordTransfer(transferResult(err))
		return nil, err
	}
	return t.Transfer(ctx, license.ID, fromOwner, toOwner)
}

// TransferAs resolves the source owner from the acting user. Administrators
// transfer on behalf of the current owner.
func (t *TransferManager) TransferAs(ctx context.Context, actor Actor, licenseID uuid.UUID, toOwner string) (*models.License, error) {
	fromOwner := actor.UserID
	if actor.IsAdmin() {
		license, err := t.store.GetLicenseByID(ctx, licenseID)
		if err != nil {
			return nil, fromStore(err, "license")
		}
		fromOwner = license.OwnerID
	}
	return t.Transfer(ctx, licenseID, fromOwner, toOwner)
}

func (t *TransferManager) transfer(ctx context.Context, licenseID uuid.UUID, fromOwner, toOwner string) (*models.License, error) {
	toOwner = strings.TrimSpace(toOwner)
	if toOwner == "" {
		return nil, newError(KindValidationFailed, "target owner is required")
	}
	if toOwner == fromOwner {
		return nil, newError(KindValidationFailed, "license already belongs to %s", toOwner)
	}

	transfer := &models.LicenseTransfer{
		LicenseID:     licenseID,
		FromOwnerID:   fromOwner,
		ToOwnerID:     toOwner,
		TransferredAt: t.now().UTC(),
	}
	moved, err := t.store.TransferOwner(ctx, transfer)
	if err != nil {
		return nil, fromStore(err, "license")
	}
	if !moved {
		return nil, newError(KindPermissionDenied, "%s does not own license %s", fromOwner, licenseID)
	}

	t.logger.WithFields(logrus.Fields{
		"license_id": licenseID,
		"from":       fromOwner,
		"to":         toOwner,
	}).Info("License transferred")
	t.notificationService.LicenseTransferred(ctx, transfer)

	license, err := t.store.GetLicenseByID(ctx, licenseID)
	if err != nil {
		return nil, fromStore(err, "license")
	}
	return license, nil
}

func transferResult(err error) string {
	if err == nil {
		return "transferred"
	}
	return KindOf(err).String()
}
