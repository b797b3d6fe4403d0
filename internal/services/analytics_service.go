// internal/services/analytics_service.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/store"
)

type Analytics struct {
	LicenseID        uuid.UUID                `json:"license_id"`
	Status           models.LicenseStatus     `json:"status"`
	TotalActivations int                      `json:"total_activations"`
	ActiveDevices    []models.Activation      `json:"active_devices"`
	FeatureUsage     map[string]int64         `json:"feature_usage"`
	UsageHistory     []models.UsageRecord     `json:"usage_history"`
	Transfers        []models.LicenseTransfer `json:"transfers"`
	LastValidation   *time.Time               `json:"last_validation,omitempty"`
}

// UsageAnalyticsAggregator is read-only over the store.
type UsageAnalyticsAggregator struct {
	store        store.LicenseStore
	historyLimit int
}

func NewUsageAnalyticsAggregator(licenseStore store.LicenseStore, historyLimit int) *UsageAnalyticsAggregator {
	if historyLimit < 1 {
		historyLimit = 100
	}
	return &UsageAnalyticsAggregator{store: licenseStore, historyLimit: historyLimit}
}

func (a *UsageAnalyticsAggregator) GetAnalytics(ctx context.Context, actor Actor, licenseID uuid.UUID) (*Analytics, error) {
	license, err := a.store.GetLicenseByID(ctx, licenseID)
	if err != nil {
		return nil, fromStore(err, "license")
	}
	if err := requireManage(actor, license); err != nil {
		return nil, err
	}

	analytics := &Analytics{
		LicenseID:        license.ID,
		Status:           license.Status,
		TotalActivations: license.CurrentActivations,
		LastValidation:   license.LastCheck,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		activations, err := a.store.ListActivations(gctx, licenseID)
		analytics.ActiveDevices = activations
		return err
	})
	g.Go(func() error {
		totals, err := a.store.FeatureUsageTotals(gctx, licenseID)
		analytics.FeatureUsage = totals
		return err
	})
	g.Go(func() error {
		history, err := a.store.ListUsage(gctx, licenseID, a.historyLimit)
		analytics.UsageHistory = history
		return err
	})
	g.Go(func() error {
		transfers, err := a.store.ListTransfers(gctx, licenseID)
		analytics.Transfers = transfers
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fromStore(err, "license analytics")
	}

	if analytics.FeatureUsage == nil {
		analytics.FeatureUsage = map[string]int64{}
	}
	return analytics, nil
}
