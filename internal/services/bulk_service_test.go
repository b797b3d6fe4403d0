// internal/services/bulk_service_test.go
package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/store"
)

func newBulkServices(t *testing.T, exportDir string) (*Services, *store.MemoryStore) {
	t.Helper()
	memory := store.NewMemoryStore()
	var storage *StorageService
	if exportDir != "" {
		var err error
		storage, err = NewStorageService(&config.AWSConfig{LocalExportDir: exportDir, ExportPrefix: "bulk"})
		require.NoError(t, err)
	}
	svc := New(Deps{
		Store:   memory,
		Storage: storage,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Logger:  newQuietLogger(),
		Config:  testConfig(),
	})
	return svc, memory
}

func TestBulkCreateIssuesIndependentLicenses(t *testing.T) {
	svc, memory := newBulkServices(t, "")
	reseller := Actor{UserID: "reseller-1", Role: models.UserRoleReseller}

	result, err := svc.Bulk.BulkCreate(context.Background(), reseller, &BulkCreateRequest{
		Template: CreateLicenseRequest{OwnerID: "customer-1", Type: models.LicenseTypeStandard},
		Count:    12,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, result.Requested)
	assert.Len(t, result.Succeeded, 12)
	assert.Empty(t, result.Failed)
	assert.False(t, result.Cancelled)

	keys := make(map[string]bool)
	for _, license := range result.Succeeded {
		assert.Regexp(t, licenseKeyPattern, license.Key)
		assert.False(t, keys[license.Key])
		keys[license.Key] = true
	}

	_, total, err := memory.ListLicensesByOwner(context.Background(), "customer-1", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
}

func TestBulkCreateGivesEachLicenseItsOwnMetadata(t *testing.T) {
	svc, _ := newBulkServices(t, "")
	admin := Actor{UserID: "admin", Role: models.UserRoleAdmin}

	template := CreateLicenseRequest{
		OwnerID:  "customer-1",
		Type:     models.LicenseTypeStandard,
		Metadata: models.JSONB{"batch": "q3", "tags": map[string]interface{}{"region": "eu"}},
	}
	result, err := svc.Bulk.BulkCreate(context.Background(), admin, &BulkCreateRequest{Template: template, Count: 3})
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 3)

	result.Succeeded[0].Metadata["batch"] = "changed"
	result.Succeeded[0].Metadata["tags"].(map[string]interface{})["region"] = "us"

	for _, license := range result.Succeeded[1:] {
		assert.Equal(t, "q3", license.Metadata["batch"])
		assert.Equal(t, "eu", license.Metadata["tags"].(map[string]interface{})["region"])
	}
	assert.Equal(t, "q3", template.Metadata["batch"])
	assert.Equal(t, "eu", template.Metadata["tags"].(map[string]interface{})["region"])
}

func TestBulkCreateRejectsBadCounts(t *testing.T) {
	svc, _ := newBulkServices(t, "")
	admin := Actor{UserID: "admin", Role: models.UserRoleAdmin}

	_, err := svc.Bulk.BulkCreate(context.Background(), admin, &BulkCreateRequest{
		Template: CreateLicenseRequest{Type: models.LicenseTypeTrial},
		Count:    0,
	})
	assert.True(t, IsKind(err, KindValidationFailed))

	_, err = svc.Bulk.BulkCreate(context.Background(), admin, &BulkCreateRequest{
		Template: CreateLicenseRequest{Type: models.LicenseTypeTrial},
		Count:    51,
	})
	assert.True(t, IsKind(err, KindValidationFailed))

	user := Actor{UserID: "user-1", Role: models.UserRoleUser}
	_, err = svc.Bulk.BulkCreate(context.Background(), user, &BulkCreateRequest{
		Template: CreateLicenseRequest{OwnerID: "user-2", Type: models.LicenseTypeTrial},
		Count:    2,
	})
	assert.True(t, IsKind(err, KindPermissionDenied))
}

func TestBulkCreateRecordsPerItemFailures(t *testing.T) {
	svc, _ := newBulkServices(t, "")
	admin := Actor{UserID: "admin", Role: models.UserRoleAdmin}

	// Every key collides after the first insert.
	svc.Keys.random = func() (string, error) { return "ZZZZ-ZZZZ-ZZZZ-ZZZZ", nil }

	result, err := svc.Bulk.BulkCreate(context.Background(), admin, &BulkCreateRequest{
		Template: CreateLicenseRequest{Type: models.LicenseTypeTrial},
		Count:    4,
	})
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 1)
	require.Len(t, result.Failed, 3)
	for i, failure := range result.Failed {
		if i > 0 {
			assert.Greater(t, failure.Index, result.Failed[i-1].Index)
		}
		assert.Equal(t, KindDuplicateKeyRetryExhausted.String(), failure.Kind)
	}
}

func TestBulkCreateStopsOnCancellation(t *testing.T) {
	svc, memory := newBulkServices(t, "")
	admin := Actor{UserID: "admin", Role: models.UserRoleAdmin}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.Bulk.BulkCreate(ctx, admin, &BulkCreateRequest{
		Template: CreateLicenseRequest{Type: models.LicenseTypeTrial},
		Count:    5,
	})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 5)
	for i, failure := range result.Failed {
		assert.Equal(t, i, failure.Index)
		assert.Equal(t, "cancelled", failure.Kind)
	}

	_, total, err := memory.ListLicensesByOwner(context.Background(), "admin", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestBulkCreateExportsCSV(t *testing.T) {
	dir := t.TempDir()
	svc, _ := newBulkServices(t, dir)
	admin := Actor{UserID: "admin", Role: models.UserRoleAdmin}

	result, err := svc.Bulk.BulkCreate(context.Background(), admin, &BulkCreateRequest{
		Template: CreateLicenseRequest{Type: models.LicenseTypeTrial},
		Count:    3,
		Export:   true,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.ExportURL, "file://"), result.ExportURL)

	matches, err := filepath.Glob(filepath.Join(dir, "bulk", "licenses_*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "license_id,key,owner_id,type,max_activations,expiration_date", lines[0])
	for _, license := range result.Succeeded {
		assert.Contains(t, string(data), license.Key)
	}
}
