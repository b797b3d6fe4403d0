// internal/store/store_test.go
package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/license-backend/internal/models"
)

// StoreContractSuite runs the same behavioural checks against every backend.
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) LicenseStore
	store    LicenseStore
	ctx      context.Context
}

func (suite *StoreContractSuite) SetupTest() {
	suite.store = suite.newStore(suite.T())
	suite.ctx = context.Background()
}

func int64p(v int64) *int64 { return &v }

func newTestLicense(owner string, maxActivations int) *models.License {
	return &models.License{
		Key:            strings.ToUpper(uuid.NewString()[:19]),
		KeyHash:        strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", ""),
		OwnerID:        owner,
		Type:           models.LicenseTypeStandard,
		Status:         models.LicenseStatusActive,
		MaxActivations: maxActivations,
		Features: models.LicenseFeatures{
			{Name: "api_access", Enabled: true, MaxUsage: int64p(5), CurrentUsage: int64p(0)},
			{Name: "export", Enabled: false},
			{Name: "reports", Enabled: true},
		},
	}
}

func (suite *StoreContractSuite) create(owner string, maxActivations int) *models.License {
	license := newTestLicense(owner, maxActivations)
	require.NoError(suite.T(), suite.store.CreateLicense(suite.ctx, license))
	return license
}

func (suite *StoreContractSuite) TestCreateAndLookup() {
	license := suite.create("owner-1", 2)

	exists, err := suite.store.KeyHashExists(suite.ctx, license.KeyHash)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), exists)

	found, err := suite.store.GetLicenseByKeyHash(suite.ctx, license.KeyHash)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), license.ID, found.ID)
	assert.Equal(suite.T(), "owner-1", found.OwnerID)
	assert.Len(suite.T(), found.Features, 3)
	assert.Equal(suite.T(), int64(5), *found.Features[0].MaxUsage)

	_, err = suite.store.GetLicenseByKeyHash(suite.ctx, "missing")
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	_, err = suite.store.GetLicenseByID(suite.ctx, uuid.New())
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *StoreContractSuite) TestCreateRejectsDuplicateKeyHash() {
	license := suite.create("owner-1", 1)

	dup := newTestLicense("owner-2", 1)
	dup.KeyHash = license.KeyHash
	err := suite.store.CreateLicense(suite.ctx, dup)
	assert.ErrorIs(suite.T(), err, ErrDuplicateKey)
}

func (suite *StoreContractSuite) TestActivationNeverExceedsLimit() {
	license := suite.create("owner-1", 3)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := suite.store.AddActivationIfBelowLimit(suite.ctx, &models.Activation{
				LicenseID:      license.ID,
				LicenseKeyHash: license.KeyHash,
				DeviceInfo:     models.JSONB{"hostname": "box"},
			})
			assert.NoError(suite.T(), err)
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(suite.T(), 3, added)

	found, err := suite.store.GetLicenseByID(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, found.CurrentActivations)
	assert.Len(suite.T(), found.ActivationHistory, 3)

	activations, err := suite.store.ListActivations(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), activations, 3)
	assert.Equal(suite.T(), "box", activations[0].DeviceInfo["hostname"])
}

func (suite *StoreContractSuite) TestActivationUnknownLicense() {
	_, err := suite.store.AddActivationIfBelowLimit(suite.ctx, &models.Activation{LicenseID: uuid.New()})
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *StoreContractSuite) TestCompareAndSetStatus() {
	license := suite.create("owner-1", 1)

	ok, err := suite.store.CompareAndSetStatus(suite.ctx, license.ID, models.LicenseStatusActive, models.LicenseStatusRevoked)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), ok)

	ok, err = suite.store.CompareAndSetStatus(suite.ctx, license.ID, models.LicenseStatusActive, models.LicenseStatusExpired)
	assert.NoError(suite.T(), err)
	assert.False(suite.T(), ok)

	found, err := suite.store.GetLicenseByID(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.LicenseStatusRevoked, found.Status)

	_, err = suite.store.CompareAndSetStatus(suite.ctx, uuid.New(), models.LicenseStatusActive, models.LicenseStatusRevoked)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *StoreContractSuite) TestTouchLastCheck() {
	license := suite.create("owner-1", 1)
	at := time.Now().UTC().Truncate(time.Second)

	require.NoError(suite.T(), suite.store.TouchLastCheck(suite.ctx, license.ID, at))

	found, err := suite.store.GetLicenseByID(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), found.LastCheck)
	assert.WithinDuration(suite.T(), at, *found.LastCheck, time.Second)
}

func (suite *StoreContractSuite) TestConsumeFeatureUsageIsBounded() {
	license := suite.create("owner-1", 1)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
		limited  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.store.ConsumeFeatureUsage(suite.ctx, &models.UsageRecord{
				LicenseID:   license.ID,
				FeatureName: "api_access",
				UsageCount:  1,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				consumed++
			case assert.ErrorIs(suite.T(), err, ErrUsageLimit):
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(suite.T(), 5, consumed)
	assert.Equal(suite.T(), 3, limited)

	found, err := suite.store.GetLicenseByID(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	feature, _ := found.Feature("api_access")
	require.NotNil(suite.T(), feature)
	assert.Equal(suite.T(), int64(5), feature.Usage())

	totals, err := suite.store.FeatureUsageTotals(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), map[string]int64{"api_access": 5}, totals)

	recent, err := suite.store.ListUsage(suite.ctx, license.ID, 2)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), recent, 2)
}

func (suite *StoreContractSuite) TestConsumeFeatureUsageRejections() {
	license := suite.create("owner-1", 1)

	_, err := suite.store.ConsumeFeatureUsage(suite.ctx, &models.UsageRecord{LicenseID: license.ID, FeatureName: "export", UsageCount: 1})
	assert.ErrorIs(suite.T(), err, ErrFeatureDisabled)

	_, err = suite.store.ConsumeFeatureUsage(suite.ctx, &models.UsageRecord{LicenseID: license.ID, FeatureName: "nope", UsageCount: 1})
	assert.ErrorIs(suite.T(), err, ErrUnknownFeature)

	_, err = suite.store.ConsumeFeatureUsage(suite.ctx, &models.UsageRecord{LicenseID: license.ID, FeatureName: "api_access", UsageCount: 6})
	assert.ErrorIs(suite.T(), err, ErrUsageLimit)

	feature, err := suite.store.ConsumeFeatureUsage(suite.ctx, &models.UsageRecord{LicenseID: license.ID, FeatureName: "reports", UsageCount: 40})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(40), feature.Usage())

	records, err := suite.store.ListUsage(suite.ctx, license.ID, 0)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), records, 1)
}

func (suite *StoreContractSuite) TestMutateFeatures() {
	license := suite.create("owner-1", 1)

	updated, err := suite.store.MutateFeatures(suite.ctx, license.ID, func(features models.LicenseFeatures) (models.LicenseFeatures, error) {
		for i := range features {
			if features[i].Name == "export" {
				features[i].Enabled = true
			}
		}
		return features, nil
	})
	require.NoError(suite.T(), err)
	feature, _ := updated.Feature("export")
	require.NotNil(suite.T(), feature)
	assert.True(suite.T(), feature.Enabled)
}

func (suite *StoreContractSuite) TestUpdateLicenseKeepsActivationInvariant() {
	license := suite.create("owner-1", 3)
	for i := 0; i < 2; i++ {
		ok, err := suite.store.AddActivationIfBelowLimit(suite.ctx, &models.Activation{LicenseID: license.ID})
		require.NoError(suite.T(), err)
		require.True(suite.T(), ok)
	}

	one := 1
	_, err := suite.store.UpdateLicense(suite.ctx, license.ID, LicensePatch{MaxActivations: &one})
	assert.ErrorIs(suite.T(), err, ErrConditionFailed)

	five := 5
	premium := models.LicenseTypePremium
	updated, err := suite.store.UpdateLicense(suite.ctx, license.ID, LicensePatch{
		MaxActivations: &five,
		Type:           &premium,
		Metadata:       models.JSONB{"tier": "gold"},
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 5, updated.MaxActivations)
	assert.Equal(suite.T(), 2, updated.CurrentActivations)
	assert.Equal(suite.T(), models.LicenseTypePremium, updated.Type)
	assert.Equal(suite.T(), "gold", updated.Metadata["tier"])

	_, err = suite.store.UpdateLicense(suite.ctx, uuid.New(), LicensePatch{MaxActivations: &five})
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *StoreContractSuite) TestUpdateLicenseStatusGuard() {
	license := suite.create("owner-1", 1)
	ok, err := suite.store.CompareAndSetStatus(suite.ctx, license.ID, models.LicenseStatusActive, models.LicenseStatusRevoked)
	require.NoError(suite.T(), err)
	require.True(suite.T(), ok)

	_, err = suite.store.UpdateLicense(suite.ctx, license.ID, LicensePatch{
		Metadata:         models.JSONB{"note": "late"},
		DisallowStatuses: []models.LicenseStatus{models.LicenseStatusRevoked},
	})
	assert.ErrorIs(suite.T(), err, ErrStatusGuard)

	found, err := suite.store.GetLicenseByID(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	assert.Nil(suite.T(), found.Metadata["note"])

	_, err = suite.store.UpdateLicense(suite.ctx, license.ID, LicensePatch{
		Metadata:         models.JSONB{"note": "allowed"},
		DisallowStatuses: []models.LicenseStatus{models.LicenseStatusExpired},
	})
	assert.NoError(suite.T(), err)
}

func (suite *StoreContractSuite) TestExpireLicenseNeedsPastExpiration() {
	license := suite.create("owner-1", 1)
	now := time.Now().UTC()

	ok, err := suite.store.ExpireLicense(suite.ctx, license.ID, models.LicenseStatusActive, now)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok, "perpetual licenses never expire")

	future := now.Add(time.Hour)
	_, err = suite.store.UpdateLicense(suite.ctx, license.ID, LicensePatch{ExpirationDate: &future})
	require.NoError(suite.T(), err)
	ok, err = suite.store.ExpireLicense(suite.ctx, license.ID, models.LicenseStatusActive, now)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok)

	past := now.Add(-time.Hour)
	_, err = suite.store.UpdateLicense(suite.ctx, license.ID, LicensePatch{ExpirationDate: &past})
	require.NoError(suite.T(), err)
	ok, err = suite.store.ExpireLicense(suite.ctx, license.ID, models.LicenseStatusSuspended, now)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok, "status moved since it was read")

	ok, err = suite.store.ExpireLicense(suite.ctx, license.ID, models.LicenseStatusActive, now)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)

	found, err := suite.store.GetLicenseByID(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.LicenseStatusExpired, found.Status)

	_, err = suite.store.ExpireLicense(suite.ctx, uuid.New(), models.LicenseStatusActive, now)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *StoreContractSuite) TestTransferOwner() {
	license := suite.create("owner-1", 1)

	moved, err := suite.store.TransferOwner(suite.ctx, &models.LicenseTransfer{
		LicenseID:   license.ID,
		FromOwnerID: "owner-1",
		ToOwnerID:   "owner-2",
	})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), moved)

	moved, err = suite.store.TransferOwner(suite.ctx, &models.LicenseTransfer{
		LicenseID:   license.ID,
		FromOwnerID: "owner-1",
		ToOwnerID:   "owner-3",
	})
	require.NoError(suite.T(), err)
	assert.False(suite.T(), moved)

	found, err := suite.store.GetLicenseByID(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "owner-2", found.OwnerID)
	assert.NotNil(suite.T(), found.LastTransferAt)

	transfers, err := suite.store.ListTransfers(suite.ctx, license.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), transfers, 1)
	assert.Equal(suite.T(), "owner-2", transfers[0].ToOwnerID)
}

func (suite *StoreContractSuite) TestListLicensesByOwner() {
	for i := 0; i < 3; i++ {
		suite.create("owner-1", 1)
	}
	suite.create("owner-2", 1)

	page, total, err := suite.store.ListLicensesByOwner(suite.ctx, "owner-1", 0, 2)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(3), total)
	assert.Len(suite.T(), page, 2)

	page, total, err = suite.store.ListLicensesByOwner(suite.ctx, "owner-1", 2, 2)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(3), total)
	assert.Len(suite.T(), page, 1)

	page, total, err = suite.store.ListLicensesByOwner(suite.ctx, "nobody", 0, 10)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(0), total)
	assert.Empty(suite.T(), page)
}

func newSQLiteDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection to :memory: would open its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.License{},
		&models.Activation{},
		&models.UsageRecord{},
		&models.LicenseTransfer{},
	))
	return db
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreContractSuite{
		newStore: func(t *testing.T) LicenseStore { return NewMemoryStore() },
	})
}

func TestGormStoreSuite(t *testing.T) {
	suite.Run(t, &StoreContractSuite{
		newStore: func(t *testing.T) LicenseStore {
			return NewGormStore(newSQLiteDB(t), NewMutexLocker(), time.Second)
		},
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	license := newTestLicense("owner-1", 1)
	require.NoError(t, s.CreateLicense(ctx, license))

	found, err := s.GetLicenseByID(ctx, license.ID)
	require.NoError(t, err)
	found.Features[0].Enabled = false
	found.OwnerID = "mallory"

	again, err := s.GetLicenseByID(ctx, license.ID)
	require.NoError(t, err)
	assert.True(t, again.Features[0].Enabled)
	assert.Equal(t, "owner-1", again.OwnerID)
}
