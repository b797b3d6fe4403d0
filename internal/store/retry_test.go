// internal/store/retry_test.go
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/models"
)

// flakyStore fails the first n calls of GetLicenseByID with err.
type flakyStore struct {
	LicenseStore
	failures int
	err      error
	calls    int
}

func (f *flakyStore) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &models.License{BaseModel: models.BaseModel{ID: id}}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fastBackoff() BackoffConfig {
	return BackoffConfig{Initial: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond}
}

func newUsage(license *models.License, feature string, amount int64) *models.UsageRecord {
	return &models.UsageRecord{LicenseID: license.ID, FeatureName: feature, UsageCount: amount}
}

func TestRetryingStoreRecoversFromTransientErrors(t *testing.T) {
	flaky := &flakyStore{failures: 2, err: fmt.Errorf("%w: connection refused", ErrUnavailable)}
	retrying := NewRetryingStore(flaky, 3, fastBackoff(), quietLogger())

	var retried []string
	retrying.OnRetry = func(op string) { retried = append(retried, op) }

	id := uuid.New()
	license, err := retrying.GetLicenseByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, license.ID)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, []string{"get_license_by_id", "get_license_by_id"}, retried)
}

func TestRetryingStoreGivesUp(t *testing.T) {
	flaky := &flakyStore{failures: 10, err: ErrUnavailable}
	retrying := NewRetryingStore(flaky, 3, fastBackoff(), quietLogger())

	_, err := retrying.GetLicenseByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingStoreDoesNotRetryDefiniteErrors(t *testing.T) {
	flaky := &flakyStore{failures: 10, err: ErrNotFound}
	retrying := NewRetryingStore(flaky, 3, fastBackoff(), quietLogger())

	_, err := retrying.GetLicenseByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, flaky.calls)
}

// lostAckStore commits every write and then reports the connection as lost.
type lostAckStore struct {
	LicenseStore
	writes int
}

func (s *lostAckStore) CreateLicense(context.Context, *models.License) error {
	s.writes++
	return ErrUnavailable
}

func (s *lostAckStore) AddActivationIfBelowLimit(context.Context, *models.Activation) (bool, error) {
	s.writes++
	return false, ErrUnavailable
}

func (s *lostAckStore) ConsumeFeatureUsage(context.Context, *models.UsageRecord) (*models.LicenseFeature, error) {
	s.writes++
	return nil, ErrUnavailable
}

func (s *lostAckStore) TransferOwner(context.Context, *models.LicenseTransfer) (bool, error) {
	s.writes++
	return false, ErrUnavailable
}

func TestRetryingStoreRunsCountingWritesOnce(t *testing.T) {
	ctx := context.Background()
	lost := &lostAckStore{}
	retrying := NewRetryingStore(lost, 5, fastBackoff(), quietLogger())
	retrying.OnRetry = func(op string) { t.Errorf("unexpected retry of %s", op) }

	assert.ErrorIs(t, retrying.CreateLicense(ctx, &models.License{}), ErrUnavailable)
	_, err := retrying.AddActivationIfBelowLimit(ctx, &models.Activation{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = retrying.ConsumeFeatureUsage(ctx, &models.UsageRecord{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = retrying.TransferOwner(ctx, &models.LicenseTransfer{})
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Equal(t, 4, lost.writes)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := BackoffConfig{Initial: 10 * time.Millisecond, Multiplier: 2, Max: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, cfg.nextDelay(0, 0.5))
	assert.Equal(t, 20*time.Millisecond, cfg.nextDelay(1, 0.5))
	assert.Equal(t, 50*time.Millisecond, cfg.nextDelay(5, 0.5))

	jittered := BackoffConfig{Initial: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.5}
	assert.Equal(t, 50*time.Millisecond, jittered.nextDelay(0, 0))
	assert.Equal(t, 150*time.Millisecond, jittered.nextDelay(0, 1))
}

func TestTranslate(t *testing.T) {
	assert.Nil(t, translate(nil))
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), ErrNotFound)
	assert.ErrorIs(t, translate(gorm.ErrDuplicatedKey), ErrDuplicateKey)
	assert.ErrorIs(t, translate(errors.New("UNIQUE constraint failed: licenses.key_hash")), ErrDuplicateKey)
	assert.ErrorIs(t, translate(errors.New("dial tcp: connection refused")), ErrUnavailable)
	assert.ErrorIs(t, translate(errors.New("database is locked")), ErrUnavailable)
	assert.ErrorIs(t, translate(ErrUsageLimit), ErrUsageLimit)

	other := errors.New("syntax error")
	assert.Equal(t, other, translate(other))
}
