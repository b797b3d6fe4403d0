// internal/metrics/metrics_test.go
package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordValidation("active")
	m.RecordValidation("active")
	m.RecordValidation("revoked")
	m.RecordActivation("limit_exceeded")
	m.RecordEntitlement("check", "")
	m.RecordStoreRetry("get_license_by_id")
	m.RecordLastCheckDropped()
	m.ObserveRequest("GET", "/v1/licenses/validate/:key", "200", 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.validations.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validations.WithLabelValues("revoked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activations.WithLabelValues("limit_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entitlements.WithLabelValues("check", "granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeRetries.WithLabelValues("get_license_by_id")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastCheckDrops))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordValidation("active")
		m.RecordActivation("ok")
		m.RecordEntitlement("usage", "feature_disabled")
		m.RecordLicenseCreated("trial", "bulk")
		m.RecordTransfer("ok")
		m.RecordStoreRetry("op")
		m.RecordLastCheckDropped()
		m.ObserveRequest("GET", "/", "200", time.Millisecond)
	})
}
