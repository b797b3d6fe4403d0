// internal/models/models_test.go
package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestLicenseFeatureAllows(t *testing.T) {
	uncapped := LicenseFeature{Name: "export", Enabled: true}
	assert.True(t, uncapped.Allows(1_000_000))
	assert.Equal(t, int64(-1), uncapped.Remaining())

	capped := LicenseFeature{Name: "api_access", Enabled: true, MaxUsage: int64p(10), CurrentUsage: int64p(7)}
	assert.True(t, capped.Allows(3))
	assert.False(t, capped.Allows(4))
	assert.Equal(t, int64(3), capped.Remaining())

	over := LicenseFeature{MaxUsage: int64p(5), CurrentUsage: int64p(9)}
	assert.Equal(t, int64(0), over.Remaining())
	assert.Equal(t, int64(0), LicenseFeature{}.Usage())
}

func TestLicenseIsExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)

	assert.False(t, (&License{}).IsExpiredAt(now), "perpetual")
	assert.True(t, (&License{ExpirationDate: &past}).IsExpiredAt(now))
	assert.False(t, (&License{ExpirationDate: &now}).IsExpiredAt(now), "expires strictly after the instant")
}

func TestLicenseCloneDoesNotAlias(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	original := &License{
		Key:            "ABCD-EFGH-JKLM-NPQR",
		Features:       LicenseFeatures{{Name: "api_access", Enabled: true, MaxUsage: int64p(10), CurrentUsage: int64p(1)}},
		Restrictions:   Restrictions{AllowedIPs: []string{"10.0.0.0/8"}},
		Metadata:       JSONB{"plan": "gold"},
		ExpirationDate: &exp,
		ActivationHistory: []Activation{
			{IPAddress: "10.0.0.1", DeviceInfo: JSONB{"host": "a"}},
		},
	}

	clone := original.Clone()
	*clone.Features[0].CurrentUsage = 9
	clone.Restrictions.AllowedIPs[0] = "0.0.0.0/0"
	clone.Metadata["plan"] = "free"
	*clone.ExpirationDate = exp.Add(time.Hour)
	clone.ActivationHistory[0].DeviceInfo["host"] = "b"

	assert.Equal(t, int64(1), original.Features[0].Usage())
	assert.Equal(t, "10.0.0.0/8", original.Restrictions.AllowedIPs[0])
	assert.Equal(t, "gold", original.Metadata["plan"])
	assert.Equal(t, exp, *original.ExpirationDate)
	assert.Equal(t, "a", original.ActivationHistory[0].DeviceInfo["host"])

	var nilLicense *License
	assert.Nil(t, nilLicense.Clone())
}

func TestJSONBCloneIsDeep(t *testing.T) {
	original := JSONB{
		"plan":  "gold",
		"owner": map[string]interface{}{"team": "core"},
		"tags":  []interface{}{"a", map[string]interface{}{"b": 1}},
	}
	clone := original.Clone()
	clone["plan"] = "free"
	clone["owner"].(map[string]interface{})["team"] = "ops"
	clone["tags"].([]interface{})[1].(map[string]interface{})["b"] = 2

	assert.Equal(t, "gold", original["plan"])
	assert.Equal(t, "core", original["owner"].(map[string]interface{})["team"])
	assert.Equal(t, 1, original["tags"].([]interface{})[1].(map[string]interface{})["b"])
	assert.Nil(t, JSONB(nil).Clone())
}

func TestLicenseFeatureLookup(t *testing.T) {
	l := &License{Features: LicenseFeatures{{Name: "api_access"}, {Name: "export"}}}
	f, idx := l.Feature("export")
	require.NotNil(t, f)
	assert.Equal(t, 1, idx)

	f, idx = l.Feature("sso")
	assert.Nil(t, f)
	assert.Equal(t, -1, idx)
}

func TestJSONColumns(t *testing.T) {
	features := LicenseFeatures{{Name: "api_access", Enabled: true, MaxUsage: int64p(5)}}
	raw, err := features.Value()
	require.NoError(t, err)

	var scanned LicenseFeatures
	require.NoError(t, scanned.Scan(raw))
	assert.Equal(t, features, scanned)

	var fromString LicenseFeatures
	require.NoError(t, fromString.Scan(`[{"name":"export","enabled":false}]`))
	require.Len(t, fromString, 1)
	assert.Equal(t, "export", fromString[0].Name)

	nilRaw, err := LicenseFeatures(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), nilRaw)

	var restrictions Restrictions
	require.NoError(t, restrictions.Scan([]byte(`{"allowed_domains":["example.com"]}`)))
	assert.False(t, restrictions.Empty())
	require.NoError(t, restrictions.Scan(nil))
	assert.True(t, restrictions.Empty())

	var meta JSONB
	require.NoError(t, meta.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, float64(1), meta["a"])
	assert.Error(t, meta.Scan(42))
}

func TestLicenseTypeValid(t *testing.T) {
	for _, lt := range []LicenseType{LicenseTypeTrial, LicenseTypeStandard, LicenseTypePremium, LicenseTypeEnterprise} {
		assert.True(t, lt.Valid(), lt)
	}
	assert.False(t, LicenseType("gold").Valid())
}
