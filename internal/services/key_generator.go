// internal/services/key_generator.go
package services

import (
	"context"

	"github.com/javajoker/license-backend/internal/store"
	"github.com/javajoker/license-backend/internal/utils"
)

const (
	licenseKeyLength    = 16
	licenseKeyGroupSize = 4
)

// KeyGenerator produces license keys that are not yet present in the store.
type KeyGenerator struct {
	store    store.LicenseStore
	attempts int
	random   func() (string, error)
}

func NewKeyGenerator(licenseStore store.LicenseStore, attempts int) *KeyGenerator {
	if attempts < 1 {
		attempts = 1
	}
	return &KeyGenerator{
		store:    licenseStore,
		attempts: attempts,
		random:   randomLicenseKey,
	}
}

func randomLicenseKey() (string, error) {
	raw, err := utils.GenerateRandomString(utils.LicenseKeyCharset, licenseKeyLength)
	if err != nil {
		return "", err
	}
	return utils.GroupString(raw, licenseKeyGroupSize, "-"), nil
}

// HashKey is the one-way digest used for every key lookup.
func HashKey(key string) string {
	return utils.HashString(key)
}

// Generate returns a fresh key and its hash. The uniqueness check is
// advisory; the store's unique index remains the final arbiter.
func (g *KeyGenerator) Generate(ctx context.Context) (string, string, error) {
	for attempt := 0; attempt < g.attempts; attempt++ {
		key, err := g.random()
		if err != nil {
			return "", "", wrapError(KindInternal, err, "failed to generate license key")
		}
		hash := HashKey(key)

		exists, err := g.store.KeyHashExists(ctx, hash)
		if err != nil {
			return "", "", fromStore(err, "license")
		}
		if !exists {
			return key, hash, nil
		}
	}
	return "", "", newError(KindDuplicateKeyRetryExhausted, "no unique license key after %d attempts", g.attempts)
}
