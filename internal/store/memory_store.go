// internal/store/memory_store.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/license-backend/internal/models"
)

// MemoryStore is a process-local LicenseStore. Each method runs under one
// lock, which makes every conditional update atomic.
type MemoryStore struct {
	mu          sync.RWMutex
	licenses    map[uuid.UUID]*models.License
	byKeyHash   map[string]uuid.UUID
	byKey       map[string]uuid.UUID
	activations map[uuid.UUID][]models.Activation
	usage       map[uuid.UUID][]models.UsageRecord
	transfers   map[uuid.UUID][]models.LicenseTransfer
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses:    make(map[uuid.UUID]*models.License),
		byKeyHash:   make(map[string]uuid.UUID),
		byKey:       make(map[string]uuid.UUID),
		activations: make(map[uuid.UUID][]models.Activation),
		usage:       make(map[uuid.UUID][]models.UsageRecord),
		transfers:   make(map[uuid.UUID][]models.LicenseTransfer),
		now:         time.Now,
	}
}

func (s *MemoryStore) CreateLicense(ctx context.Context, license *models.License) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byKeyHash[license.KeyHash]; exists {
		return ErrDuplicateKey
	}
	if _, exists := s.byKey[license.Key]; exists {
		return ErrDuplicateKey
	}

	now := s.now().UTC()
	if license.ID == uuid.Nil {
		license.ID = uuid.New()
	}
	if license.CreatedAt.IsZero() {
		license.CreatedAt = now
	}
	license.UpdatedAt = now

	stored := license.Clone()
	stored.ActivationHistory = nil
	s.licenses[stored.ID] = stored
	s.byKeyHash[stored.KeyHash] = stored.ID
	s.byKey[stored.Key] = stored.ID
	return nil
}

func (s *MemoryStore) KeyHashExists(ctx context.Context, keyHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.byKeyHash[keyHash]
	return exists, nil
}

func (s *MemoryStore) GetLicenseByKeyHash(ctx context.Context, keyHash string) (*models.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKeyHash[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	return s.licenses[id].Clone(), nil
}

func (s *MemoryStore) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	license, ok := s.licenses[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := license.Clone()
	out.ActivationHistory = cloneActivations(s.activations[id])
	return out, nil
}

func (s *MemoryStore) ListLicensesByOwner(ctx context.Context, ownerID string, offset, limit int) ([]models.License, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []models.License
	for _, license := range s.licenses {
		if license.OwnerID == ownerID {
			owned = append(owned, *license.Clone())
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := int64(len(owned))
	if offset >= len(owned) {
		return []models.License{}, total, nil
	}
	end := len(owned)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return owned[offset:end], total, nil
}

func (s *MemoryStore) UpdateLicense(ctx context.Context, id uuid.UUID, patch LicensePatch) (*models.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	license, ok := s.licenses[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	next := license.Clone()
	if err := applyPatch(next, patch); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	next.UpdatedAt = s.now().UTC()
	s.licenses[id] = next
	s.mu.Unlock()

	return s.GetLicenseByID(ctx, id)
}

func (s *MemoryStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.LicenseStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[id]
	if !ok {
		return false, ErrNotFound
	}
	if license.Status != from {
		return false, nil
	}
	license.Status = to
	license.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) ExpireLicense(ctx context.Context, id uuid.UUID, from models.LicenseStatus, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[id]
	if !ok {
		return false, ErrNotFound
	}
	if license.Status != from || license.ExpirationDate == nil || !license.ExpirationDate.Before(at) {
		return false, nil
	}
	license.Status = models.LicenseStatusExpired
	license.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) TouchLastCheck(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	license.LastCheck = &t
	return nil
}

func (s *MemoryStore) AddActivationIfBelowLimit(ctx context.Context, activation *models.Activation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[activation.LicenseID]
	if !ok {
		return false, ErrNotFound
	}
	if license.CurrentActivations >= license.MaxActivations {
		return false, nil
	}

	if activation.ID == uuid.Nil {
		activation.ID = uuid.New()
	}
	if activation.CreatedAt.IsZero() {
		activation.CreatedAt = s.now().UTC()
	}
	license.CurrentActivations++
	license.UpdatedAt = activation.CreatedAt
	s.activations[license.ID] = append(s.activations[license.ID], *activation.Clone())
	return true, nil
}

func (s *MemoryStore) ConsumeFeatureUsage(ctx context.Context, record *models.UsageRecord) (*models.LicenseFeature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[record.LicenseID]
	if !ok {
		return nil, ErrNotFound
	}

	features := license.Features.Clone()
	feature, err := consumeFeature(features, record.FeatureName, record.UsageCount)
	if err != nil {
		return nil, err
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = s.now().UTC()
	}
	license.Features = features
	license.UpdatedAt = record.Timestamp
	s.usage[license.ID] = append(s.usage[license.ID], *record)
	return feature, nil
}

func (s *MemoryStore) MutateFeatures(ctx context.Context, id uuid.UUID, fn func(models.LicenseFeatures) (models.LicenseFeatures, error)) (*models.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	license, ok := s.licenses[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	features, err := fn(license.Features.Clone())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	license.Features = features
	license.UpdatedAt = s.now().UTC()
	s.mu.Unlock()

	return s.GetLicenseByID(ctx, id)
}

func (s *MemoryStore) TransferOwner(ctx context.Context, transfer *models.LicenseTransfer) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[transfer.LicenseID]
	if !ok {
		return false, ErrNotFound
	}
	if license.OwnerID != transfer.FromOwnerID {
		return false, nil
	}

	if transfer.ID == uuid.Nil {
		transfer.ID = uuid.New()
	}
	if transfer.TransferredAt.IsZero() {
		transfer.TransferredAt = s.now().UTC()
	}
	transfer.CreatedAt = transfer.TransferredAt
	transfer.UpdatedAt = transfer.TransferredAt

	at := transfer.TransferredAt
	license.OwnerID = transfer.ToOwnerID
	license.LastTransferAt = &at
	license.UpdatedAt = at
	s.transfers[license.ID] = append(s.transfers[license.ID], *transfer)
	return true, nil
}

func (s *MemoryStore) ListActivations(ctx context.Context, licenseID uuid.UUID) ([]models.Activation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneActivations(s.activations[licenseID]), nil
}

func (s *MemoryStore) ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]models.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.usage[licenseID]
	out := make([]models.UsageRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, records[i])
	}
	return out, nil
}

func (s *MemoryStore) FeatureUsageTotals(ctx context.Context, licenseID uuid.UUID) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for _, record := range s.usage[licenseID] {
		totals[record.FeatureName] += record.UsageCount
	}
	return totals, nil
}

func (s *MemoryStore) ListTransfers(ctx context.Context, licenseID uuid.UUID) ([]models.LicenseTransfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LicenseTransfer(nil), s.transfers[licenseID]...), nil
}

func cloneActivations(in []models.Activation) []models.Activation {
	out := make([]models.Activation, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}
