// internal/models/license.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type License struct {
	BaseModel
	Key                string          `json:"key" gorm:"size:19;not null;uniqueIndex"`
	KeyHash            string          `json:"-" gorm:"size:64;not null;uniqueIndex"`
	OwnerID            string          `json:"owner_id" gorm:"size:64;not null;index"`
	Type               LicenseType     `json:"type" gorm:"type:varchar(20);not null"`
	Status             LicenseStatus   `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	Features           LicenseFeatures `json:"features" gorm:"type:jsonb"`
	MaxActivations     int             `json:"max_activations" gorm:"not null;default:1"`
	CurrentActivations int             `json:"current_activations" gorm:"not null;default:0"`
	ExpirationDate     *time.Time      `json:"expiration_date,omitempty"`
	Restrictions       Restrictions    `json:"restrictions" gorm:"type:jsonb"`
	Metadata           JSONB           `json:"metadata,omitempty" gorm:"type:jsonb"`
	LastCheck          *time.Time      `json:"last_check,omitempty"`
	LastTransferAt     *time.Time      `json:"last_transfer_at,omitempty"`

	// Relationships
	ActivationHistory []Activation `json:"activation_history,omitempty" gorm:"foreignKey:LicenseID"`
}

// IsExpiredAt reports whether the expiration date has passed at the given instant.
func (l *License) IsExpiredAt(now time.Time) bool {
	return l.ExpirationDate != nil && now.After(*l.ExpirationDate)
}

// Feature returns the named feature and its position, or -1.
func (l *License) Feature(name string) (*LicenseFeature, int) {
	for i := range l.Features {
		if l.Features[i].Name == name {
			return &l.Features[i], i
		}
	}
	return nil, -1
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	c := *l
	c.Features = l.Features.Clone()
	c.Restrictions = l.Restrictions.Clone()
	c.Metadata = l.Metadata.Clone()
	if l.ExpirationDate != nil {
		t := *l.ExpirationDate
		c.ExpirationDate = &t
	}
	if l.LastCheck != nil {
		t := *l.LastCheck
		c.LastCheck = &t
	}
	if l.LastTransferAt != nil {
		t := *l.LastTransferAt
		c.LastTransferAt = &t
	}
	if l.ActivationHistory != nil {
		c.ActivationHistory = make([]Activation, len(l.ActivationHistory))
		for i := range l.ActivationHistory {
			c.ActivationHistory[i] = *l.ActivationHistory[i].Clone()
		}
	}
	return &c
}

type LicenseFeature struct {
	Name         string `json:"name" validate:"required,feature_name"`
	Enabled      bool   `json:"enabled"`
	MaxUsage     *int64 `json:"max_usage,omitempty" validate:"omitempty,min=0"`
	CurrentUsage *int64 `json:"current_usage,omitempty"`
}

// Usage returns the current usage, treating an unset counter as zero.
func (f LicenseFeature) Usage() int64 {
	if f.CurrentUsage == nil {
		return 0
	}
	return *f.CurrentUsage
}

// Allows reports whether amount more units fit under the cap.
func (f LicenseFeature) Allows(amount int64) bool {
	if f.MaxUsage == nil {
		return true
	}
	return f.Usage()+amount <= *f.MaxUsage
}

// Remaining returns the units left under the cap, or -1 when uncapped.
func (f LicenseFeature) Remaining() int64 {
	if f.MaxUsage == nil {
		return -1
	}
	if r := *f.MaxUsage - f.Usage(); r > 0 {
		return r
	}
	return 0
}

type LicenseFeatures []LicenseFeature

func (f LicenseFeatures) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal([]LicenseFeature{})
	}
	return json.Marshal([]LicenseFeature(f))
}

func (f *LicenseFeatures) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}
	return scanJSON(value, f)
}

func (f LicenseFeatures) Clone() LicenseFeatures {
	if f == nil {
		return nil
	}
	out := make(LicenseFeatures, len(f))
	for i, feat := range f {
		out[i] = feat
		if feat.MaxUsage != nil {
			v := *feat.MaxUsage
			out[i].MaxUsage = &v
		}
		if feat.CurrentUsage != nil {
			v := *feat.CurrentUsage
			out[i].CurrentUsage = &v
		}
	}
	return out
}

// Restrictions are optional allow-lists checked at activation time.
type Restrictions struct {
	AllowedIPs     []string `json:"allowed_ips,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
}

func (r Restrictions) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *Restrictions) Scan(value interface{}) error {
	if value == nil {
		*r = Restrictions{}
		return nil
	}
	return scanJSON(value, r)
}

func (r Restrictions) Clone() Restrictions {
	return Restrictions{
		AllowedIPs:     append([]string(nil), r.AllowedIPs...),
		AllowedDomains: append([]string(nil), r.AllowedDomains...),
	}
}

func (r Restrictions) Empty() bool {
	return len(r.AllowedIPs) == 0 && len(r.AllowedDomains) == 0
}

type LicenseTransfer struct {
	BaseModel
	LicenseID     uuid.UUID `json:"license_id" gorm:"type:uuid;not null;index"`
	FromOwnerID   string    `json:"from_owner_id" gorm:"size:64;not null"`
	ToOwnerID     string    `json:"to_owner_id" gorm:"size:64;not null"`
	TransferredAt time.Time `json:"transferred_at" gorm:"not null"`
}
