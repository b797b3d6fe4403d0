// internal/models/activation.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activation is immutable once created; it is only ever counted.
type Activation struct {
	ID             uuid.UUID `json:"activation_id" gorm:"type:uuid;primaryKey"`
	LicenseID      uuid.UUID `json:"license_id" gorm:"type:uuid;not null;index"`
	LicenseKeyHash string    `json:"-" gorm:"size:64;not null;index"`
	DeviceInfo     JSONB     `json:"device_info" gorm:"type:jsonb"`
	IPAddress      string    `json:"ip_address,omitempty" gorm:"size:45"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null"`
}

func (a *Activation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *Activation) Clone() *Activation {
	c := *a
	c.DeviceInfo = a.DeviceInfo.Clone()
	return &c
}

// UsageRecord is append-only.
type UsageRecord struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	LicenseID   uuid.UUID `json:"license_id" gorm:"type:uuid;not null;index:idx_usage_license_feature"`
	FeatureName string    `json:"feature_name" gorm:"size:100;not null;index:idx_usage_license_feature"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;index"`
	UsageCount  int64     `json:"usage_count" gorm:"not null"`
	Metadata    JSONB     `json:"metadata,omitempty" gorm:"type:jsonb"`
}

func (u *UsageRecord) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
