// internal/services/admin_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/utils"
)

// AdminService serves the operator views that read across owners.
type AdminService struct {
	db  *gorm.DB
	now func() time.Time
}

type AdminDashboardStats struct {
	TotalLicenses       int64            `json:"total_licenses"`
	LicensesByStatus    map[string]int64 `json:"licenses_by_status"`
	LicensesByType      map[string]int64 `json:"licenses_by_type"`
	NewLicensesToday    int64            `json:"new_licenses_today"`
	TotalActivations    int64            `json:"total_activations"`
	UsageEventsToday    int64            `json:"usage_events_today"`
	TransfersThisMonth  int64            `json:"transfers_this_month"`
	UnreadNotifications int64            `json:"unread_notifications"`
}

type AdminLicenseFilter struct {
	utils.PaginationParams
	OwnerID       string                `json:"owner_id,omitempty"`
	Status        *models.LicenseStatus `json:"status,omitempty"`
	LicenseType   *models.LicenseType   `json:"license_type,omitempty"`
	CreatedAfter  *time.Time            `json:"created_after,omitempty"`
	CreatedBefore *time.Time            `json:"created_before,omitempty"`
}

type AdminAuditFilter struct {
	utils.PaginationParams
	UserID       string     `json:"user_id,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   *uuid.UUID `json:"resource_id,omitempty"`
}

func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{db: db, now: time.Now}
}

type groupCount struct {
	Name  string
	Count int64
}

func (s *AdminService) GetDashboardStats(ctx context.Context) (*AdminDashboardStats, error) {
	db := s.db.WithContext(ctx)
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats := &AdminDashboardStats{
		LicensesByStatus: map[string]int64{},
		LicensesByType:   map[string]int64{},
	}

	if err := db.Model(&models.License{}).Count(&stats.TotalLicenses).Error; err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}

	var byStatus []groupCount
	if err := db.Model(&models.License{}).
		Select("status AS name, COUNT(*) AS count").
		Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to group licenses by status: %w", err)
	}
	for _, row := range byStatus {
		stats.LicensesByStatus[row.Name] = row.Count
	}

	var byType []groupCount
	if err := db.Model(&models.License{}).
		Select("type AS name, COUNT(*) AS count").
		Group("type").Scan(&byType).Error; err != nil {
		return nil, fmt.Errorf("failed to group licenses by type: %w", err)
	}
	for _, row := range byType {
		stats.LicensesByType[row.Name] = row.Count
	}

	db.Model(&models.License{}).Where("created_at >= ?", dayStart).Count(&stats.NewLicensesToday)
	db.Model(&models.Activation{}).Count(&stats.TotalActivations)
	db.Model(&models.UsageRecord{}).Where(clause.Gte{Column: clause.Column{Name: "timestamp"}, Value: dayStart}).Count(&stats.UsageEventsToday)
	db.Model(&models.LicenseTransfer{}).Where("transferred_at >= ?", monthStart).Count(&stats.TransfersThisMonth)
	db.Model(&models.AdminNotification{}).Where("status = ?", "unread").Count(&stats.UnreadNotifications)

	return stats, nil
}

func (s *AdminService) GetLicenses(ctx context.Context, filter AdminLicenseFilter) ([]models.License, int64, error) {
	var licenses []models.License
	var total int64

	query := s.db.WithContext(ctx).Model(&models.License{})

	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.LicenseType != nil {
		query = query.Where("type = ?", *filter.LicenseType)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *filter.CreatedBefore)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count licenses: %w", err)
	}

	if err := query.Order("created_at DESC").
		Offset(filter.Offset()).Limit(filter.Limit).
		Find(&licenses).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to get licenses: %w", err)
	}

	return licenses, total, nil
}

func (s *AdminService) GetAuditLogs(ctx context.Context, filter AdminAuditFilter) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.ResourceType != "" {
		query = query.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != nil {
		query = query.Where("resource_id = ?", *filter.ResourceID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	if err := query.Order("created_at DESC").
		Offset(filter.Offset()).Limit(filter.Limit).
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to get audit logs: %w", err)
	}

	return logs, total, nil
}

func (s *AdminService) GetNotifications(ctx context.Context, status string, params utils.PaginationParams) ([]models.AdminNotification, int64, error) {
	var notifications []models.AdminNotification
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AdminNotification{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	if err := query.Order("created_at DESC").
		Offset(params.Offset()).Limit(params.Limit).
		Find(&notifications).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to get notifications: %w", err)
	}

	return notifications, total, nil
}

func (s *AdminService) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	var notification models.AdminNotification
	if err := s.db.WithContext(ctx).First(&notification, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, "notification not found")
		}
		return fmt.Errorf("failed to get notification: %w", err)
	}
	if notification.Status == "read" {
		return nil
	}

	now := s.now().UTC()
	return s.db.WithContext(ctx).Model(&notification).Updates(map[string]interface{}{
		"status":  "read",
		"read_at": now,
	}).Error
}
