// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/models"
)

const (
	NotificationLicenseStatus   = "license_status"
	NotificationLicenseTransfer = "license_transfer"
	NotificationBulkCompleted   = "bulk_completed"
)

// NotificationService writes in-app admin notifications and mails the
// operator. A nil *NotificationService is a no-op.
type NotificationService struct {
	db     *gorm.DB
	config *config.EmailConfig
	logger *logrus.Logger

	send func(to, subject, body string) error
	wg   sync.WaitGroup
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(db *gorm.DB, emailConfig *config.EmailConfig, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if emailConfig == nil {
		emailConfig = &config.EmailConfig{}
	}
	s := &NotificationService{
		db:     db,
		config: emailConfig,
		logger: logger,
	}
	s.send = s.sendEmail
	return s
}

func (s *NotificationService) LicenseStatusChanged(ctx context.Context, license *models.License, from models.LicenseStatus, actorID string) {
	if s == nil {
		return
	}
	priority := "medium"
	if license.Status == models.LicenseStatusRevoked {
		priority = "high"
	}
	s.notify(ctx, &models.AdminNotification{
		Type:                NotificationLicenseStatus,
		Title:               fmt.Sprintf("License %s", license.Status),
		Message:             fmt.Sprintf("License %s owned by %s moved from %s to %s by %s", license.ID, license.OwnerID, from, license.Status, actorID),
		Priority:            priority,
		RelatedResourceType: "license",
		RelatedResourceID:   &license.ID,
	}, "license_status", map[string]interface{}{
		"LicenseID": license.ID.String(),
		"OwnerID":   license.OwnerID,
		"From":      string(from),
		"To":        string(license.Status),
		"Actor":     actorID,
	})
}

func (s *NotificationService) LicenseTransferred(ctx context.Context, transfer *models.LicenseTransfer) {
	if s == nil {
		return
	}
	licenseID := transfer.LicenseID
	s.notify(ctx, &models.AdminNotification{
		Type:                NotificationLicenseTransfer,
		Title:               "License transferred",
		Message:             fmt.Sprintf("License %s transferred from %s to %s", transfer.LicenseID, transfer.FromOwnerID, transfer.ToOwnerID),
		Priority:            "low",
		RelatedResourceType: "license",
		RelatedResourceID:   &licenseID,
	}, "license_transfer", map[string]interface{}{
		"LicenseID": transfer.LicenseID.String(),
		"From":      transfer.FromOwnerID,
		"To":        transfer.ToOwnerID,
	})
}

func (s *NotificationService) BulkCompleted(ctx context.Context, actorID string, result *BulkResult) {
	if s == nil || result == nil {
		return
	}
	priority := "low"
	if len(result.Failed) > 0 {
		priority = "medium"
	}
	s.notify(ctx, &models.AdminNotification{
		Type:                NotificationBulkCompleted,
		Title:               "Bulk license creation finished",
		Message:             fmt.Sprintf("%s created %d licenses, %d failed", actorID, len(result.Succeeded), len(result.Failed)),
		Priority:            priority,
		RelatedResourceType: "bulk_job",
	}, "bulk_completed", map[string]interface{}{
		"Actor":     actorID,
		"Succeeded": len(result.Succeeded),
		"Failed":    len(result.Failed),
		"ExportURL": result.ExportURL,
	})
}

// Wait blocks until queued emails have been handed to the SMTP server.
func (s *NotificationService) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func (s *NotificationService) notify(ctx context.Context, notification *models.AdminNotification, templateType string, data map[string]interface{}) {
	if s.db != nil {
		if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
			s.logger.WithError(err).WithField("type", notification.Type).Warn("Failed to create notification")
		}
	}

	if s.config.AdminEmail == "" {
		return
	}

	tmpl := s.getEmailTemplate(templateType)
	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		s.logger.WithError(err).WithField("template", templateType).Error("Failed to render email template")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.send(s.config.AdminEmail, tmpl.Subject, body); err != nil {
			s.logger.WithError(err).WithField("type", notification.Type).Warn("Failed to send notification email")
		}
	}()
}

func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.SMTPHost == "" {
		s.logger.WithFields(logrus.Fields{"to": to, "subject": subject}).Debug("SMTP not configured, skipping email")
		return nil
	}

	auth := smtp.PlainAuth("", s.config.SMTPUsername, s.config.SMTPPassword, s.config.SMTPHost)
	from := s.config.FromEmail
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromEmail)
	}
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s", from, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.config.SMTPHost, s.config.SMTPPort)
	return smtp.SendMail(addr, auth, s.config.FromEmail, []string{to}, msg)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(templateType string) EmailTemplate {
	templates := map[string]EmailTemplate{
		"license_status": {
			Subject: "License status changed",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>License {{.LicenseID}} is now {{.To}}</h2>
	<p>Owner: {{.OwnerID}}</p>
	<p>Previous status: {{.From}}. Changed by {{.Actor}}.</p>
</body>
</html>`,
		},
		"license_transfer": {
			Subject: "License transferred",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>License {{.LicenseID}} transferred</h2>
	<p>From {{.From}} to {{.To}}.</p>
</body>
</html>`,
		},
		"bulk_completed": {
			Subject: "Bulk license creation finished",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Bulk creation by {{.Actor}}</h2>
	<p>{{.Succeeded}} licenses created, {{.Failed}} failed.</p>
	{{if .ExportURL}}<a href="{{.ExportURL}}">Download export</a>{{end}}
</body>
</html>`,
		},
	}

	if tmpl, exists := templates[templateType]; exists {
		return tmpl
	}

	return EmailTemplate{
		Subject: "Notification",
		Body:    "<p>{{.Message}}</p>",
	}
}
