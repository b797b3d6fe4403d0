// internal/services/activation_service.go
package services

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/store"
)

// IPAddress is the address the server observed and is the one checked
// against allowed_ips. ReportedIP is what the client claims; it is kept in
// device_info when it differs.
type ActivationRequest struct {
	DeviceInfo models.JSONB `json:"device_info"`
	IPAddress  string       `json:"ip_address,omitempty" validate:"omitempty,ip"`
	ReportedIP string       `json:"reported_ip,omitempty" validate:"omitempty,ip"`
	Domain     string       `json:"domain,omitempty" validate:"omitempty,max=253"`
}

// ActivationManager admits devices against max_activations.
type ActivationManager struct {
	store      store.LicenseStore
	validation *ValidationEngine
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	now        func() time.Time
}

func NewActivationManager(licenseStore store.LicenseStore, validation *ValidationEngine, m *metrics.Metrics, logger *logrus.Logger) *ActivationManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ActivationManager{
		store:      licenseStore,
		validation: validation,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

func (m *ActivationManager) Activate(ctx context.Context, key string, req ActivationRequest) (*models.Activation, error) {
	activation, err := m.activate(ctx, key, req)
	m.metrics.RecordActivation(activationResult(err))
	return activation, err
}

func (m *ActivationManager) activate(ctx context.Context, key string, req ActivationRequest) (*models.Activation, error) {
	license, result, err := m.validation.check(ctx, key)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, statusError(result.Status)
	}

	if err := checkRestrictions(license.Restrictions, req); err != nil {
		return nil, err
	}

	activation := &models.Activation{
		LicenseID:      license.ID,
		LicenseKeyHash: license.KeyHash,
		DeviceInfo:     deviceInfo(req),
		IPAddress:      req.IPAddress,
		CreatedAt:      m.now().UTC(),
	}

	added, err := m.store.AddActivationIfBelowLimit(ctx, activation)
	if err != nil {
		return nil, fromStore(err, "license")
	}
	if !added {
		return nil, newError(KindLimitExceeded, "activation limit of %d reached", license.MaxActivations)
	}

	m.logger.WithFields(logrus.Fields{
		"license_id":    license.ID,
		"activation_id": activation.ID,
		"ip_address":    activation.IPAddress,
	}).Info("License activated")
	return activation, nil
}

func deviceInfo(req ActivationRequest) models.JSONB {
	info := req.DeviceInfo.Clone()
	if req.ReportedIP == "" || req.ReportedIP == req.IPAddress {
		return info
	}
	if info == nil {
		info = models.JSONB{}
	}
	info["reported_ip"] = req.ReportedIP
	return info
}

func activationResult(err error) string {
	if err == nil {
		return "activated"
	}
	return KindOf(err).String()
}

func checkRestrictions(r models.Restrictions, req ActivationRequest) error {
	if len(r.AllowedIPs) > 0 && !ipAllowed(r.AllowedIPs, req.IPAddress) {
		return newError(KindPermissionDenied, "activation from %q is not allowed", req.IPAddress)
	}
	if len(r.AllowedDomains) > 0 && !domainAllowed(r.AllowedDomains, req.Domain) {
		return newError(KindPermissionDenied, "activation for domain %q is not allowed", req.Domain)
	}
	return nil
}

// ipAllowed matches addr against plain addresses and CIDR blocks.
func ipAllowed(allowed []string, addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if _, block, err := net.ParseCIDR(entry); err == nil && block.Contains(ip) {
				return true
			}
			continue
		}
		if allowedIP := net.ParseIP(entry); allowedIP != nil && allowedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// domainAllowed accepts an exact match or any subdomain of an entry.
func domainAllowed(allowed []string, domain string) bool {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return false
	}
	for _, entry := range allowed {
		entry = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(entry)), ".")
		if entry == "" {
			continue
		}
		if domain == entry || strings.HasSuffix(domain, "."+entry) {
			return true
		}
	}
	return false
}
