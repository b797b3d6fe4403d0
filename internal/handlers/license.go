// internal/handlers/license.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

type LicenseHandler struct {
	licenseService *services.LicenseService
	bulk           *services.BulkProvisioner
	transfer       *services.TransferManager
	analytics      *services.UsageAnalyticsAggregator
}

func NewLicenseHandler(svc *services.Services) *LicenseHandler {
	return &LicenseHandler{
		licenseService: svc.License,
		bulk:           svc.Bulk,
		transfer:       svc.Transfer,
		analytics:      svc.Analytics,
	}
}

type transferByKeyRequest struct {
	Key       string `json:"key" binding:"required"`
	ToOwnerID string `json:"to_owner_id" binding:"required"`
}

func (h *LicenseHandler) licenseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid license ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *LicenseHandler) actor(c *gin.Context) (services.Actor, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
	}
	return actor, ok
}

// POST /licenses
func (h *LicenseHandler) CreateLicense(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.CreateLicenseRequest
	if !bindJSON(c, &req) {
		return
	}

	license, err := h.licenseService.Create(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyLicenseCreated),
		"license": license,
	})
}

// POST /licenses/bulk
func (h *LicenseHandler) BulkCreateLicenses(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.BulkCreateRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.bulk.BulkCreate(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyLicenseBulkCompleted, len(result.Succeeded), len(result.Failed)),
		"result":  result,
	})
}

// GET /licenses
func (h *LicenseHandler) ListLicenses(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	licenses, total, err := h.licenseService.ListByOwner(c.Request.Context(), actor, c.Query("owner_id"), params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(licenses, total, params))
}

// GET /licenses/:id
func (h *LicenseHandler) GetLicense(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	license, err := h.licenseService.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, license)
}

// PATCH /licenses/:id
func (h *LicenseHandler) UpdateLicense(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	var req services.UpdateLicenseRequest
	if !bindJSON(c, &req) {
		return
	}

	license, err := h.licenseService.Update(c.Request.Context(), actor, id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyLicenseUpdated),
		"license": license,
	})
}

// POST /licenses/:id/revoke
func (h *LicenseHandler) RevokeLicense(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	license, err := h.licenseService.Revoke(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyLicenseRevoked),
		"license": license,
	})
}

// POST /licenses/:id/actions/:action
func (h *LicenseHandler) ApplyAction(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.licenseID(c)
	if !ok {
		return
	}
	action, err := services.ParseLicenseAction(c.Param("action"))
	if err != nil {
		respondError(c, err)
		return
	}

	license, err := h.licenseService.ApplyAction(c.Request.Context(), actor, id, action)
	if err != nil {
		respondError(c, err)
		return
	}

	var key string
	switch action {
	case services.ActionSuspend:
		key = i18n.KeyLicenseSuspended
	case services.ActionResume:
		key = i18n.KeyLicenseResumed
	case services.ActionRevoke:
		key = i18n.KeyLicenseRevoked
	}
	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), key),
		"license": license,
	})
}

// POST /licenses/:id/features/:feature/:action
func (h *LicenseHandler) SetFeatureAccess(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.licenseID(c)
	if !ok {
		return
	}
	action, err := services.ParseFeatureAction(c.Param("action"))
	if err != nil {
		respondError(c, err)
		return
	}

	license, err := h.licenseService.SetFeatureAccess(c.Request.Context(), actor, id, c.Param("feature"), action)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyFeatureUpdated),
		"license": license,
	})
}

// POST /licenses/:id/transfer
func (h *LicenseHandler) TransferLicense(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	var req services.TransferRequest
	if !bindJSON(c, &req) {
		return
	}

	license, err := h.transfer.TransferAs(c.Request.Context(), actor, id, req.ToOwnerID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyLicenseTransferred),
		"license": license,
	})
}

// POST /licenses/transfer
func (h *LicenseHandler) TransferByKey(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req transferByKeyRequest
	if !bindJSON(c, &req) {
		return
	}

	license, err := h.transfer.TransferByKey(c.Request.Context(), req.Key, actor.UserID, req.ToOwnerID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyLicenseTransferred),
		"license": license,
	})
}

// GET /licenses/:id/analytics
func (h *LicenseHandler) GetAnalytics(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	analytics, err := h.analytics.GetAnalytics(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, analytics)
}
