// internal/handlers/verification.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

// VerificationHandler serves the key-authenticated endpoints called by
// licensed software.
type VerificationHandler struct {
	validation  *services.ValidationEngine
	activation  *services.ActivationManager
	entitlement *services.EntitlementChecker
}

func NewVerificationHandler(svc *services.Services) *VerificationHandler {
	return &VerificationHandler{
		validation:  svc.Validation,
		activation:  svc.Activation,
		entitlement: svc.Entitlement,
	}
}

type keyRequest struct {
	Key string `json:"key" binding:"required"`
}

type activateRequest struct {
	Key        string       `json:"key" binding:"required"`
	DeviceInfo models.JSONB `json:"device_info"`
	IPAddress  string       `json:"ip_address"`
	Domain     string       `json:"domain"`
}

type featureRequest struct {
	Key     string `json:"key" binding:"required"`
	Feature string `json:"feature" binding:"required"`
}

type usageRequest struct {
	Key      string       `json:"key" binding:"required"`
	Feature  string       `json:"feature" binding:"required"`
	Amount   *int64       `json:"amount"`
	Metadata models.JSONB `json:"metadata"`
}

// POST /validate
// An inactive license is a normal answer here, not an error.
func (h *VerificationHandler) Validate(c *gin.Context) {
	var req keyRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.validation.Validate(c.Request.Context(), req.Key)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /activate
func (h *VerificationHandler) Activate(c *gin.Context) {
	var req activateRequest
	if !bindJSON(c, &req) {
		return
	}

	activation := services.ActivationRequest{
		DeviceInfo: req.DeviceInfo,
		IPAddress:  c.ClientIP(),
		ReportedIP: req.IPAddress,
		Domain:     req.Domain,
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&activation)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	record, err := h.activation.Activate(c.Request.Context(), req.Key, activation)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":    i18n.T(utils.GetLangFromContext(c), i18n.KeyLicenseActivated),
		"activation": record,
	})
}

// POST /features/check
func (h *VerificationHandler) CheckFeature(c *gin.Context) {
	var req featureRequest
	if !bindJSON(c, &req) {
		return
	}

	entitlement, err := h.entitlement.CheckFeature(c.Request.Context(), req.Key, req.Feature)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, entitlement)
}

// POST /features/usage
func (h *VerificationHandler) RecordUsage(c *gin.Context) {
	var req usageRequest
	if !bindJSON(c, &req) {
		return
	}
	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}

	entitlement, err := h.entitlement.RecordUsage(c.Request.Context(), req.Key, services.UsageRequest{
		Feature:  req.Feature,
		Amount:   amount,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, entitlement)
}
