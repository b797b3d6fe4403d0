// internal/handlers/errors.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

type errorMapping struct {
	status int
	key    string
}

var kindMappings = map[services.Kind]errorMapping{
	services.KindNotFound:                   {http.StatusNotFound, i18n.KeyLicenseNotFound},
	services.KindExpired:                    {http.StatusForbidden, i18n.KeyLicenseExpired},
	services.KindRevoked:                    {http.StatusForbidden, i18n.KeyLicenseInvalid},
	services.KindSuspended:                  {http.StatusForbidden, i18n.KeyLicenseInvalid},
	services.KindLimitExceeded:              {http.StatusConflict, i18n.KeyLicenseLimitExceeded},
	services.KindPermissionDenied:           {http.StatusForbidden, i18n.KeyLicensePermission},
	services.KindDuplicateKeyRetryExhausted: {http.StatusServiceUnavailable, i18n.KeyLicenseKeyExhausted},
	services.KindValidationFailed:           {http.StatusBadRequest, i18n.KeyValidationInvalid},
	services.KindStoreUnavailable:           {http.StatusServiceUnavailable, i18n.KeyServiceUnavailable},
	services.KindInvalidTransition:          {http.StatusConflict, i18n.KeyLicenseInvalidAction},
}

// respondError is the only place a service error becomes an HTTP status.
func respondError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	mapping, ok := kindMappings[kind]
	if !ok {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled service error")
		utils.InternalErrorResponse(c, "")
		return
	}

	lang := utils.GetLangFromContext(c)
	var message string
	if mapping.key == i18n.KeyValidationInvalid {
		message = i18n.T(lang, mapping.key, "request")
	} else {
		message = i18n.T(lang, mapping.key)
	}
	code := strings.ToUpper(kind.String())

	var details interface{} = err.Error()
	if kind == services.KindValidationFailed {
		if validationErrors := utils.GetValidationErrors(err); len(validationErrors) > 0 {
			details = validationErrors
		}
	}
	if mapping.status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}

	utils.ErrorResponse(c, mapping.status, code, message, details)
}

// actorFromContext builds the caller from the claims set by AuthRequired.
func actorFromContext(c *gin.Context) (services.Actor, bool) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok || userID == "" {
		return services.Actor{}, false
	}
	role, _ := utils.GetRoleFromContext(c)
	if role == "" {
		role = string(models.UserRoleUser)
	}
	return services.Actor{UserID: userID, Role: models.UserRole(role)}, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	return true
}
