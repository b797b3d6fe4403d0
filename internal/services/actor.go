// internal/services/actor.go
package services

import (
	"github.com/javajoker/license-backend/internal/models"
)

// Actor is the authenticated caller as asserted by the identity provider.
type Actor struct {
	UserID string
	Role   models.UserRole
}

// SystemActor is used by operator tooling that runs outside a request.
var SystemActor = Actor{UserID: "system", Role: models.UserRoleAdmin}

func (a Actor) IsAdmin() bool {
	return a.Role == models.UserRoleAdmin
}

// CanIssue reports whether the actor may issue licenses to other owners.
func (a Actor) CanIssue() bool {
	return a.Role == models.UserRoleAdmin || a.Role == models.UserRoleReseller
}

// CanManage reports whether the actor may administer the license.
func (a Actor) CanManage(license *models.License) bool {
	return a.IsAdmin() || (a.UserID != "" && license.OwnerID == a.UserID)
}

func requireManage(actor Actor, license *models.License) error {
	if !actor.CanManage(license) {
		return newError(KindPermissionDenied, "user %s may not manage license %s", actor.UserID, license.ID)
	}
	return nil
}
