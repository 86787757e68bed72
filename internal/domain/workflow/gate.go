package workflow

import "github.com/veritrail/veritrail/internal/domain/entity"

// Actor is the already-authenticated identity on whose behalf the engine acts
type Actor struct {
	UserID   string
	Role     string
	TenantID int64
}

// Authorized decides whether an actor may resolve an approval step.
//
// Empty required-roles and required-users sets mean anyone may act. When
// either set is non-empty, matching the actor's role against required-roles
// OR the actor's id against required-users is sufficient; both sets may be
// populated and satisfying one of them is enough.
func Authorized(step *entity.WorkflowStep, actor Actor) bool {
	if len(step.RequiredRoles) == 0 && len(step.RequiredUsers) == 0 {
		return true
	}

	for _, role := range step.RequiredRoles {
		if role == actor.Role {
			return true
		}
	}

	for _, user := range step.RequiredUsers {
		if user == actor.UserID {
			return true
		}
	}

	return false
}
