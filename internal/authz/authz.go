// Package authz implements the single authorization gate shared by the REST
// handlers and the GraphQL resolvers. Permission logic duplicated per
// transport drifts, so both transports call into this one decision.
package authz

import (
	"go.uber.org/zap"

	"github.com/itemvault/itemvault/pkg/authclaims"
	"github.com/itemvault/itemvault/pkg/logger"
	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
)

// Authorizer decides whether a resolved principal may act on a resource.
type Authorizer struct {
	logger logger.Logger
}

func NewAuthorizer(logger logger.Logger) *Authorizer {
	return &Authorizer{logger: logger}
}

// Authorize returns nil when the principal may access the resource owned by
// ownerID. The inactive check runs first: an inactive principal is denied
// even for resources it owns.
func (a *Authorizer) Authorize(principal *authclaims.Principal, ownerID string) error {
	if principal == nil {
		return serverErrors.ErrUnauthenticated
	}
	if !principal.IsActive {
		a.logger.Debug("denied inactive principal", zap.String("user_id", principal.UserID))
		return serverErrors.ErrForbidden
	}
	if principal.IsAdmin {
		return nil
	}
	if principal.UserID == ownerID {
		return nil
	}
	a.logger.Debug("denied non-owner principal",
		zap.String("user_id", principal.UserID),
		zap.String("owner_id", ownerID),
	)
	return serverErrors.ErrForbidden
}

// AuthorizeAdmin returns nil only for active admin principals.
func (a *Authorizer) AuthorizeAdmin(principal *authclaims.Principal) error {
	if principal == nil {
		return serverErrors.ErrUnauthenticated
	}
	if !principal.IsActive {
		return serverErrors.ErrForbidden
	}
	if !principal.IsAdmin {
		return serverErrors.ErrForbidden
	}
	return nil
}

// ListScope returns the owner id that list operations must be narrowed to.
// Admins see everything (empty scope); everyone else sees only their own
// resources. Callers must have authorized the principal first.
func (a *Authorizer) ListScope(principal *authclaims.Principal) string {
	if principal.IsAdmin {
		return ""
	}
	return principal.UserID
}
