package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/itemvault/itemvault/pkg/authclaims"
	"github.com/itemvault/itemvault/pkg/logger"
	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
)

const (
	ownerID    = "6a1d24a1-07f5-4cf3-a0e5-b3b2f2a64f01"
	strangerID = "95f58e63-55d5-42f4-8a9b-0dd2b1f3a702"
)

func TestAuthorize(t *testing.T) {
	authorizer := NewAuthorizer(logger.NewNoopLogger())

	tests := []struct {
		name      string
		principal *authclaims.Principal
		ownerID   string
		wantErr   error
	}{
		{
			name:      "owner_accesses_own_resource",
			principal: &authclaims.Principal{UserID: ownerID, IsActive: true},
			ownerID:   ownerID,
		},
		{
			name:      "non_owner_is_denied",
			principal: &authclaims.Principal{UserID: strangerID, IsActive: true},
			ownerID:   ownerID,
			wantErr:   serverErrors.ErrForbidden,
		},
		{
			name:      "admin_accesses_any_resource",
			principal: &authclaims.Principal{UserID: strangerID, IsActive: true, IsAdmin: true},
			ownerID:   ownerID,
		},
		{
			name:      "inactive_owner_is_denied",
			principal: &authclaims.Principal{UserID: ownerID, IsActive: false},
			ownerID:   ownerID,
			wantErr:   serverErrors.ErrForbidden,
		},
		{
			name:      "inactive_admin_is_denied",
			principal: &authclaims.Principal{UserID: strangerID, IsActive: false, IsAdmin: true},
			ownerID:   ownerID,
			wantErr:   serverErrors.ErrForbidden,
		},
		{
			name:    "missing_principal_is_unauthenticated",
			ownerID: ownerID,
			wantErr: serverErrors.ErrUnauthenticated,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := authorizer.Authorize(test.principal, test.ownerID)
			if test.wantErr != nil {
				require.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAuthorizeAdmin(t *testing.T) {
	authorizer := NewAuthorizer(logger.NewNoopLogger())

	require.NoError(t, authorizer.AuthorizeAdmin(
		&authclaims.Principal{UserID: ownerID, IsActive: true, IsAdmin: true}))

	err := authorizer.AuthorizeAdmin(
		&authclaims.Principal{UserID: ownerID, IsActive: true})
	require.ErrorIs(t, err, serverErrors.ErrForbidden)

	err = authorizer.AuthorizeAdmin(
		&authclaims.Principal{UserID: ownerID, IsActive: false, IsAdmin: true})
	require.ErrorIs(t, err, serverErrors.ErrForbidden)

	require.ErrorIs(t, authorizer.AuthorizeAdmin(nil), serverErrors.ErrUnauthenticated)
}

func TestListScope(t *testing.T) {
	authorizer := NewAuthorizer(logger.NewNoopLogger())

	require.Empty(t, authorizer.ListScope(
		&authclaims.Principal{UserID: ownerID, IsActive: true, IsAdmin: true}))
	require.Equal(t, ownerID, authorizer.ListScope(
		&authclaims.Principal{UserID: ownerID, IsActive: true}))
}
