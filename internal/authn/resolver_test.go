package authn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itemvault/itemvault/internal/provision"
	"github.com/itemvault/itemvault/pkg/authclaims"
	"github.com/itemvault/itemvault/pkg/logger"
	"github.com/itemvault/itemvault/pkg/storage"
	"github.com/itemvault/itemvault/pkg/storage/memory"
)

type stubAuthenticator struct {
	principal *authclaims.Principal
	err       error
	calls     int
}

func (s *stubAuthenticator) Authenticate(*http.Request) (*authclaims.Principal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.principal, nil
}

func anonymousRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
}

func TestResolveJWTMode(t *testing.T) {
	bearer := &stubAuthenticator{principal: &authclaims.Principal{UserID: "user-1", AuthMethod: authclaims.MethodJWT}}
	forwarded := &stubAuthenticator{err: ErrMissingForwardedIdentity}

	r := NewResolver(ModeJWT, bearer, forwarded, logger.NewNoopLogger())

	principal, err := r.Resolve(anonymousRequest())
	require.NoError(t, err)
	require.Equal(t, "user-1", principal.UserID)
	require.Zero(t, forwarded.calls)
}

func TestResolveHybridPrefersBearer(t *testing.T) {
	bearer := &stubAuthenticator{principal: &authclaims.Principal{UserID: "user-1", AuthMethod: authclaims.MethodJWT}}
	forwarded := &stubAuthenticator{principal: &authclaims.Principal{UserID: "user-2", AuthMethod: authclaims.MethodForwardedHeaders}}

	r := NewResolver(ModeHybrid, bearer, forwarded, logger.NewNoopLogger())

	principal, err := r.Resolve(anonymousRequest())
	require.NoError(t, err)
	require.Equal(t, "user-1", principal.UserID)
	require.Zero(t, forwarded.calls)
}

func TestResolveHybridFallsThroughOnAbsentToken(t *testing.T) {
	bearer := &stubAuthenticator{err: ErrMissingBearerToken}
	forwarded := &stubAuthenticator{principal: &authclaims.Principal{UserID: "user-2", AuthMethod: authclaims.MethodForwardedHeaders}}

	r := NewResolver(ModeHybrid, bearer, forwarded, logger.NewNoopLogger())

	principal, err := r.Resolve(anonymousRequest())
	require.NoError(t, err)
	require.Equal(t, "user-2", principal.UserID)
}

func TestResolveHybridFallsThroughOnRejectedToken(t *testing.T) {
	bearer := &stubAuthenticator{err: ErrInvalidBearerToken}
	forwarded := &stubAuthenticator{principal: &authclaims.Principal{UserID: "user-2", AuthMethod: authclaims.MethodForwardedHeaders}}

	r := NewResolver(ModeHybrid, bearer, forwarded, logger.NewNoopLogger())

	principal, err := r.Resolve(anonymousRequest())
	require.NoError(t, err)
	require.Equal(t, "user-2", principal.UserID)
}

func TestResolveHybridReportsTokenFailureOverAbsentHeaders(t *testing.T) {
	bearer := &stubAuthenticator{err: ErrInvalidBearerToken}
	forwarded := &stubAuthenticator{err: ErrMissingForwardedIdentity}

	r := NewResolver(ModeHybrid, bearer, forwarded, logger.NewNoopLogger())

	_, err := r.Resolve(anonymousRequest())
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.Equal(t, 1, forwarded.calls)
}

func TestResolveLogsRejectedCredentials(t *testing.T) {
	log, logs := logger.NewObserverLogger("debug")
	bearer := &stubAuthenticator{err: ErrInvalidBearerToken}

	r := NewResolver(ModeJWT, bearer, &stubAuthenticator{err: ErrMissingForwardedIdentity}, log)

	_, err := r.Resolve(anonymousRequest())
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.Equal(t, 1, logs.FilterMessage("authentication failed").Len())
}

func TestResolveSurfacesLinkingDenial(t *testing.T) {
	bearer := &stubAuthenticator{err: ErrMissingBearerToken}
	forwarded := &stubAuthenticator{err: provision.ErrAccountLinkingDenied}

	r := NewResolver(ModeHybrid, bearer, forwarded, logger.NewNoopLogger())

	_, err := r.Resolve(anonymousRequest())
	require.ErrorIs(t, err, provision.ErrAccountLinkingDenied)
}

func TestResolveLocalFallback(t *testing.T) {
	ds := memory.New()
	bearer := &stubAuthenticator{err: ErrMissingBearerToken}
	forwarded := &stubAuthenticator{err: ErrMissingForwardedIdentity}

	r := NewResolver(ModeHybrid, bearer, forwarded, logger.NewNoopLogger(),
		WithLocalFallback(provision.NewService(ds, logger.NewNoopLogger())))

	principal, err := r.Resolve(anonymousRequest())
	require.NoError(t, err)
	require.Equal(t, authclaims.MethodLocalFallback, principal.AuthMethod)
	require.Equal(t, localFallbackEmail, principal.Email)

	stored, err := ds.GetUserByEmail(context.Background(), localFallbackEmail)
	require.NoError(t, err)
	require.Equal(t, principal.UserID, stored.ID)
}

func TestResolveLocalFallbackSkippedWhenCredentialsPresented(t *testing.T) {
	ds := memory.New()
	require.NoError(t, ds.CreateUser(context.Background(), &storage.User{
		ID:        "user-1",
		Email:     "jdoe@example.com",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}))

	bearer := &stubAuthenticator{err: ErrInvalidBearerToken}
	forwarded := &stubAuthenticator{err: ErrMissingForwardedIdentity}

	r := NewResolver(ModeHybrid, bearer, forwarded, logger.NewNoopLogger(),
		WithLocalFallback(provision.NewService(ds, logger.NewNoopLogger())))

	_, err := r.Resolve(anonymousRequest())
	require.ErrorIs(t, err, ErrUnauthenticated)
}
