package authn

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/itemvault/itemvault/internal/provision"
	"github.com/itemvault/itemvault/pkg/authclaims"
	"github.com/itemvault/itemvault/pkg/logger"
)

// Identity used when no credentials are present and local fallback is
// enabled. It is provisioned like any forwarded identity so it owns real rows.
const (
	localFallbackEmail    = "local@itemvault.dev"
	localFallbackUsername = "local"
	localFallbackFullName = "Local Development User"
	localFallbackProvider = "local"
)

// Resolver dispatches authentication to the configured credential sources.
type Resolver struct {
	mode      string
	bearer    Authenticator
	forwarded Authenticator

	// localFallback substitutes a fixed development identity when the
	// request carries no credentials at all. Never enable it in production.
	localFallback bool
	provisioner   *provision.Service

	logger logger.Logger
}

type ResolverOption func(*Resolver)

// WithLocalFallback resolves credential-less requests to a fixed local
// development identity provisioned through the given service.
func WithLocalFallback(provisioner *provision.Service) ResolverOption {
	return func(r *Resolver) {
		r.localFallback = true
		r.provisioner = provisioner
	}
}

func NewResolver(mode string, bearer, forwarded Authenticator, logger logger.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		mode:      mode,
		bearer:    bearer,
		forwarded: forwarded,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve authenticates the request against the configured sources. In hybrid
// mode the bearer token is tried first and forwarded headers second; when a
// presented token is rejected and the forwarded headers are absent too, the
// token failure is what gets reported.
func (r *Resolver) Resolve(req *http.Request) (*authclaims.Principal, error) {
	principal, err := r.resolve(req)
	if err == nil {
		return principal, nil
	}

	if r.localFallback && r.credentialsAbsent(err) {
		return r.resolveLocal(req)
	}

	if errors.Is(err, provision.ErrAccountLinkingDenied) {
		return nil, err
	}

	r.logger.Debug("authentication failed", zap.String("mode", r.mode), zap.Error(err))
	return nil, ErrUnauthenticated
}

func (r *Resolver) resolve(req *http.Request) (*authclaims.Principal, error) {
	switch r.mode {
	case ModeJWT:
		return r.bearer.Authenticate(req)
	case ModeForwardedHeaders:
		return r.forwarded.Authenticate(req)
	case ModeHybrid:
		principal, bearerErr := r.bearer.Authenticate(req)
		if bearerErr == nil {
			return principal, nil
		}
		principal, forwardedErr := r.forwarded.Authenticate(req)
		if forwardedErr == nil {
			return principal, nil
		}
		// A rejected token outranks absent headers, so a bad token never
		// reads as "no credentials" to the local fallback.
		if !errors.Is(bearerErr, ErrMissingBearerToken) {
			return nil, bearerErr
		}
		return nil, forwardedErr
	default:
		return nil, ErrUnauthenticated
	}
}

// credentialsAbsent reports whether the failure means no credentials were
// presented, as opposed to credentials that were presented and rejected.
func (r *Resolver) credentialsAbsent(err error) bool {
	return errors.Is(err, ErrMissingBearerToken) || errors.Is(err, ErrMissingForwardedIdentity)
}

func (r *Resolver) resolveLocal(req *http.Request) (*authclaims.Principal, error) {
	user, err := r.provisioner.EnsureUser(req.Context(), provision.Claims{
		Email:    localFallbackEmail,
		Username: localFallbackUsername,
		FullName: localFallbackFullName,
		Provider: localFallbackProvider,
	})
	if err != nil {
		r.logger.Error("provisioning local fallback identity failed", zap.Error(err))
		return nil, ErrUnauthenticated
	}

	return &authclaims.Principal{
		UserID:     user.ID,
		Email:      user.Email,
		IsAdmin:    user.IsAdmin,
		IsActive:   user.IsActive,
		AuthMethod: authclaims.MethodLocalFallback,
	}, nil
}
