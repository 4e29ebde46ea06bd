// Package forwarded authenticates requests that arrive through a trusted
// authenticating proxy which strips client-supplied identity headers and
// injects its own. The proxy is the trust boundary; this authenticator must
// only be enabled behind one.
package forwarded

import (
	"net/http"

	"github.com/itemvault/itemvault/internal/authn"
	"github.com/itemvault/itemvault/internal/provision"
	"github.com/itemvault/itemvault/pkg/authclaims"
)

type Config struct {
	EmailHeader             string
	UserHeader              string
	PreferredUsernameHeader string
	// Provider is recorded on provisioned rows as the identity source.
	Provider string
}

const (
	DefaultEmailHeader             = "X-Forwarded-Email"
	DefaultUserHeader              = "X-Forwarded-User"
	DefaultPreferredUsernameHeader = "X-Forwarded-Preferred-Username"
	DefaultProvider                = "oauth2-proxy"
)

type Authenticator struct {
	cfg         Config
	provisioner *provision.Service
}

var _ authn.Authenticator = (*Authenticator)(nil)

func NewAuthenticator(cfg Config, provisioner *provision.Service) *Authenticator {
	if cfg.EmailHeader == "" {
		cfg.EmailHeader = DefaultEmailHeader
	}
	if cfg.UserHeader == "" {
		cfg.UserHeader = DefaultUserHeader
	}
	if cfg.PreferredUsernameHeader == "" {
		cfg.PreferredUsernameHeader = DefaultPreferredUsernameHeader
	}
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	return &Authenticator{cfg: cfg, provisioner: provisioner}
}

// Authenticate reads the proxy's identity headers and resolves them to a
// stored user, provisioning one on first login. The email header is the
// identity anchor and is required; the remaining headers refine the profile.
func (a *Authenticator) Authenticate(r *http.Request) (*authclaims.Principal, error) {
	email := r.Header.Get(a.cfg.EmailHeader)
	if email == "" {
		return nil, authn.ErrMissingForwardedIdentity
	}

	username := r.Header.Get(a.cfg.PreferredUsernameHeader)
	if username == "" {
		username = r.Header.Get(a.cfg.UserHeader)
	}
	if username == "" {
		username = email
	}

	user, err := a.provisioner.EnsureUser(r.Context(), provision.Claims{
		Email:    email,
		Username: username,
		FullName: r.Header.Get(a.cfg.UserHeader),
		Provider: a.cfg.Provider,
	})
	if err != nil {
		return nil, err
	}

	return &authclaims.Principal{
		UserID:     user.ID,
		Email:      user.Email,
		IsAdmin:    user.IsAdmin,
		IsActive:   user.IsActive,
		AuthMethod: authclaims.MethodForwardedHeaders,
	}, nil
}
