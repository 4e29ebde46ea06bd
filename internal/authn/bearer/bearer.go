// Package bearer authenticates requests carrying an HS256-signed bearer token.
// The token subject is the user id; the stored user row is the source of truth
// for role and activation state, never the token payload.
package bearer

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/itemvault/itemvault/internal/authn"
	"github.com/itemvault/itemvault/pkg/authclaims"
	"github.com/itemvault/itemvault/pkg/storage"
)

type Config struct {
	// SharedSecret signs and verifies tokens. Symmetric on purpose: tokens
	// are minted and consumed by the same deployment.
	SharedSecret string
	Issuer       string
	Audience     string
}

type Authenticator struct {
	parser *jwt.Parser
	secret []byte
	users  storage.UserStore
}

var _ authn.Authenticator = (*Authenticator)(nil)

func NewAuthenticator(cfg Config, users storage.UserStore) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		parser: jwt.NewParser(opts...),
		secret: []byte(cfg.SharedSecret),
		users:  users,
	}
}

// Authenticate verifies the Authorization bearer token and loads the subject's
// user row. Expired, malformed, or foreign tokens and unknown subjects all
// collapse into the same invalid-token error so callers cannot probe for
// which user ids exist.
func (a *Authenticator) Authenticate(r *http.Request) (*authclaims.Principal, error) {
	raw, err := tokenFromHeader(r)
	if err != nil {
		return nil, err
	}

	token, err := a.parser.Parse(raw, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, authn.ErrInvalidBearerToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, authn.ErrInvalidBearerToken
	}

	user, err := a.users.GetUserByID(r.Context(), subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, authn.ErrInvalidBearerToken
		}
		return nil, err
	}

	return &authclaims.Principal{
		UserID:     user.ID,
		Email:      user.Email,
		IsAdmin:    user.IsAdmin,
		IsActive:   user.IsActive,
		AuthMethod: authclaims.MethodJWT,
	}, nil
}

func tokenFromHeader(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", authn.ErrMissingBearerToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", authn.ErrMissingBearerToken
	}
	return token, nil
}
