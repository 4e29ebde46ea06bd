// Package authn resolves raw request credentials into a request-scoped
// principal. Resolution answers "who is this"; whether they may act is the
// authorization gate's decision, so inactive users still resolve.
package authn

import (
	"errors"
	"net/http"

	"github.com/itemvault/itemvault/pkg/authclaims"
)

// Supported authentication modes.
const (
	ModeJWT              = "jwt"
	ModeForwardedHeaders = "forwarded-headers"
	ModeHybrid           = "hybrid"
)

var (
	ErrUnauthenticated          = errors.New("unauthenticated")
	ErrMissingBearerToken       = errors.New("missing bearer token")
	ErrInvalidBearerToken       = errors.New("invalid bearer token")
	ErrMissingForwardedIdentity = errors.New("missing forwarded identity headers")
)

// Authenticator authenticates a single credential source. A nil error means
// the subject was identified; the returned principal carries the attributes
// the gate needs.
type Authenticator interface {
	Authenticate(r *http.Request) (*authclaims.Principal, error)
}
