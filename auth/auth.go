// Package auth implements request authentication, grounded on the
// original implementation's common/authentication/authentication.py
// and its jwt_authentication.py/plain_authentication.py backends.
// Authorization (role checks) lives on request.User itself
// (IsAuthorized/HasRole); this package only establishes who the caller
// is.
package auth

import (
	"context"
	"errors"

	"github.com/ecmwf/reqbroker/request"
)

// ErrInvalidCredentials is returned by Authenticate when the supplied
// credentials don't identify a valid user, mirroring the original's
// ForbiddenRequest raised from every concrete Authentication.authenticate.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Authenticator validates the credential string carried after the
// scheme name in an Authorization header (e.g. the token in
// "Bearer <token>") and returns the User it identifies, matching
// authentication.py's Authentication.authenticate contract.
type Authenticator interface {
	// Scheme names the HTTP authentication scheme this authenticator
	// expects (e.g. "Bearer", "Basic"), matching authentication_type.
	Scheme() string

	// Authenticate validates credentials and returns the User it
	// identifies, or ErrInvalidCredentials (wrapped) if they don't.
	Authenticate(ctx context.Context, credentials string) (*request.User, error)
}
