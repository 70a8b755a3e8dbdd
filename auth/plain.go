package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ecmwf/reqbroker/request"
)

// PlainCredential is one configured username/password/attributes entry,
// matching plain_authentication.py's config["users"] list.
type PlainCredential struct {
	Username   string
	Password   string
	Roles      []string
	Attributes map[string]any
}

// PlainAuthenticator validates HTTP Basic credentials against a static,
// configured user list, a literal port of plain_authentication.py. It
// exists primarily for local development and tests; production
// deployments are expected to wire JWTAuthenticator instead.
type PlainAuthenticator struct {
	Realm string
	Users []PlainCredential
}

func NewPlainAuthenticator(realm string, users []PlainCredential) *PlainAuthenticator {
	return &PlainAuthenticator{Realm: realm, Users: users}
}

func (a *PlainAuthenticator) Scheme() string { return "Basic" }

// Authenticate decodes credentials as base64("username:password") and
// matches it against the configured user list, matching
// plain_authentication.py's authenticate.
func (a *PlainAuthenticator) Authenticate(ctx context.Context, credentials string) (*request.User, error) {
	decoded, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: credentials could not be decoded", ErrInvalidCredentials)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, fmt.Errorf("%w: credentials could not be unpacked", ErrInvalidCredentials)
	}

	for _, u := range a.Users {
		if u.Username != username {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
			continue
		}
		user, err := request.NewUser(username, a.Realm, u.Roles)
		if err != nil {
			return nil, err
		}
		user.Attributes = u.Attributes
		return user, nil
	}
	return nil, fmt.Errorf("%w: invalid credentials", ErrInvalidCredentials)
}
