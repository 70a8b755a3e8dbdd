package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ecmwf/reqbroker/request"
)

// KeyFunc resolves the key(s) used to verify a token, matching
// jwt_authentication.py's cached get_certs() call against cert_url;
// the caching and HTTP fetch live with whatever KeyFunc implementation
// the caller wires in (e.g. a JWKS client), not in this package.
type KeyFunc = jwt.Keyfunc

// JWTAuthenticator validates bearer tokens, grounded on
// jwt_authentication.py: the subject claim becomes the User's username,
// and realm-specific client roles are read out of the standard
// Keycloak-style resource_access claim.
type JWTAuthenticator struct {
	Realm    string
	ClientID string
	Keyfunc  KeyFunc
	Parser   *jwt.Parser
}

// NewJWTAuthenticator builds a JWTAuthenticator. If parser is nil, a
// default parser (no options) is used.
func NewJWTAuthenticator(realm, clientID string, keyfunc KeyFunc, parser *jwt.Parser) *JWTAuthenticator {
	if parser == nil {
		parser = jwt.NewParser()
	}
	return &JWTAuthenticator{Realm: realm, ClientID: clientID, Keyfunc: keyfunc, Parser: parser}
}

func (a *JWTAuthenticator) Scheme() string { return "Bearer" }

type resourceAccessClaims struct {
	jwt.RegisteredClaims
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// Authenticate validates credentials as a JWT and extracts the
// resulting User, matching jwt_authentication.py's authenticate:
// "sub" becomes the username, and
// resource_access[client_id].roles becomes the role list.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, credentials string) (*request.User, error) {
	claims := &resourceAccessClaims{}
	token, err := a.Parser.ParseWithClaims(credentials, claims, a.Keyfunc)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}

	var roles []string
	if access, ok := claims.ResourceAccess[a.ClientID]; ok {
		roles = access.Roles
	}

	user, err := request.NewUser(sub, a.Realm, roles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return user, nil
}
