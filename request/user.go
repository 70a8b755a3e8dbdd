package request

import (
	"fmt"

	"github.com/google/uuid"
)

// User identifies the authenticated principal behind a Request.
//
// ID is derived deterministically from Username and Realm so that the
// same principal always maps to the same identifier without a round
// trip to an identity provider, exactly as the original implementation's
// create_uuid does.
type User struct {
	ID         uuid.UUID
	Username   string
	Realm      string
	Roles      []string
	Attributes map[string]any
}

// NewUser builds a User and computes its deterministic ID.
//
// Username and Realm must both be non-empty.
func NewUser(username, realm string, roles []string) (*User, error) {
	if username == "" || realm == "" {
		return nil, fmt.Errorf("request: username and realm are required")
	}
	u := &User{
		Username: username,
		Realm:    realm,
		Roles:    roles,
	}
	u.ID = createUUID(username, realm)
	return u, nil
}

// createUUID reproduces user.py's create_uuid: a UUIDv5 (SHA1-based)
// derived from the nil namespace and a composed string that encodes both
// the username and realm together with their lengths, so that
// e.g. ("ab", "c") and ("a", "bc") never collide.
func createUUID(username, realm string) uuid.UUID {
	nullNamespace := uuid.UUID{}
	unique := fmt.Sprintf("%s%d%s%d", username, len(username), realm, len(realm))
	return uuid.NewSHA1(nullNamespace, []byte(unique))
}

// String matches the original's User.__str__: "User(realm:username)".
func (u *User) String() string {
	return fmt.Sprintf("User(%s:%s)", u.Realm, u.Username)
}

// HasRole reports whether the user holds any of the given roles.
func (u *User) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsAuthorized reports whether the user holds at least one of the given
// roles, mirroring user.py's is_authorized: an empty/nil roles list
// means "no restriction", so it is always authorized.
func (u *User) IsAuthorized(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	return u.HasRole(roles...)
}

// RolesForRealm extracts the roles a per-realm role map grants this
// user, mirroring is_authorized's "roles is a dict" branch used by
// collection/datasource role restrictions keyed by realm.
func RolesForRealm(perRealm map[string][]string, realm string) []string {
	return perRealm[realm]
}
