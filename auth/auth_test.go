package auth_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmwf/reqbroker/auth"
)

func TestPlainAuthenticatorValidCredentials(t *testing.T) {
	a := auth.NewPlainAuthenticator("test-realm", []auth.PlainCredential{
		{Username: "alice", Password: "secret", Roles: []string{"user"}},
	})
	creds := base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	user, err := a.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "test-realm", user.Realm)
	assert.True(t, user.HasRole("user"))
}

func TestPlainAuthenticatorWrongPassword(t *testing.T) {
	a := auth.NewPlainAuthenticator("test-realm", []auth.PlainCredential{
		{Username: "alice", Password: "secret"},
	})
	creds := base64.StdEncoding.EncodeToString([]byte("alice:wrong"))
	_, err := a.Authenticate(context.Background(), creds)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestJWTAuthenticatorExtractsSubjectAndRoles(t *testing.T) {
	secret := []byte("test-signing-key")
	claims := jwt.MapClaims{
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
		"resource_access": map[string]any{
			"reqbroker": map[string]any{"roles": []any{"admin", "user"}},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	a := auth.NewJWTAuthenticator("test-realm", "reqbroker", func(t *jwt.Token) (any, error) {
		return secret, nil
	}, nil)

	user, err := a.Authenticate(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)
	assert.True(t, user.HasRole("admin"))
	assert.True(t, user.HasRole("user"))
}

func TestJWTAuthenticatorRejectsInvalidSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "carol"})
	signed, err := token.SignedString([]byte("correct-key"))
	require.NoError(t, err)

	a := auth.NewJWTAuthenticator("test-realm", "reqbroker", func(t *jwt.Token) (any, error) {
		return []byte("wrong-key"), nil
	}, nil)

	_, err = a.Authenticate(context.Background(), signed)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}
