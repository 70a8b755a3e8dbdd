package request_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmwf/reqbroker/request"
)

func newUser(t *testing.T, roles ...string) *request.User {
	t.Helper()
	u, err := request.NewUser("alice", "default", roles)
	require.NoError(t, err)
	return u
}

func TestNewUserIsDeterministic(t *testing.T) {
	a, err := request.NewUser("alice", "default", []string{"admin"})
	require.NoError(t, err)
	b, err := request.NewUser("alice", "default", []string{"guest"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "ID derives from username+realm only")
}

func TestNewUserDistinguishesUsernameRealmSplit(t *testing.T) {
	a, err := request.NewUser("ab", "c", nil)
	require.NoError(t, err)
	b, err := request.NewUser("a", "bc", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewUserRejectsEmptyFields(t *testing.T) {
	_, err := request.NewUser("", "default", nil)
	assert.Error(t, err)
	_, err = request.NewUser("alice", "", nil)
	assert.Error(t, err)
}

func TestUserStringFormat(t *testing.T) {
	u := newUser(t)
	assert.Equal(t, "User(default:alice)", u.String())
}

func TestUserHasRole(t *testing.T) {
	u := newUser(t, "admin", "editor")
	assert.True(t, u.HasRole("editor"))
	assert.True(t, u.HasRole("nobody", "admin"))
	assert.False(t, u.HasRole("nobody"))
}

func TestUserIsAuthorizedEmptyRolesMeansUnrestricted(t *testing.T) {
	u := newUser(t)
	assert.True(t, u.IsAuthorized(nil))
	assert.True(t, u.IsAuthorized([]string{}))
}

func TestUserIsAuthorizedRequiresOverlap(t *testing.T) {
	u := newUser(t, "editor")
	assert.True(t, u.IsAuthorized([]string{"admin", "editor"}))
	assert.False(t, u.IsAuthorized([]string{"admin"}))
}

func TestRolesForRealm(t *testing.T) {
	perRealm := map[string][]string{"default": {"admin"}, "other": {"guest"}}
	assert.Equal(t, []string{"admin"}, request.RolesForRealm(perRealm, "default"))
	assert.Nil(t, request.RolesForRealm(perRealm, "missing"))
}

func TestNewRequestDefaults(t *testing.T) {
	u := newUser(t)
	r := request.NewRequest(u, "era5")
	assert.Equal(t, request.Retrieve, r.Verb)
	assert.Equal(t, request.Waiting, r.Status)
	assert.Equal(t, "era5", r.Collection)
	assert.Equal(t, "application/octet-stream", r.ContentType)
	assert.Equal(t, u, r.User)
	assert.NotEqual(t, r.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, r.Timestamp, r.LastModified)
}

func TestAppendMessageAccumulatesLines(t *testing.T) {
	r := request.NewRequest(newUser(t), "era5")
	r.AppendMessage("step %d", 1)
	r.AppendMessage("step %d", 2)
	assert.Equal(t, "step 1\nstep 2", r.UserMessage)
}

func TestSetStatusUpdatesLastModified(t *testing.T) {
	r := request.NewRequest(newUser(t), "era5")
	before := r.LastModified
	r.LastModified = before.Add(-time.Hour)
	r.SetStatus(request.Queued)
	assert.Equal(t, request.Queued, r.Status)
	assert.True(t, r.LastModified.After(before.Add(-time.Hour)))
}

func TestTouchUpdatesLastModifiedOnly(t *testing.T) {
	r := request.NewRequest(newUser(t), "era5")
	r.LastModified = r.LastModified.Add(-time.Hour)
	r.Status = request.Processing
	stale := r.LastModified
	r.Touch()
	assert.Equal(t, request.Processing, r.Status)
	assert.True(t, r.LastModified.After(stale))
}

func TestStatusActiveAndTerminal(t *testing.T) {
	for _, s := range []request.Status{request.Waiting, request.Uploading, request.Queued, request.Processing} {
		assert.True(t, s.Active(), s.String())
		assert.False(t, s.Terminal(), s.String())
	}
	for _, s := range []request.Status{request.Processed, request.Failed} {
		assert.False(t, s.Active(), s.String())
		assert.True(t, s.Terminal(), s.String())
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	for _, s := range []request.Status{request.Waiting, request.Uploading, request.Queued, request.Processing, request.Processed, request.Failed} {
		parsed, err := request.ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	parsed, err := request.ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, request.Unknown, parsed)
}

func TestParseStatusRejectsUnknownName(t *testing.T) {
	_, err := request.ParseStatus("BOGUS")
	assert.Error(t, err)
}

func TestParseVerbDefaultsToRetrieve(t *testing.T) {
	v, err := request.ParseVerb("")
	require.NoError(t, err)
	assert.Equal(t, request.Retrieve, v)

	v, err = request.ParseVerb("archive")
	require.NoError(t, err)
	assert.Equal(t, request.Archive, v)

	_, err = request.ParseVerb("delete")
	assert.Error(t, err)
}

func TestStatusMarshalUnmarshalText(t *testing.T) {
	s := request.Processed
	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "PROCESSED", string(text))

	var out request.Status
	require.NoError(t, out.UnmarshalText(text))
	assert.Equal(t, request.Processed, out)
}
