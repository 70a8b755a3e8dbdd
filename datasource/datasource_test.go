package datasource_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmwf/reqbroker/datasource"
	"github.com/ecmwf/reqbroker/request"
)

func newUser(t *testing.T) *request.User {
	t.Helper()
	u, err := request.NewUser("alice", "default", nil)
	require.NoError(t, err)
	return u
}

func TestCreateUnknownTypeFails(t *testing.T) {
	_, err := datasource.Create("does-not-exist", nil)
	assert.Error(t, err)
}

func TestCreateEchoAndDummyAreRegistered(t *testing.T) {
	_, err := datasource.Create("echo", nil)
	require.NoError(t, err)
	_, err = datasource.Create("dummy", nil)
	require.NoError(t, err)
}

func TestEchoRetrieveReturnsUserRequestText(t *testing.T) {
	ds, err := datasource.Create("echo", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	r.UserRequest = "hello world"

	matched, succeeded, err := datasource.Dispatch(context.Background(), ds, nil, map[string]any{}, r, nil)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, succeeded)

	out, err := ds.Result(context.Background(), r)
	require.NoError(t, err)
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	ds.Destroy(context.Background(), r)
	out, err = ds.Result(context.Background(), r)
	require.NoError(t, err)
	data, _ = io.ReadAll(out)
	assert.Empty(t, data)
}

func TestEchoArchiveStoresInputBytes(t *testing.T) {
	ds, err := datasource.Create("echo", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	r.Verb = request.Archive

	matched, succeeded, err := datasource.Dispatch(context.Background(), ds, nil, map[string]any{}, r, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, succeeded)

	out, err := ds.Result(context.Background(), r)
	require.NoError(t, err)
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDummyRetrieveGeneratesRequestedSize(t *testing.T) {
	ds, err := datasource.Create("dummy", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	r.UserRequest = "20"

	matched, succeeded, err := datasource.Dispatch(context.Background(), ds, nil, map[string]any{}, r, nil)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, succeeded)

	out, err := ds.Result(context.Background(), r)
	require.NoError(t, err)
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Len(t, data, 20)
	assert.Equal(t, "polytopepolytopepoly", string(data))
}

func TestDummyRetrieveRejectsNonNumericSize(t *testing.T) {
	ds, err := datasource.Create("dummy", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	r.UserRequest = "not-a-number"

	_, _, err = datasource.Dispatch(context.Background(), ds, nil, map[string]any{}, r, nil)
	assert.Error(t, err)
}

func TestDummyArchiveIsUnsupportedButNotAnError(t *testing.T) {
	ds, err := datasource.Create("dummy", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	r.Verb = request.Archive

	matched, succeeded, err := datasource.Dispatch(context.Background(), ds, nil, map[string]any{}, r, strings.NewReader("x"))
	require.NoError(t, err)
	assert.True(t, matched, "match succeeds even though the verb is unsupported")
	assert.False(t, succeeded)
}

func TestDispatchRejectsWhenMatchRuleRequiresMissingKey(t *testing.T) {
	ds, err := datasource.Create("echo", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	cfg := map[string]any{"class": "od"}

	matched, _, err := datasource.Dispatch(context.Background(), ds, cfg, map[string]any{}, r, nil)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestDispatchRejectsWhenValueRuleMismatches(t *testing.T) {
	ds, err := datasource.Create("echo", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	cfg := map[string]any{"class": "od"}

	matched, _, err := datasource.Dispatch(context.Background(), ds, cfg, map[string]any{"class": "rd"}, r, nil)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestDispatchMatchesWhenValueRuleSatisfied(t *testing.T) {
	ds, err := datasource.Create("echo", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	r.UserRequest = "ok"
	cfg := map[string]any{"class": "od"}

	matched, succeeded, err := datasource.Dispatch(context.Background(), ds, cfg, map[string]any{"class": "od"}, r, nil)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, succeeded)
}

func TestDispatchAppliesDateMatchRule(t *testing.T) {
	ds, err := datasource.Create("echo", nil)
	require.NoError(t, err)

	r := request.NewRequest(newUser(t), "test")
	r.UserRequest = "ok"
	cfg := map[string]any{"date": "> 30d"}

	dateAgo := func(days int) string { return time.Now().UTC().AddDate(0, 0, -days).Format("20060102") }

	matched, _, err := datasource.Dispatch(context.Background(), ds, cfg, map[string]any{"date": dateAgo(40)}, r, nil)
	require.NoError(t, err)
	assert.True(t, matched, "date older than the cutoff matches")

	matched, _, err = datasource.Dispatch(context.Background(), ds, cfg, map[string]any{"date": dateAgo(5)}, r, nil)
	require.NoError(t, err)
	assert.False(t, matched, "date more recent than the cutoff does not match")
}
