package reqerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmwf/reqbroker/reqerr"
)

func TestNewFormatsMessage(t *testing.T) {
	err := reqerr.New(reqerr.InvalidArgument, "bad field %q", "date")
	assert.Equal(t, reqerr.InvalidArgument, err.Kind)
	assert.Contains(t, err.Error(), "bad field \"date\"")
	assert.Contains(t, err.Error(), "invalid_argument")
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := reqerr.Wrap(reqerr.ServiceUnavailable, cause, "staging write failed")
	assert.Same(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, errors.Is(err, cause))
}

func TestErrorIsMatchesSameKindRegardlessOfMessage(t *testing.T) {
	err := reqerr.New(reqerr.NotFound, "request %s missing", "abc-123")
	assert.True(t, errors.Is(err, reqerr.ErrNotFound))
	assert.False(t, errors.Is(err, reqerr.ErrConflict))
}

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := reqerr.New(reqerr.Forbidden, "role mismatch")
	wrapped := fmt.Errorf("dispatch: %w", base)
	assert.Equal(t, reqerr.Forbidden, reqerr.KindOf(wrapped))
}

func TestKindOfDefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, reqerr.Internal, reqerr.KindOf(errors.New("boom")))
}

func TestSentinelsCoverExpectedKinds(t *testing.T) {
	cases := []struct {
		sentinel error
		kind     reqerr.Kind
	}{
		{reqerr.ErrNotFound, reqerr.NotFound},
		{reqerr.ErrConflict, reqerr.Conflict},
		{reqerr.ErrForbidden, reqerr.Forbidden},
		{reqerr.ErrUnauthorized, reqerr.Unauthorized},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, reqerr.KindOf(c.sentinel))
	}
}

func TestErrorAsExtractsUnderlyingError(t *testing.T) {
	err := reqerr.New(reqerr.Conflict, "already processing")
	var target *reqerr.Error
	require.ErrorAs(t, error(err), &target)
	assert.Equal(t, reqerr.Conflict, target.Kind)
}

func TestKindStringRoundTrip(t *testing.T) {
	kinds := []reqerr.Kind{
		reqerr.Unknown, reqerr.InvalidArgument, reqerr.Unauthorized,
		reqerr.Forbidden, reqerr.NotFound, reqerr.Conflict,
		reqerr.ServiceUnavailable, reqerr.Internal,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		assert.NotEmpty(t, s)
		assert.False(t, seen[s], "duplicate Kind.String() value %q", s)
		seen[s] = true
	}
}
