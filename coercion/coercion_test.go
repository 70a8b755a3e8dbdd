package coercion_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmwf/reqbroker/coercion"
)

func TestCoerceValueScalarDate(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.CoerceValue(cfg, "date", "2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, "20240105", got)
}

func TestCoerceValueRelativeDate(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.CoerceValue(cfg, "date", "-1")
	require.NoError(t, err)
	want := time.Now().UTC().AddDate(0, 0, -1).Format("20060102")
	assert.Equal(t, want, got)
}

func TestCoerceValueDateRange(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.CoerceValue(cfg, "date", "20240101/to/2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, "20240101/to/20240105", got)
}

func TestCoerceValueList(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.CoerceValue(cfg, "expver", "0001/0002/0003")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002", "0003"}, got)
}

func TestCoerceValueDuplicateInListIsRejectedByCoerce(t *testing.T) {
	cfg := coercion.DefaultConfig()
	_, err := coercion.Coerce(cfg, map[string]any{"expver": "0001/0001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestCoerceNumberRejectsZeroByDefault(t *testing.T) {
	cfg := coercion.DefaultConfig()
	_, err := coercion.CoerceValue(cfg, "number", "0")
	assert.Error(t, err)
}

func TestCoerceNumberAllowsZeroWhenConfigured(t *testing.T) {
	cfg := coercion.DefaultConfig()
	cfg.NumberAllowZero = true
	got, err := coercion.CoerceValue(cfg, "number", "0")
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

func TestCoerceStepAcceptsDurationSuffix(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.CoerceValue(cfg, "step", "3d6h")
	require.NoError(t, err)
	assert.Equal(t, "3d6h", got)
}

func TestCoerceStepRejectsNegative(t *testing.T) {
	cfg := coercion.DefaultConfig()
	_, err := coercion.CoerceValue(cfg, "step", "-5")
	assert.Error(t, err)
}

func TestCoerceTimeRejectsNonZeroMinute(t *testing.T) {
	cfg := coercion.DefaultConfig()
	_, err := coercion.CoerceValue(cfg, "time", "0130")
	assert.Error(t, err)
}

func TestCoerceTimeAcceptsHourOnly(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.CoerceValue(cfg, "time", "6")
	require.NoError(t, err)
	assert.Equal(t, "0600", got)
}

func TestCoerceExpverZeroPads(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.CoerceValue(cfg, "expver", "1")
	require.NoError(t, err)
	assert.Equal(t, "0001", got)
}

func TestCoerceModelLowercases(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.CoerceValue(cfg, "model", "IFS")
	require.NoError(t, err)
	assert.Equal(t, "ifs", got)
}

func TestCoerceAggregatesMultipleKeyErrors(t *testing.T) {
	cfg := coercion.DefaultConfig()
	_, err := coercion.Coerce(cfg, map[string]any{
		"step": "-1",
		"time": "0145",
	})
	require.Error(t, err)
	var cerr *coercion.CoercionError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Errors, "step")
	assert.Contains(t, cerr.Errors, "time")
}

func TestCoercePassesThroughUnknownKeys(t *testing.T) {
	cfg := coercion.DefaultConfig()
	got, err := coercion.Coerce(cfg, map[string]any{"target": "mars.grib"})
	require.NoError(t, err)
	assert.Equal(t, "mars.grib", got["target"])
}
