package staging_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ecmwf/reqbroker/staging"
)

func TestObjectKeyAppendsExtension(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String()+".json", staging.ObjectKey(id, "json"))
}

func TestObjectKeyWithoutExtension(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String(), staging.ObjectKey(id, ""))
}

func TestRequestIDFromKeyStripsExtension(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String(), staging.RequestIDFromKey(id.String()+".grib"))
}

func TestRequestIDFromKeyWithoutExtensionIsUnchanged(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String(), staging.RequestIDFromKey(id.String()))
}

func TestMimeExtKnownTypes(t *testing.T) {
	cases := map[string]string{
		"application/json":         "json",
		"text":                     "txt",
		"text/plain":               "txt",
		"application/x-grib":       "grib",
		"application/x-grib2":      "grib",
		"application/octet-stream": "bin",
		"":                         "bin",
	}
	for mime, want := range cases {
		assert.Equal(t, want, staging.MimeExt(mime), mime)
	}
}

func TestMimeExtFallsBackToSubtype(t *testing.T) {
	assert.Equal(t, "csv", staging.MimeExt("application/csv"))
}

func TestMimeExtUnrecognizedFallsBackToBin(t *testing.T) {
	assert.Equal(t, "bin", staging.MimeExt("totally-unknown"))
}
