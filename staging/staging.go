// Package staging defines the object-storage contract results are
// written to and downloaded from, grounded on the original
// implementation's common/staging/staging.py and polytope_staging.py.
package staging

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResourceInfo describes one staged object, matching staging.py's
// ResourceInfo.
type ResourceInfo struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Staging is the object-storage contract: create/read/delete/query/stat
// plus list/wipe for garbage collection sweeps.
type Staging interface {
	// Create writes data under name with the given content type,
	// returning the externally-reachable URL for the object.
	Create(ctx context.Context, name string, data io.Reader, contentType string) (string, error)

	// Read returns the full contents of the named object.
	Read(ctx context.Context, name string) ([]byte, error)

	// Delete removes the named object, returning false if it didn't
	// exist.
	Delete(ctx context.Context, name string) (bool, error)

	// Query reports whether an object exists.
	Query(ctx context.Context, name string) (bool, error)

	// Stat returns the content type and size of an object.
	Stat(ctx context.Context, name string) (contentType string, size int64, err error)

	// GetURL returns the externally-reachable URL for an object without
	// requiring it to exist.
	GetURL(name string) string

	// List enumerates every staged object, used by gc's dangling-data
	// and size-based sweeps.
	List(ctx context.Context) ([]ResourceInfo, error)

	// Wipe deletes every staged object.
	Wipe(ctx context.Context) error
}

// ObjectKey builds the staging key for a request's result, matching the
// "id + '.' + ext(mime_type)" policy from spec.md / SPEC_FULL.md §9.
func ObjectKey(id uuid.UUID, ext string) string {
	if ext == "" {
		return id.String()
	}
	return id.String() + "." + ext
}

// RequestIDFromKey strips the mime-type suffix from a staging object
// name to recover the owning request's ID string, matching
// garbage_collector.py's `data.name.rsplit(".", 1)[0]`.
func RequestIDFromKey(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[:idx]
	}
	return name
}

// MimeExt maps a MIME type to the short extension used in ObjectKey.
// Other types containing a "/" fall back to their subtype (e.g.
// "application/csv" -> "csv"); anything else falls back to "bin".
func MimeExt(mimeType string) string {
	switch mimeType {
	case "application/json":
		return "json"
	case "text", "text/plain":
		return "txt"
	case "application/x-grib", "application/x-grib2":
		return "grib"
	case "application/octet-stream", "":
		return "bin"
	default:
		if idx := strings.LastIndex(mimeType, "/"); idx >= 0 {
			return mimeType[idx+1:]
		}
		return "bin"
	}
}
