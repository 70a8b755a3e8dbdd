// Package datasource defines the pluggable backend contract a
// Collection dispatches requests to, grounded on the original
// implementation's common/datasource/datasource.py, echo.py and
// dummy.py. Concrete backends register themselves under a short type
// name the way the original's type_to_class_map resolves a "type" string
// to a datasource class via dynamic import; this package uses a Go
// constructor registry instead.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ecmwf/reqbroker/request"
)

// ErrNoMatch is returned by Match when the supplied request does not
// satisfy this datasource's configured match rules (wrong class, date
// out of range, ...). It is not an error condition for Collection.Dispatch:
// it just means try the next configured datasource.
var ErrNoMatch = errors.New("datasource: no match")

// ErrVerbNotSupported is returned by Retrieve/Archive when a datasource
// doesn't implement that verb, mirroring the original catching
// NotImplementedError around self.retrieve/self.archive.
var ErrVerbNotSupported = errors.New("datasource: verb not supported")

// DataSource is one pluggable backend a Collection may dispatch a
// Request to.
type DataSource interface {
	// Match reports whether the coerced user request satisfies this
	// datasource's configured rules. cfg is this datasource's `match:`
	// block (e.g. {"date": "> 30d"}), carried separately from the
	// datasource's own construction config. Returns ErrNoMatch (or a
	// wrapped form of it) on mismatch; any other error represents a
	// genuine failure evaluating the match rules.
	Match(ctx context.Context, cfg map[string]any, coercedRequest map[string]any, user *request.User) error

	// Retrieve fetches data matching the request, given any previously
	// uploaded input data (nil if this request had none).
	Retrieve(ctx context.Context, r *request.Request, input io.Reader) error

	// Archive stores input as the request's payload.
	Archive(ctx context.Context, r *request.Request, input io.Reader) error

	// Result returns a reader over the data produced by a prior
	// Retrieve/Archive call.
	Result(ctx context.Context, r *request.Request) (io.Reader, error)

	// MimeType names the content type Result produces.
	MimeType() string

	// Destroy releases any resources (temp files, buffers) associated
	// with r. Called unconditionally once dispatch finishes, mirroring
	// worker.py's `finally: datasource.destroy(request)`.
	Destroy(ctx context.Context, r *request.Request)

	// Repr names this datasource instance for logging/trace output,
	// matching the original's ds.repr().
	Repr() string
}

// Constructor builds a DataSource from its configuration block.
type Constructor func(config map[string]any) (DataSource, error)

var registry = map[string]Constructor{}

// Register adds a constructor under name to the registry. Call from an
// init() in the package implementing a concrete datasource type, the Go
// equivalent of the original's type_to_class_map entries.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Create instantiates the datasource named by config["type"].
func Create(dsType string, config map[string]any) (DataSource, error) {
	ctor, ok := registry[dsType]
	if !ok {
		return nil, fmt.Errorf("datasource: unknown type %q", dsType)
	}
	return ctor(config)
}

// Dispatch runs the match + verb-dispatch flow used by
// Collection.Dispatch, mirroring datasource.py's dispatch() method. It
// does NOT call Destroy: the caller is responsible for calling Result
// and then Destroy unconditionally afterward, matching worker.py's
// `finally: datasource.destroy(request)` placed around the whole
// dispatch-then-fetch-result sequence, not just the dispatch call.
func Dispatch(ctx context.Context, ds DataSource, cfg map[string]any, coercedRequest map[string]any, r *request.Request, input io.Reader) (matched bool, succeeded bool, err error) {
	if matchErr := ds.Match(ctx, cfg, coercedRequest, r.User); matchErr != nil {
		if errors.Is(matchErr, ErrNoMatch) {
			return false, false, nil
		}
		return false, false, matchErr
	}

	var verbErr error
	switch r.Verb {
	case request.Archive:
		verbErr = ds.Archive(ctx, r, input)
	default:
		verbErr = ds.Retrieve(ctx, r, input)
	}
	if verbErr != nil {
		if errors.Is(verbErr, ErrVerbNotSupported) {
			return true, false, nil
		}
		return true, false, verbErr
	}
	return true, true, nil
}
