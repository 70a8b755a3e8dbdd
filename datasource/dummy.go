package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/ecmwf/reqbroker/request"
	"github.com/google/uuid"
)

func init() {
	Register("dummy", newDummy)
}

// dummyDataSource synthesizes a payload of a client-specified size by
// repeating the literal bytes "polytope", a literal port of
// common/datasource/dummy.py. It supports Retrieve only; Archive is
// unimplemented, matching the original raising NotImplementedError.
type dummyDataSource struct {
	mu   sync.Mutex
	data map[uuid.UUID][]byte
}

func newDummy(config map[string]any) (DataSource, error) {
	return &dummyDataSource{data: make(map[uuid.UUID][]byte)}, nil
}

func (d *dummyDataSource) Match(ctx context.Context, cfg map[string]any, coercedRequest map[string]any, user *request.User) error {
	return MatchFields(cfg, coercedRequest)
}

func (d *dummyDataSource) Archive(ctx context.Context, r *request.Request, input io.Reader) error {
	return ErrVerbNotSupported
}

const dummyRepeat = "polytope"

func (d *dummyDataSource) Retrieve(ctx context.Context, r *request.Request, input io.Reader) error {
	size, err := strconv.Atoi(r.UserRequest)
	if err != nil || size < 0 {
		return fmt.Errorf("dummy datasource: user_request must be a non-negative integer size, got %q", r.UserRequest)
	}
	full := size / len(dummyRepeat)
	rem := size % len(dummyRepeat)
	var buf bytes.Buffer
	buf.Grow(size)
	for i := 0; i < full; i++ {
		buf.WriteString(dummyRepeat)
	}
	buf.WriteString(dummyRepeat[:rem])
	d.mu.Lock()
	d.data[r.ID] = buf.Bytes()
	d.mu.Unlock()
	return nil
}

func (d *dummyDataSource) Result(ctx context.Context, r *request.Request) (io.Reader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.NewReader(d.data[r.ID]), nil
}

func (d *dummyDataSource) MimeType() string { return "text" }

func (d *dummyDataSource) Destroy(ctx context.Context, r *request.Request) {
	d.mu.Lock()
	delete(d.data, r.ID)
	d.mu.Unlock()
}

func (d *dummyDataSource) Repr() string { return "DummyDataSource" }
