package datasource

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/ecmwf/reqbroker/request"
	"github.com/google/uuid"
)

func init() {
	Register("echo", newEcho)
}

// echoDataSource archives whatever input it's given and retrieves the
// request's own UserRequest text back to the caller, a literal port of
// common/datasource/echo.py. With no configured match rules it never
// fails to match, same as the original.
type echoDataSource struct {
	mu   sync.Mutex
	data map[uuid.UUID][]byte
}

func newEcho(config map[string]any) (DataSource, error) {
	return &echoDataSource{data: make(map[uuid.UUID][]byte)}, nil
}

func (e *echoDataSource) Match(ctx context.Context, cfg map[string]any, coercedRequest map[string]any, user *request.User) error {
	return MatchFields(cfg, coercedRequest)
}

func (e *echoDataSource) Archive(ctx context.Context, r *request.Request, input io.Reader) error {
	buf, err := io.ReadAll(input)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.data[r.ID] = buf
	e.mu.Unlock()
	return nil
}

func (e *echoDataSource) Retrieve(ctx context.Context, r *request.Request, input io.Reader) error {
	e.mu.Lock()
	e.data[r.ID] = []byte(r.UserRequest)
	e.mu.Unlock()
	return nil
}

func (e *echoDataSource) Result(ctx context.Context, r *request.Request) (io.Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bytes.NewReader(e.data[r.ID]), nil
}

func (e *echoDataSource) MimeType() string { return "text" }

func (e *echoDataSource) Destroy(ctx context.Context, r *request.Request) {
	e.mu.Lock()
	delete(e.data, r.ID)
	e.mu.Unlock()
}

func (e *echoDataSource) Repr() string { return "EchoDataSource" }
