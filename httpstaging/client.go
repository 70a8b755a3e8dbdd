// Package httpstaging implements staging.Staging over a small HTTP
// file-storage protocol, grounded on the original implementation's
// common/staging/polytope_staging.py: PUT to create, GET to read, HEAD
// to query/stat, DELETE to remove, and a root GET returning a JSON map
// of name -> {size, content_type, last_modified} to list. polytope_staging.py is itself only a
// client for an existing file-storage daemon; Server here is the Go
// counterpart that daemon would have been, backed by the local
// filesystem, since no such server exists anywhere in the example pack
// and spec.md requires one concrete, runnable Staging backend.
package httpstaging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ecmwf/reqbroker/reqerr"
	"github.com/ecmwf/reqbroker/staging"
)

// Client is an HTTP staging.Staging backed by a Server (or any service
// implementing the same protocol).
type Client struct {
	internalURL string // e.g. http://127.0.0.1:8000, never exposed to end users
	publicURL   string // e.g. https://downloads.example.com, used for GetURL
	httpClient  *http.Client
}

// NewClient builds a Client. internalURL is the address Server listens
// on (or its reverse proxy); publicURL is the externally reachable
// prefix handed back to clients via GetURL, matching
// polytope_staging.py's `url` vs `internal_url` split.
func NewClient(internalURL, publicURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{internalURL: internalURL, publicURL: publicURL, httpClient: httpClient}
}

func (c *Client) internalObjectURL(name string) string {
	return fmt.Sprintf("%s/%s", c.internalURL, name)
}

func (c *Client) GetURL(name string) string {
	if c.publicURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", c.publicURL, name)
}

func (c *Client) Create(ctx context.Context, name string, data io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.internalObjectURL(name), data)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", reqerr.Wrap(reqerr.ServiceUnavailable, err, "staging create %q", name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", reqerr.New(reqerr.Internal, "staging create %q: unexpected status %d", name, resp.StatusCode)
	}
	return c.GetURL(name), nil
}

func (c *Client) Read(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.internalObjectURL(name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, reqerr.Wrap(reqerr.ServiceUnavailable, err, "staging read %q", name)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, reqerr.New(reqerr.NotFound, "staging: resource %q not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, reqerr.New(reqerr.Internal, "staging read %q: unexpected status %d", name, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) Delete(ctx context.Context, name string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.internalObjectURL(name), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, reqerr.Wrap(reqerr.ServiceUnavailable, err, "staging delete %q", name)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, reqerr.New(reqerr.Internal, "staging delete %q: unexpected status %d", name, resp.StatusCode)
	}
}

func (c *Client) Query(ctx context.Context, name string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.internalObjectURL(name), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, reqerr.Wrap(reqerr.ServiceUnavailable, err, "staging query %q", name)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) Stat(ctx context.Context, name string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.internalObjectURL(name), nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, reqerr.Wrap(reqerr.ServiceUnavailable, err, "staging stat %q", name)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", 0, reqerr.New(reqerr.NotFound, "staging: resource %q not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, reqerr.New(reqerr.Internal, "staging stat %q: unexpected status %d", name, resp.StatusCode)
	}
	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return resp.Header.Get("Content-Type"), size, nil
}

func (c *Client) List(ctx context.Context) ([]staging.ResourceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.internalURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, reqerr.Wrap(reqerr.ServiceUnavailable, err, "staging list")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, reqerr.New(reqerr.Internal, "staging list: unexpected status %d", resp.StatusCode)
	}
	return decodeListing(resp.Body)
}

func (c *Client) Wipe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.internalURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reqerr.Wrap(reqerr.ServiceUnavailable, err, "staging wipe")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return reqerr.New(reqerr.Internal, "staging wipe: unexpected status %d", resp.StatusCode)
	}
	return nil
}
