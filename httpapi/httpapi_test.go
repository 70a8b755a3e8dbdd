package httpapi_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecmwf/reqbroker/auth"
	"github.com/ecmwf/reqbroker/collection"
	_ "github.com/ecmwf/reqbroker/datasource" // registers "echo"
	"github.com/ecmwf/reqbroker/httpapi"
	"github.com/ecmwf/reqbroker/request"
	"github.com/ecmwf/reqbroker/staging"
	"github.com/ecmwf/reqbroker/store"
)

type memStore struct {
	mu   sync.Mutex
	reqs map[uuid.UUID]*request.Request
}

func newMemStore() *memStore { return &memStore{reqs: map[uuid.UUID]*request.Request{}} }

func (s *memStore) Add(ctx context.Context, r *request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs[r.ID] = r
	return nil
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return nil, assert.AnError
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) GetMany(ctx context.Context, filter store.Filter) ([]*request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*request.Request
	for _, r := range s.reqs {
		if filter.UserID != nil && r.User.ID != *filter.UserID {
			continue
		}
		if filter.Collection != "" && r.Collection != filter.Collection {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, r *request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reqs[r.ID]; !ok {
		return assert.AnError
	}
	cp := *r
	s.reqs[r.ID] = &cp
	return nil
}

func (s *memStore) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reqs, id)
	return nil
}

func (s *memStore) Revoke(ctx context.Context, userID uuid.UUID, id string) (int64, error) {
	return 0, nil
}

func (s *memStore) RemoveOld(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil }

func (s *memStore) Wipe(ctx context.Context) error { return nil }

type memStaging struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStaging() *memStaging { return &memStaging{objects: map[string][]byte{}} }

func (s *memStaging) Create(ctx context.Context, name string, data io.Reader, contentType string) (string, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(data); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = buf.Bytes()
	return "https://staging.example/" + name, nil
}

func (s *memStaging) Read(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[name], nil
}

func (s *memStaging) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	delete(s.objects, name)
	return ok, nil
}

func (s *memStaging) Query(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	return ok, nil
}

func (s *memStaging) Stat(ctx context.Context, name string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "", int64(len(s.objects[name])), nil
}

func (s *memStaging) GetURL(name string) string { return "https://staging.example/" + name }

func (s *memStaging) List(ctx context.Context) ([]staging.ResourceInfo, error) { return nil, nil }

func (s *memStaging) Wipe(ctx context.Context) error { return nil }

// staticAuthenticator authenticates any credentials equal to its Token as
// the configured user, used in place of auth.PlainAuthenticator/
// JWTAuthenticator to keep these tests focused on httpapi's own routing
// and response shapes.
type staticAuthenticator struct {
	scheme string
	token  string
	user   *request.User
}

func (a *staticAuthenticator) Scheme() string { return a.scheme }

func (a *staticAuthenticator) Authenticate(ctx context.Context, credentials string) (*request.User, error) {
	if credentials != a.token {
		return nil, auth.ErrInvalidCredentials
	}
	return a.user, nil
}

func newTestCollection(t *testing.T, roles []string) *collection.Collection {
	t.Helper()
	c, err := collection.New("test-collection", roles, collection.Limits{}, []collection.DataSourceConfig{
		{Type: "echo"},
	})
	require.NoError(t, err)
	return c
}

func newTestServer(t *testing.T, user *request.User, collections map[string]*collection.Collection) (*httptest.Server, *memStore, *memStaging) {
	t.Helper()
	st := newMemStore()
	stg := newMemStaging()
	authenticator := &staticAuthenticator{scheme: "Bearer", token: "valid-token", user: user}
	srv := httpapi.New(st, stg, collections, []auth.Authenticator{authenticator}, zap.NewNop().Sugar())
	return httptest.NewServer(srv), st, stg
}

func authedRequest(method, url string, body []byte) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer valid-token")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestLivenessCheckRequiresNoAuth(t *testing.T) {
	user, err := request.NewUser("alice", "test-realm", []string{"user"})
	require.NoError(t, err)
	ts, _, _ := newTestServer(t, user, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/test")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingAuthorizationIsRejected(t *testing.T) {
	user, err := request.NewUser("alice", "test-realm", []string{"user"})
	require.NoError(t, err)
	ts, _, _ := newTestServer(t, user, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/requests")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitAndQueryRetrieveRequest(t *testing.T) {
	user, err := request.NewUser("alice", "test-realm", []string{"user"})
	require.NoError(t, err)
	col := newTestCollection(t, nil)
	ts, st, _ := newTestServer(t, user, map[string]*collection.Collection{"test-collection": col})
	defer ts.Close()

	payload, _ := json.Marshal(map[string]string{"verb": "retrieve", "request": "hello: world"})
	req := authedRequest(http.MethodPost, ts.URL+"/api/v1/requests/test-collection", payload)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))

	all, err := st.GetMany(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, request.Retrieve, all[0].Verb)

	queryReq := authedRequest(http.MethodGet, ts.URL+"/api/v1/requests/"+all[0].ID.String(), nil)
	queryResp, err := http.DefaultClient.Do(queryReq)
	require.NoError(t, err)
	defer queryResp.Body.Close()
	assert.Equal(t, http.StatusOK, queryResp.StatusCode)
}

func TestForbiddenCollectionRejectsSubmit(t *testing.T) {
	user, err := request.NewUser("alice", "test-realm", []string{"user"})
	require.NoError(t, err)
	col := newTestCollection(t, []string{"admin"})
	ts, _, _ := newTestServer(t, user, map[string]*collection.Collection{"test-collection": col})
	defer ts.Close()

	payload, _ := json.Marshal(map[string]string{"verb": "retrieve", "request": "hello: world"})
	req := authedRequest(http.MethodPost, ts.URL+"/api/v1/requests/test-collection", payload)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestListCollectionsRespectsRoles(t *testing.T) {
	user, err := request.NewUser("alice", "test-realm", []string{"user"})
	require.NoError(t, err)
	open := newTestCollection(t, nil)
	restricted := newTestCollection(t, []string{"admin"})
	restricted.Name = "restricted-collection"
	ts, _, _ := newTestServer(t, user, map[string]*collection.Collection{
		"test-collection":       open,
		"restricted-collection": restricted,
	})
	defer ts.Close()

	req := authedRequest(http.MethodGet, ts.URL+"/api/v1/collections", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var names []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	assert.Contains(t, names, "test-collection")
	assert.NotContains(t, names, "restricted-collection")
}

func TestUploadStagesPayloadAndMarksWaiting(t *testing.T) {
	user, err := request.NewUser("alice", "test-realm", []string{"user"})
	require.NoError(t, err)
	col := newTestCollection(t, nil)
	ts, st, stg := newTestServer(t, user, map[string]*collection.Collection{"test-collection": col})
	defer ts.Close()

	r := request.NewRequest(user, "test-collection")
	r.Verb = request.Archive
	r.SetStatus(request.Uploading)
	require.NoError(t, st.Add(context.Background(), r))

	body := []byte("some archived payload")
	sum := md5.Sum(body)
	checksum := hex.EncodeToString(sum[:])

	uploadReq := authedRequest(http.MethodPost, ts.URL+"/api/v1/uploads/"+r.ID.String(), body)
	uploadReq.Header.Set("X-Checksum", checksum)
	uploadResp, err := http.DefaultClient.Do(uploadReq)
	require.NoError(t, err)
	defer uploadResp.Body.Close()
	require.Equal(t, http.StatusAccepted, uploadResp.StatusCode)

	updated, err := st.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.Waiting, updated.Status)
	assert.NotEmpty(t, updated.URL)

	_, ok := stg.objects[updated.URL[len("https://staging.example/"):]]
	assert.True(t, ok)
}

func TestUploadRejectsBadChecksum(t *testing.T) {
	user, err := request.NewUser("alice", "test-realm", []string{"user"})
	require.NoError(t, err)
	ts, st, _ := newTestServer(t, user, nil)
	defer ts.Close()

	r := request.NewRequest(user, "test-collection")
	r.Verb = request.Archive
	r.SetStatus(request.Uploading)
	require.NoError(t, st.Add(context.Background(), r))

	uploadReq := authedRequest(http.MethodPost, ts.URL+"/api/v1/uploads/"+r.ID.String(), []byte("payload"))
	uploadReq.Header.Set("X-Checksum", "not-the-right-checksum")
	uploadResp, err := http.DefaultClient.Do(uploadReq)
	require.NoError(t, err)
	defer uploadResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, uploadResp.StatusCode)
}
