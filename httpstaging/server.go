package httpstaging

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ecmwf/reqbroker/staging"
)

// listEntry is the per-object value of the root listing endpoint's
// JSON map, keyed by object name.
type listEntry struct {
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type"`
	LastModified int64  `json:"last_modified"`
}

// Server implements the PolytopeStaging wire protocol over the local
// filesystem: PUT/GET/HEAD/DELETE on /{name}, and GET/DELETE on / for
// listing/wiping everything, matching the requests Client issues.
type Server struct {
	rootDir string
	log     *zap.SugaredLogger
}

// NewServer builds a Server rooted at rootDir, creating it if absent.
func NewServer(rootDir string, log *zap.SugaredLogger) (*Server, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	return &Server{rootDir: rootDir, log: log}, nil
}

// Routes mounts the staging protocol's handlers onto r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.list)
	r.Delete("/", s.wipe)
	r.Put("/{name}", s.create)
	r.Get("/{name}", s.read)
	r.Head("/{name}", s.stat)
	r.Delete("/{name}", s.delete)
}

func (s *Server) path(name string) (string, bool) {
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return "", false
	}
	return filepath.Join(s.rootDir, name), true
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.path(name)
	if !ok {
		http.Error(w, "invalid name", http.StatusBadRequest)
		return
	}
	f, err := os.Create(p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	if _, err := f.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType != "" {
		_ = os.WriteFile(p+".type", []byte(contentType), 0o644)
	}
	s.log.Infow("staged object created", "name", name)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.path(name)
	if !ok {
		http.Error(w, "invalid name", http.StatusBadRequest)
		return
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", s.contentType(p))
	http.ServeContent(w, r, name, time.Time{}, f)
}

func (s *Server) stat(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.path(name)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", s.contentType(p))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.path(name)
	if !ok {
		http.Error(w, "invalid name", http.StatusBadRequest)
		return
	}
	if err := os.Remove(p); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = os.Remove(p + ".type")
	s.log.Infow("staged object deleted", "name", name)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := map[string]listEntry{}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".type") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = listEntry{
			Size:         info.Size(),
			ContentType:  s.contentType(filepath.Join(s.rootDir, e.Name())),
			LastModified: info.ModTime().Unix(),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) wipe(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, e := range entries {
		_ = os.Remove(filepath.Join(s.rootDir, e.Name()))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) contentType(path string) string {
	data, err := os.ReadFile(path + ".type")
	if err != nil {
		return "application/octet-stream"
	}
	return string(data)
}

func decodeListing(body io.Reader) ([]staging.ResourceInfo, error) {
	var raw map[string]listEntry
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]staging.ResourceInfo, 0, len(raw))
	for name, e := range raw {
		out = append(out, staging.ResourceInfo{
			Name:         name,
			Size:         e.Size,
			LastModified: time.Unix(e.LastModified, 0).UTC(),
		})
	}
	return out, nil
}

