// Package httpapi implements the HTTP frontend, grounded on the
// original implementation's frontend/flask_handler.py and
// common/data_transfer.py, routed with github.com/go-chi/chi/v5 and
// github.com/go-chi/cors instead of Flask's blueprint/before_request
// machinery.
package httpapi

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecmwf/reqbroker/auth"
	"github.com/ecmwf/reqbroker/collection"
	"github.com/ecmwf/reqbroker/reqerr"
	"github.com/ecmwf/reqbroker/request"
	"github.com/ecmwf/reqbroker/staging"
	"github.com/ecmwf/reqbroker/store"
)

type userCtxKey struct{}

// Server is the HTTP frontend: request submission/query/revoke,
// collection listing, and data upload/download, matching
// flask_handler.py's route table.
type Server struct {
	store       store.RequestStore
	staging     staging.Staging
	collections map[string]*collection.Collection
	authByScheme map[string]auth.Authenticator
	log          *zap.SugaredLogger

	router chi.Router
}

// New builds a Server and registers every route. authenticators is
// keyed by the scheme each one accepts (e.g. "Bearer", "Basic"),
// matching AuthHelper trying each registered Authentication backend in
// turn based on the request's Authorization header.
func New(rs store.RequestStore, stg staging.Staging, collections map[string]*collection.Collection, authenticators []auth.Authenticator, log *zap.SugaredLogger) *Server {
	byScheme := make(map[string]auth.Authenticator, len(authenticators))
	for _, a := range authenticators {
		byScheme[a.Scheme()] = a
	}
	s := &Server{store: rs, staging: stg, collections: collections, authByScheme: byScheme, log: log}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "HEAD"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Checksum"},
	}))
	r.Use(securityHeaders)

	r.Get("/api/v1/test", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{Message: "reqbroker is alive", Status: "ok"})
	})

	r.With(s.requireAuth).Get("/api/v1/collections", s.listCollections)
	r.With(s.requireAuth).Get("/api/v1/user", s.userRequestCount)
	r.With(s.requireAuth).Get("/api/v1/requests", s.listAllRequests)
	r.With(s.requireAuth).Route("/api/v1/requests/{collectionOrID}", func(r chi.Router) {
		r.Get("/", s.collectionOrRequest)
		r.Post("/", s.collectionOrRequest)
		r.Delete("/", s.collectionOrRequest)
	})
	r.With(s.requireAuth).Get("/api/v1/downloads/{requestID}", s.download)
	r.With(s.requireAuth).Route("/api/v1/uploads/{requestID}", func(r chi.Router) {
		r.Get("/", s.queryUpload)
		r.Post("/", s.upload)
	})

	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// requireAuth authenticates the request's Authorization header
// ("<Scheme> <credentials>") against the matching registered
// Authenticator, matching AuthHelper.authenticate trying each
// configured backend.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, credentials, ok := strings.Cut(header, " ")
		if !ok {
			writeError(w, reqerr.New(reqerr.Unauthorized, "missing or malformed Authorization header"))
			return
		}
		authenticator, ok := s.authByScheme[scheme]
		if !ok {
			writeError(w, reqerr.New(reqerr.Unauthorized, "unsupported authentication scheme %q", scheme))
			return
		}
		user, err := authenticator.Authenticate(r.Context(), credentials)
		if err != nil {
			writeError(w, reqerr.Wrap(reqerr.Forbidden, err, "authentication failed"))
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *request.User {
	u, _ := ctx.Value(userCtxKey{}).(*request.User)
	return u
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var names []string
	for name, col := range s.collections {
		if col.RolesAllowed(user) {
			names = append(names, name)
		}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) userRequestCount(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	reqs, err := s.store.GetMany(r.Context(), store.Filter{UserID: &user.ID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"live requests": len(reqs)})
}

func (s *Server) listAllRequests(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	reqs, err := s.store.GetMany(r.Context(), store.Filter{UserID: &user.ID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// collectionOrRequest dispatches on whether the path segment names a
// known collection or a request ID, matching flask_handler.py's
// collectionRequests route which folds both cases onto one URL.
func (s *Server) collectionOrRequest(w http.ResponseWriter, r *http.Request) {
	seg := chi.URLParam(r, "collectionOrID")
	if _, ok := s.collections[seg]; ok {
		s.handleCollectionRequests(w, r, seg)
		return
	}
	s.handleSpecificRequest(w, r, seg)
}

type submitPayload struct {
	Verb    string `json:"verb"`
	Request string `json:"request"`
	URL     string `json:"url"`
}

func (s *Server) handleCollectionRequests(w http.ResponseWriter, r *http.Request, collectionName string) {
	user := userFromContext(r.Context())
	col := s.collections[collectionName]

	switch r.Method {
	case http.MethodGet:
		reqs, err := s.store.GetMany(r.Context(), store.Filter{UserID: &user.ID, Collection: collectionName})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reqs)

	case http.MethodPost:
		if !col.RolesAllowed(user) {
			writeError(w, reqerr.New(reqerr.Forbidden, "user %s cannot access collection %s", user.Username, collectionName))
			return
		}
		var payload submitPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, reqerr.Wrap(reqerr.InvalidArgument, err, "invalid request body"))
			return
		}
		if payload.Verb == "" {
			writeError(w, reqerr.New(reqerr.InvalidArgument, "request content is missing 'verb'"))
			return
		}
		if payload.Request == "" {
			writeError(w, reqerr.New(reqerr.InvalidArgument, "request content is missing 'request'"))
			return
		}

		switch payload.Verb {
		case "retrieve":
			s.submitRetrieve(w, r, user, collectionName, payload)
		case "archive":
			s.submitArchive(w, r, user, collectionName, payload)
		default:
			writeError(w, reqerr.New(reqerr.InvalidArgument, "transfer type %q not supported", payload.Verb))
		}

	default:
		writeError(w, reqerr.New(reqerr.InvalidArgument, "collections do not support %s", r.Method))
	}
}

func (s *Server) submitRetrieve(w http.ResponseWriter, r *http.Request, user *request.User, collectionName string, payload submitPayload) {
	req := request.NewRequest(user, collectionName)
	req.Verb = request.Retrieve
	req.UserRequest = payload.Request
	if err := s.store.Add(r.Context(), req); err != nil {
		writeError(w, reqerr.Wrap(reqerr.Internal, err, "could not add request to store"))
		return
	}
	writeJSON(w, http.StatusAccepted, constructResponse(req))
}

func (s *Server) submitArchive(w http.ResponseWriter, r *http.Request, user *request.User, collectionName string, payload submitPayload) {
	req := request.NewRequest(user, collectionName)
	req.Verb = request.Archive
	req.UserRequest = payload.Request
	req.URL = payload.URL
	req.SetStatus(request.Uploading)
	if payload.URL != "" {
		// A URL was already supplied (externally-staged payload): no
		// separate upload step needed, admit directly.
		req.SetStatus(request.Waiting)
	}
	if err := s.store.Add(r.Context(), req); err != nil {
		writeError(w, reqerr.Wrap(reqerr.Internal, err, "could not add request to store"))
		return
	}
	writeJSON(w, http.StatusAccepted, constructResponse(req))
}

func (s *Server) handleSpecificRequest(w http.ResponseWriter, r *http.Request, idStr string) {
	user := userFromContext(r.Context())
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s not found", idStr))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.queryRequest(w, r, user, id)
	case http.MethodDelete:
		s.revokeRequest(w, r, user, idStr)
	default:
		writeError(w, reqerr.New(reqerr.NotFound, "unsupported collection type: %s", idStr))
	}
}

func (s *Server) queryRequest(w http.ResponseWriter, r *http.Request, user *request.User, id uuid.UUID) {
	req, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s not found", id))
		return
	}
	if req.User.ID != user.ID {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s not found", id))
		return
	}
	if req.Status == request.Failed {
		writeError(w, reqerr.New(reqerr.InvalidArgument, "request failed with error:\n%s", req.UserMessage))
		return
	}
	writeJSON(w, http.StatusOK, constructResponse(req))
}

func (s *Server) revokeRequest(w http.ResponseWriter, r *http.Request, user *request.User, idStr string) {
	n, err := s.store.Revoke(r.Context(), user.ID, idStr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": okMessage(n)})
}

func okMessage(n int64) string {
	if n == 1 {
		return "successfully revoked 1 request"
	}
	return "successfully revoked requests"
}

// download streams a completed RETRIEVE request's staged result,
// matching data_transfer.py's create_download_response (Content-MD5
// computed over the served payload).
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	idStr := chi.URLParam(r, "requestID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s not found", idStr))
		return
	}
	req, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s not found", idStr))
		return
	}
	if req.User.ID != user.ID {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s not found", idStr))
		return
	}
	if req.Verb != request.Retrieve {
		writeError(w, reqerr.New(reqerr.InvalidArgument, "request %s is not a download", idStr))
		return
	}
	if req.Status != request.Processed {
		writeError(w, reqerr.New(reqerr.InvalidArgument, "request %s not ready for download yet", idStr))
		return
	}

	key := staging.ObjectKey(req.ID, staging.MimeExt(req.ContentType))
	data, err := s.staging.Read(r.Context(), key)
	if err != nil {
		writeError(w, reqerr.Wrap(reqerr.Internal, err, "error reading data from staging"))
		return
	}
	sum := md5.Sum(data)
	w.Header().Set("Content-Type", req.ContentType)
	w.Header().Set("Content-MD5", hex.EncodeToString(sum[:]))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) queryUpload(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	idStr := chi.URLParam(r, "requestID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s not found", idStr))
		return
	}
	s.queryRequest(w, r, user, id)
}

// upload accepts a previously-submitted ARCHIVE request's payload,
// verifying the X-Checksum header against an MD5 of the body, matching
// data_transfer.py's upload.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "requestID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s does not exist", idStr))
		return
	}
	req, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, reqerr.New(reqerr.NotFound, "request %s does not exist", idStr))
		return
	}
	if req.Verb != request.Archive {
		writeError(w, reqerr.New(reqerr.InvalidArgument, "request %s is not an upload", idStr))
		return
	}
	if req.Status == request.Processed {
		writeJSON(w, http.StatusOK, map[string]string{"message": "data has already been uploaded"})
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, reqerr.Wrap(reqerr.InvalidArgument, err, "cannot read upload body"))
		return
	}
	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])
	if r.Header.Get("X-Checksum") != checksum {
		writeError(w, reqerr.New(reqerr.InvalidArgument, "uploaded data checksum does not agree with header X-Checksum"))
		return
	}

	key := staging.ObjectKey(req.ID, staging.MimeExt(req.ContentType))
	url, err := s.staging.Create(r.Context(), key, bytes.NewReader(data), req.ContentType)
	if err != nil {
		writeError(w, reqerr.Wrap(reqerr.Internal, err, "error writing to data staging"))
		return
	}

	req.SetStatus(request.Waiting)
	req.URL = url
	req.ContentLength = int64(len(data))
	if err := s.store.Update(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, constructResponse(req))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForKind(reqerr.KindOf(err)), map[string]string{"message": err.Error()})
}

func statusForKind(k reqerr.Kind) int {
	switch k {
	case reqerr.InvalidArgument:
		return http.StatusBadRequest
	case reqerr.Unauthorized:
		return http.StatusUnauthorized
	case reqerr.Forbidden:
		return http.StatusForbidden
	case reqerr.NotFound:
		return http.StatusNotFound
	case reqerr.Conflict:
		return http.StatusConflict
	case reqerr.ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
