package sql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/ecmwf/reqbroker/reqerr"
	"github.com/ecmwf/reqbroker/request"
	"github.com/ecmwf/reqbroker/store"
)

// RequestStore implements store.RequestStore using a bun-backed
// relational table, adapted from the teacher's sql.Observer +
// sql.Puller split into the single CRUD contract spec.md §4.1 names.
type RequestStore struct {
	db *bun.DB
}

// NewRequestStore builds a RequestStore. The caller must have already
// run InitDB against db.
func NewRequestStore(db *bun.DB) *RequestStore {
	return &RequestStore{db: db}
}

// Add inserts a new request, returning a Conflict-kind error if its ID
// already exists, mirroring mongodb_request_store.py: add_request
// raising ValueError on a duplicate id.
func (s *RequestStore) Add(ctx context.Context, r *request.Request) error {
	model := fromRequest(r)
	_, err := s.db.NewInsert().Model(model).Exec(ctx)
	if err != nil {
		return reqerr.Wrap(reqerr.Conflict, err, "request %s already exists", r.ID)
	}
	return nil
}

// Get returns the request with the given ID.
func (s *RequestStore) Get(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	var m requestModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, reqerr.New(reqerr.NotFound, "request %s not found", id)
		}
		return nil, reqerr.Wrap(reqerr.Internal, err, "get request %s", id)
	}
	return m.toRequest(), nil
}

// GetMany returns requests matching filter, validating that at most one
// sort direction is given, matching get_requests's
// ascending-xor-descending check.
func (s *RequestStore) GetMany(ctx context.Context, filter store.Filter) ([]*request.Request, error) {
	if filter.Ascending != "" && filter.Descending != "" {
		return nil, reqerr.New(reqerr.InvalidArgument, "cannot sort both ascending and descending")
	}
	query := s.db.NewSelect().Model((*requestModel)(nil))
	if filter.Status != request.Unknown {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Collection != "" {
		query = query.Where("collection = ?", filter.Collection)
	}
	switch {
	case filter.Ascending != "":
		query = query.OrderExpr("? ASC", bun.Ident(sortColumn(filter.Ascending)))
	case filter.Descending != "":
		query = query.OrderExpr("? DESC", bun.Ident(sortColumn(filter.Descending)))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var models []*requestModel
	if err := query.Scan(ctx, &models); err != nil {
		return nil, reqerr.Wrap(reqerr.Internal, err, "get many requests")
	}
	ret := make([]*request.Request, 0, len(models))
	for _, m := range models {
		ret = append(ret, m.toRequest())
	}
	return ret, nil
}

func sortColumn(field string) string {
	switch field {
	case "timestamp", "last_modified", "status", "collection", "user_id":
		return field
	default:
		return "timestamp"
	}
}

// Update persists the current state of r, refreshing LastModified.
func (s *RequestStore) Update(ctx context.Context, r *request.Request) error {
	r.Touch()
	model := fromRequest(r)
	res, err := s.db.NewUpdate().
		Model(model).
		WherePK().
		Exec(ctx)
	if err != nil {
		return reqerr.Wrap(reqerr.Internal, err, "update request %s", r.ID)
	}
	if !isAffected(res) {
		return reqerr.New(reqerr.NotFound, "request %s not found", r.ID)
	}
	return nil
}

// Remove permanently deletes a request.
func (s *RequestStore) Remove(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewDelete().Model((*requestModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return reqerr.Wrap(reqerr.Internal, err, "remove request %s", id)
	}
	if !isAffected(res) {
		return reqerr.New(reqerr.NotFound, "request %s not found", id)
	}
	return nil
}

// Revoke deletes a WAITING/QUEUED request owned by userID, matching
// mongodb_request_store.py: revoke_request's NotFound/Unauthorized/
// Forbidden disambiguation. id == "all" bulk-revokes every eligible
// request for userID.
func (s *RequestStore) Revoke(ctx context.Context, userID uuid.UUID, id string) (int64, error) {
	if id == "all" {
		res, err := s.db.NewDelete().
			Model((*requestModel)(nil)).
			Where("user_id = ?", userID).
			Where("status IN (?, ?)", request.Waiting, request.Queued).
			Exec(ctx)
		if err != nil {
			return 0, reqerr.Wrap(reqerr.Internal, err, "revoke all requests for user %s", userID)
		}
		return getAffected(res), nil
	}

	reqID, err := uuid.Parse(id)
	if err != nil {
		return 0, reqerr.New(reqerr.InvalidArgument, "invalid request id %q", id)
	}
	res, err := s.db.NewDelete().
		Model((*requestModel)(nil)).
		Where("id = ?", reqID).
		Where("user_id = ?", userID).
		Where("status IN (?, ?)", request.Waiting, request.Queued).
		Exec(ctx)
	if err != nil {
		return 0, reqerr.Wrap(reqerr.Internal, err, "revoke request %s", reqID)
	}
	if isAffected(res) {
		return 1, nil
	}

	// Disambiguate why the delete affected nothing, matching the
	// original's re-fetch-after-failed-delete logic.
	existing, getErr := s.Get(ctx, reqID)
	if getErr != nil {
		return 0, reqerr.New(reqerr.NotFound, "request %s not found", reqID)
	}
	if existing.User == nil || existing.User.ID != userID {
		return 0, reqerr.New(reqerr.Unauthorized, "request %s is not owned by this user", reqID)
	}
	return 0, reqerr.New(reqerr.Forbidden, "request %s is in status %s and cannot be revoked", reqID, existing.Status)
}

// RemoveOld deletes PROCESSED/FAILED requests whose LastModified is
// older than cutoff, matching remove_old_requests.
func (s *RequestStore) RemoveOld(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*requestModel)(nil)).
		Where("status IN (?, ?)", request.Processed, request.Failed).
		Where("last_modified < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, reqerr.Wrap(reqerr.Internal, err, "remove old requests")
	}
	return getAffected(res), nil
}

// Wipe deletes every request record.
func (s *RequestStore) Wipe(ctx context.Context) error {
	_, err := s.db.NewDelete().Model((*requestModel)(nil)).Where("1 = 1").Exec(ctx)
	if err != nil {
		return reqerr.Wrap(reqerr.Internal, err, "wipe requests")
	}
	return nil
}
