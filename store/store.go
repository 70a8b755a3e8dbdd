// Package store defines the RequestStore contract: durable persistence
// of request.Request records across their full lifecycle, grounded on
// the original implementation's common/request_store/request_store.py
// and mongodb_request_store.py.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ecmwf/reqbroker/request"
)

// Filter selects a subset of requests for GetMany, validated the way
// mongodb_request_store.py: get_requests validates its kwargs against
// Request.__slots__ and rejects ascending+descending both being set.
type Filter struct {
	Status     request.Status
	UserID     *uuid.UUID
	Collection string

	// Ascending and Descending name a field to sort by (e.g.
	// "timestamp"); at most one may be non-empty.
	Ascending  string
	Descending string

	Limit int
}

// RequestStore is the durable record of every Request reqbroker has ever
// seen, independent of the Queue (which only tracks currently-admitted
// work).
type RequestStore interface {
	// Add inserts a new request. Returns a Conflict-kind error (see
	// reqerr) if a request with the same ID already exists.
	Add(ctx context.Context, r *request.Request) error

	// Get returns the request with the given ID, or a NotFound-kind
	// error if it doesn't exist.
	Get(ctx context.Context, id uuid.UUID) (*request.Request, error)

	// GetMany returns requests matching filter.
	GetMany(ctx context.Context, filter Filter) ([]*request.Request, error)

	// Update persists the current in-memory state of r, refreshing
	// LastModified. Returns NotFound if r.ID doesn't exist.
	Update(ctx context.Context, r *request.Request) error

	// Remove permanently deletes a request by ID.
	Remove(ctx context.Context, id uuid.UUID) error

	// Revoke deletes a request on behalf of user, only if it is still
	// WAITING or QUEUED and owned by user, mirroring
	// mongodb_request_store.py: revoke_request's three-way
	// NotFound/Unauthorized(wrong owner)/Forbidden(wrong status) result.
	// If id is the literal string "all", every WAITING/QUEUED request
	// owned by user is revoked and the count returned.
	Revoke(ctx context.Context, userID uuid.UUID, id string) (int64, error)

	// RemoveOld deletes PROCESSED/FAILED requests whose LastModified is
	// older than cutoff, returning the count removed, matching
	// remove_old_requests.
	RemoveOld(ctx context.Context, cutoff time.Time) (int64, error)

	// Wipe deletes every request record.
	Wipe(ctx context.Context) error
}
