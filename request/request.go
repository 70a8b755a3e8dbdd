// Package request holds the core data model shared by every reqbroker
// component: the Request record itself, its Status/Verb enumerations and
// the authenticated User that owns it. Nothing in this package talks to
// storage, a queue, or the network; it is pure domain data, grounded on
// the original implementation's common/request.py and common/user.py.
package request

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request is the durable record tracked by a RequestStore across its
// entire lifetime, from WAITING through a terminal PROCESSED/FAILED
// state.
//
// UserMessage is append-only: every component that advances a Request
// appends an explanatory line rather than replacing prior context,
// mirroring the original's repeated `request.user_message += ...`
// pattern in broker/worker/datasource dispatch.
type Request struct {
	ID           uuid.UUID
	Timestamp    time.Time
	LastModified time.Time

	User *User

	Verb   Verb
	Status Status

	Collection string

	// UserRequest is the raw, client-supplied request body (YAML/JSON
	// text) before coercion; Collection.Dispatch coerces and matches it
	// against each configured datasource.
	UserRequest string

	// URL is populated once a result has been staged, pointing at the
	// staging backend's externally reachable location for this request.
	URL string

	MD5           string
	ContentLength int64
	ContentType   string

	UserMessage string
}

// NewRequest creates a Request owned by user, defaulting Verb to
// Retrieve, Status to Waiting and ContentType to
// "application/octet-stream", matching request.py's constructor
// defaults.
func NewRequest(user *User, collection string) *Request {
	now := time.Now().UTC()
	return &Request{
		ID:           uuid.New(),
		Timestamp:    now,
		LastModified: now,
		User:         user,
		Verb:         Retrieve,
		Status:       Waiting,
		Collection:   collection,
		ContentType:  "application/octet-stream",
	}
}

// AppendMessage appends a line to UserMessage, matching the original's
// `request.user_message += text` accumulation pattern used throughout
// broker, worker and datasource dispatch.
func (r *Request) AppendMessage(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if r.UserMessage == "" {
		r.UserMessage = msg
		return
	}
	r.UserMessage += "\n" + msg
}

// SetStatus transitions the request to the given status and refreshes
// LastModified, mirroring request.py's set_status (which also logs the
// transition; logging is the caller's responsibility here since Request
// itself carries no logger, unlike the Python object model).
func (r *Request) SetStatus(s Status) {
	r.Status = s
	r.LastModified = time.Now().UTC()
}

// Touch refreshes LastModified without changing Status, used whenever a
// component updates ancillary fields (URL, ContentLength, ...).
func (r *Request) Touch() {
	r.LastModified = time.Now().UTC()
}
