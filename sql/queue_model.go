package sql

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// queueMessageModel mirrors the teacher's jobModel lease columns
// (locked_until, next_run_at) but carries only a request id: the
// payload itself lives in the requests table, so Dequeue never needs to
// move request data, just claim ownership of it.
type queueMessageModel struct {
	bun.BaseModel `bun:"table:queue_messages"`

	RequestID uuid.UUID `bun:"request_id,pk,type:uuid"`

	EnqueuedAt  time.Time  `bun:"enqueued_at,nullzero,notnull,default:current_timestamp"`
	LockedUntil *time.Time `bun:"locked_until,nullzero,default:null"`
	NextRunAt   time.Time  `bun:"next_run_at,notnull"`

	// InFlight distinguishes "available" from "claimed"; unlike the
	// teacher's job table there's no terminal status, so this plus
	// LockedUntil fully describes visibility.
	InFlight bool `bun:"in_flight,notnull,default:false"`
}
