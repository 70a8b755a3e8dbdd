// Package queue defines the envelope broker hands to worker once a
// Request is admitted, adapted from the teacher's Pusher/Puller split
// (github.com/romanqed/gqs) and from the original implementation's
// common/queue/queue.py contract.
//
// Unlike the teacher's job queue, this Queue has no terminal "dead"
// state of its own: nack makes an envelope instantly re-visible, and
// retry/backoff policy lives in worker, which decides whether a
// redelivered Request is retried or marked FAILED based on its
// RequestStore status (see worker.Worker).
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmpty is returned by Dequeue when no message is currently
	// available.
	ErrEmpty = errors.New("queue: empty")

	// ErrNotOwned is returned by Ack/Nack/KeepAlive when the caller no
	// longer owns the referenced message (its visibility timeout expired
	// and another consumer claimed it), mirroring the teacher's
	// ErrLockLost.
	ErrNotOwned = errors.New("queue: message not owned")
)

// Message is the envelope carried through the queue: RequestID names
// the request.Request this delivery corresponds to, and Context is an
// opaque handle the Queue implementation needs to Ack/Nack/KeepAlive
// this specific delivery (the teacher's gqs.job.Job plays the same role
// for its own retry-aware queue).
type Message struct {
	RequestID uuid.UUID
	Context   any
}

// Queue is the broker/worker rendezvous point: broker enqueues admitted
// requests, worker dequeues, processes, and acks or nacks.
type Queue interface {
	// Enqueue admits a request id for delivery; the visibility timeout
	// is granted later, by Dequeue.
	Enqueue(ctx context.Context, requestID uuid.UUID) error

	// Dequeue claims one available message and grants it visibility
	// for the given duration. Returns ErrEmpty if nothing is available.
	Dequeue(ctx context.Context, visibility time.Duration) (*Message, error)

	// Ack permanently removes a delivered message.
	Ack(ctx context.Context, msg *Message) error

	// Nack makes a delivered message immediately visible again for
	// redelivery (delay 0); worker decides retry policy, not the queue.
	Nack(ctx context.Context, msg *Message) error

	// KeepAlive extends a delivered message's visibility timeout,
	// mirroring the teacher's Puller.ExtendLock. Returns ErrNotOwned if
	// the caller's lease already expired.
	KeepAlive(ctx context.Context, msg *Message, visibility time.Duration) error

	// Count reports the number of messages currently enqueued
	// (available or in-flight), used by broker's max_queue_size check.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the queue implementation.
	Close(ctx context.Context) error
}
