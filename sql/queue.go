package sql

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/ecmwf/reqbroker/queue"
)

// Queue implements queue.Queue using a bun-backed relational table,
// adapted from the teacher's sql.Puller atomic UPDATE ... RETURNING
// claim pattern. Unlike the teacher, there is no terminal "dead" state:
// Nack clears in_flight and sets next_run_at to now, making the message
// instantly eligible again.
type Queue struct {
	db *bun.DB
}

// NewQueue builds a Queue. The caller must have already run InitDB
// against db.
func NewQueue(db *bun.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a new queue_messages row, immediately visible.
func (q *Queue) Enqueue(ctx context.Context, requestID uuid.UUID) error {
	now := time.Now()
	model := &queueMessageModel{
		RequestID:  requestID,
		EnqueuedAt: now,
		NextRunAt:  now,
		InFlight:   false,
	}
	_, err := q.db.NewInsert().Model(model).Exec(ctx)
	return err
}

// Dequeue claims one eligible message, mirroring the teacher's
// Puller.Pull: a single UPDATE ... WHERE id IN (subquery) RETURNING
// statement so selection and claim happen atomically.
func (q *Queue) Dequeue(ctx context.Context, visibility time.Duration) (*queue.Message, error) {
	now := time.Now()
	lockUntil := now.Add(visibility)
	subQuery := q.db.NewSelect().
		Model((*queueMessageModel)(nil)).
		Column("request_id").
		Where("next_run_at <= ?", now).
		WhereGroup("AND", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("in_flight = ?", false).
				WhereOr("in_flight = ? AND locked_until < ?", true, now)
		}).
		Order("next_run_at ASC").
		Limit(1)

	var models []*queueMessageModel
	err := q.db.NewUpdate().
		Model((*queueMessageModel)(nil)).
		Set("in_flight = ?", true).
		Set("locked_until = ?", lockUntil).
		Where("request_id IN (?)", subQuery).
		Returning("*").
		Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, queue.ErrEmpty
	}
	return &queue.Message{RequestID: models[0].RequestID, Context: models[0].RequestID}, nil
}

// Ack permanently removes a delivered message.
func (q *Queue) Ack(ctx context.Context, msg *queue.Message) error {
	_, err := q.db.NewDelete().
		Model((*queueMessageModel)(nil)).
		Where("request_id = ?", msg.RequestID).
		Exec(ctx)
	return err
}

// Nack makes a delivered message immediately visible again.
func (q *Queue) Nack(ctx context.Context, msg *queue.Message) error {
	res, err := q.db.NewUpdate().
		Model((*queueMessageModel)(nil)).
		Set("in_flight = ?", false).
		Set("locked_until = NULL").
		Set("next_run_at = ?", time.Now()).
		Where("request_id = ?", msg.RequestID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return queue.ErrNotOwned
	}
	return nil
}

// KeepAlive extends a delivered message's visibility timeout, matching
// the teacher's Puller.ExtendLock / worker.go's handleOrExtend pattern.
func (q *Queue) KeepAlive(ctx context.Context, msg *queue.Message, visibility time.Duration) error {
	newLock := time.Now().Add(visibility)
	res, err := q.db.NewUpdate().
		Model((*queueMessageModel)(nil)).
		Set("locked_until = ?", newLock).
		Where("request_id = ?", msg.RequestID).
		Where("in_flight = ?", true).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return queue.ErrNotOwned
	}
	return nil
}

// Count reports the number of messages currently enqueued.
func (q *Queue) Count(ctx context.Context) (int, error) {
	n, err := q.db.NewSelect().Model((*queueMessageModel)(nil)).Count(ctx)
	return n, err
}

// Close is a no-op: the underlying *bun.DB is owned by the caller.
func (q *Queue) Close(ctx context.Context) error {
	return nil
}
