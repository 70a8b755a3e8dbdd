package sql

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createRequestsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*requestModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

func createRequestsStatusIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*requestModel)(nil)).
		Index("idx_requests_status_modified").
		Column("status", "last_modified").
		IfNotExists().
		Exec(ctx)
	return err
}

func createRequestsCollectionIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*requestModel)(nil)).
		Index("idx_requests_collection_user_status").
		Column("collection", "user_id", "status").
		IfNotExists().
		Exec(ctx)
	return err
}

func createQueueTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*queueMessageModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

func createQueueRunIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*queueMessageModel)(nil)).
		Index("idx_queue_next_run").
		Column("in_flight", "next_run_at").
		IfNotExists().
		Exec(ctx)
	return err
}

func createQueueLockIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*queueMessageModel)(nil)).
		Index("idx_queue_locked_until").
		Column("in_flight", "locked_until").
		IfNotExists().
		Exec(ctx)
	return err
}

func initDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	steps := []func(context.Context, bun.IDB) error{
		createRequestsTable,
		createRequestsStatusIndex,
		createRequestsCollectionIndex,
		createQueueTable,
		createQueueRunIndex,
		createQueueLockIndex,
	}
	for _, step := range steps {
		if err := step(ctx, tx); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// InitDB creates the requests and queue_messages tables and their
// indexes inside a single transaction. It is idempotent and safe to
// call on every process start, matching the teacher's InitDB.
func InitDB(ctx context.Context, db *bun.DB) error {
	return initDB(ctx, db)
}

// MustInitDB behaves like InitDB but panics on failure, for use in
// application bootstrap code.
func MustInitDB(ctx context.Context, db *bun.DB) {
	if err := initDB(ctx, db); err != nil {
		panic(err)
	}
}
