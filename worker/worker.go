// Package worker implements the single-in-flight request executor,
// grounded on the original implementation's worker/worker.py (run,
// process_request, on_process_terminated) restructured into the
// teacher's Worker shape (github.com/romanqed/gqs, worker.go):
// internal.TimerTask drives polling, a lease-extension goroutine keeps
// the queue message visible while a datasource dispatch runs, and
// internal.Lifecycle provides the strict start/stop discipline.
//
// Unlike the teacher's Worker, which dispatches to a bounded
// concurrent pool, this Worker processes one request at a time, per
// spec.md §4.5/§5.
package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ecmwf/reqbroker/collection"
	"github.com/ecmwf/reqbroker/internal"
	"github.com/ecmwf/reqbroker/queue"
	"github.com/ecmwf/reqbroker/request"
	"github.com/ecmwf/reqbroker/staging"
	"github.com/ecmwf/reqbroker/store"
)

// Config controls Worker's polling cadence, lease duration and
// bounded dispatch-retry policy.
type Config struct {
	// PollInterval is how often Worker checks the queue for work when
	// idle, matching worker.py's poll_interval (default 0.1s).
	PollInterval time.Duration

	// Visibility is the lease duration granted to a dequeued message;
	// Worker extends it automatically roughly every Visibility/2 while
	// processing, mirroring the teacher's halfLock heartbeat.
	Visibility time.Duration

	Backoff BackoffConfig
}

// Worker dequeues one request at a time, dispatches it through the
// owning Collection, stages the result, and acks or nacks the delivery.
type Worker struct {
	internal.Lifecycle

	q           queue.Queue
	store       store.RequestStore
	collections map[string]*collection.Collection
	staging     staging.Staging
	log         *zap.SugaredLogger

	task    internal.TimerTask
	cfg     Config
	backoff backoffCounter
}

// New builds a Worker. collections must be keyed by Collection.Name.
func New(q queue.Queue, rs store.RequestStore, collections map[string]*collection.Collection, stg staging.Staging, cfg Config, log *zap.SugaredLogger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 30 * time.Second
	}
	return &Worker{
		q:           q,
		store:       rs,
		collections: collections,
		staging:     stg,
		log:         log,
		cfg:         cfg,
		backoff:     backoffCounter{cfg.Backoff},
	}
}

// Start begins background polling and processing.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.TryStart(); err != nil {
		return err
	}
	w.task.Start(ctx, w.poll, w.cfg.PollInterval)
	return nil
}

// Stop gracefully stops the worker, waiting up to timeout for any
// in-flight request to finish its current step.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.TryStop(timeout, w.task.Stop)
}

func (w *Worker) poll(ctx context.Context) {
	msg, err := w.q.Dequeue(ctx, w.cfg.Visibility)
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			return
		}
		w.log.Errorw("dequeue failed", "error", err)
		return
	}
	w.process(ctx, msg)
}

func (w *Worker) process(ctx context.Context, msg *queue.Message) {
	r, err := w.store.Get(ctx, msg.RequestID)
	if err != nil {
		// Request no longer tracked (e.g. manually removed); drop the
		// delivery, matching worker.py's "message id not in store -> ack".
		w.log.Warnw("dequeued request missing from store, dropping", "request_id", msg.RequestID)
		_ = w.q.Ack(ctx, msg)
		return
	}

	if r.Status != request.Queued {
		// A redelivery of a request that isn't QUEUED anymore means a
		// prior worker crashed mid-processing, matching worker.py's
		// crash-recovery branch.
		r.SetStatus(request.Failed)
		r.AppendMessage("worker crashed while processing this request")
		if err := w.store.Update(ctx, r); err != nil {
			w.log.Errorw("cannot mark crashed request failed", "request_id", r.ID, "error", err)
		}
		_ = w.q.Ack(ctx, msg)
		return
	}

	r.SetStatus(request.Processing)
	if err := w.store.Update(ctx, r); err != nil {
		w.log.Errorw("cannot mark request processing", "request_id", r.ID, "error", err)
		_ = w.q.Nack(ctx, msg)
		return
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go w.keepAlive(heartbeatCtx, msg, heartbeatDone)

	w.dispatch(ctx, r, msg)

	cancelHeartbeat()
	<-heartbeatDone
}

func (w *Worker) keepAlive(ctx context.Context, msg *queue.Message, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.Visibility / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.q.KeepAlive(ctx, msg, w.cfg.Visibility); err != nil {
				w.log.Warnw("lease extension failed", "request_id", msg.RequestID, "error", err)
				return
			}
		}
	}
}

// fetchInput reads a previously-uploaded payload for an Archive request,
// staged by httpapi under the request's own object key during its
// WAITING->UPLOADING->WAITING upload cycle (see httpapi's upload). Retrieve
// requests have no input.
func (w *Worker) fetchInput(ctx context.Context, r *request.Request) io.Reader {
	if r.Verb != request.Archive {
		return nil
	}
	key := staging.ObjectKey(r.ID, staging.MimeExt(r.ContentType))
	exists, err := w.staging.Query(ctx, key)
	if err != nil || !exists {
		return nil
	}
	data, err := w.staging.Read(ctx, key)
	if err != nil {
		w.log.Warnw("cannot read staged upload", "request_id", r.ID, "error", err)
		return nil
	}
	return bytes.NewReader(data)
}

func (w *Worker) dispatch(ctx context.Context, r *request.Request, msg *queue.Message) {
	col, ok := w.collections[r.Collection]
	if !ok {
		r.SetStatus(request.Failed)
		r.AppendMessage("unknown collection %q", r.Collection)
		w.finish(ctx, r, msg)
		return
	}
	if !col.RolesAllowed(r.User) {
		r.SetStatus(request.Failed)
		r.AppendMessage("user is not authorized to use collection %q", r.Collection)
		w.finish(ctx, r, msg)
		return
	}

	input := w.fetchInput(ctx, r)

	var lastErr error
	attempt := uint32(1)
	for {
		ds, dispatchErr := col.Dispatch(ctx, r, input)
		if dispatchErr == nil {
			if r.Verb == request.Archive {
				w.finishArchive(ctx, r, ds)
			} else {
				w.stageResult(ctx, r, ds)
			}
			w.finish(ctx, r, msg)
			return
		}
		lastErr = dispatchErr
		delay, retry := w.backoff.next(attempt)
		if !retry || ctx.Err() != nil {
			break
		}
		attempt++
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	r.SetStatus(request.Failed)
	r.AppendMessage("dispatch failed: %v", lastErr)
	w.finish(ctx, r, msg)
}

// stageResult fetches the produced output from ds and writes it to the
// staging backend, recording the resulting URL on r, then destroys ds
// unconditionally, matching worker.py's
// `finally: datasource.destroy(request)` wrapping the whole
// dispatch-then-fetch-result sequence.
func (w *Worker) stageResult(ctx context.Context, r *request.Request, ds interface {
	Result(ctx context.Context, r *request.Request) (io.Reader, error)
	MimeType() string
	Destroy(ctx context.Context, r *request.Request)
}) {
	defer ds.Destroy(ctx, r)

	out, err := ds.Result(ctx, r)
	if err != nil {
		r.SetStatus(request.Failed)
		r.AppendMessage("cannot fetch result: %v", err)
		return
	}

	mime := ds.MimeType()
	key := staging.ObjectKey(r.ID, staging.MimeExt(mime))
	url, err := w.staging.Create(ctx, key, out, mime)
	if err != nil {
		r.SetStatus(request.Failed)
		r.AppendMessage("cannot stage result: %v", err)
		return
	}
	r.URL = url
	r.ContentType = mime
	r.SetStatus(request.Processed)
}

// finishArchive handles a successfully dispatched ARCHIVE request,
// matching spec.md §4.5 step 5's "clean the staged upload blob (the
// input was already consumed)": unlike RETRIEVE there is no ds.Result()
// to stage, so r.URL/r.ContentType are left untouched (still pointing at
// the original upload location) and the staged upload object itself is
// deleted, mirroring worker.py discarding the temporary upload once
// datasource.dispatch() has consumed it.
func (w *Worker) finishArchive(ctx context.Context, r *request.Request, ds interface {
	Destroy(ctx context.Context, r *request.Request)
}) {
	defer ds.Destroy(ctx, r)

	key := staging.ObjectKey(r.ID, staging.MimeExt(r.ContentType))
	if _, err := w.staging.Delete(ctx, key); err != nil {
		w.log.Warnw("cannot delete staged upload after archive", "request_id", r.ID, "error", err)
	}
	r.SetStatus(request.Processed)
}

func (w *Worker) finish(ctx context.Context, r *request.Request, msg *queue.Message) {
	if err := w.store.Update(ctx, r); err != nil {
		w.log.Errorw("cannot persist final request state", "request_id", r.ID, "error", err)
	}
	if ctx.Err() != nil {
		// Shutting down mid-flight: reschedule instead of acking,
		// matching worker.py's on_process_terminated (PROCESSING -> QUEUED + nack).
		r.SetStatus(request.Queued)
		_ = w.store.Update(context.Background(), r)
		_ = w.q.Nack(context.Background(), msg)
		return
	}
	if err := w.q.Ack(ctx, msg); err != nil {
		w.log.Errorw("cannot ack completed request", "request_id", r.ID, "error", err)
	}
}
