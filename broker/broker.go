// Package broker implements the admission-control scheduler that moves
// requests from WAITING to QUEUED, grounded on the original
// implementation's broker/broker.py (check_requests, check_limits,
// enqueue), restructured into the teacher's periodic-actor idiom
// (internal.TimerTask + internal.Lifecycle).
package broker

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ecmwf/reqbroker/collection"
	"github.com/ecmwf/reqbroker/internal"
	"github.com/ecmwf/reqbroker/queue"
	"github.com/ecmwf/reqbroker/request"
	"github.com/ecmwf/reqbroker/store"
)

// Config controls Broker's scheduling cadence and admission ceiling.
type Config struct {
	// Interval is how often check_requests runs, matching
	// broker.py's scheduling_interval (default 10s).
	Interval time.Duration

	// MaxQueueSize caps the number of simultaneously QUEUED+PROCESSING
	// requests, matching broker.py's max_queue_size (historically
	// derived from the worker deployment's replica count).
	MaxQueueSize int
}

// Broker periodically admits WAITING requests into the Queue, subject
// to each Collection's configured Limits and the global MaxQueueSize.
type Broker struct {
	internal.Lifecycle

	q           queue.Queue
	store       store.RequestStore
	collections map[string]*collection.Collection
	log         *zap.SugaredLogger

	task internal.TimerTask
	cfg  Config
}

// New builds a Broker. collections must be keyed by Collection.Name.
func New(q queue.Queue, rs store.RequestStore, collections map[string]*collection.Collection, cfg Config, log *zap.SugaredLogger) *Broker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 40
	}
	return &Broker{
		q:           q,
		store:       rs,
		collections: collections,
		log:         log,
		cfg:         cfg,
	}
}

// Start begins periodic scheduling.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.TryStart(); err != nil {
		return err
	}
	b.log.Infow("starting broker", "max_queue_size", b.cfg.MaxQueueSize)
	b.task.Start(ctx, b.checkRequests, b.cfg.Interval)
	return nil
}

// Stop halts scheduling, waiting up to timeout for the current sweep to
// finish.
func (b *Broker) Stop(timeout time.Duration) error {
	return b.TryStop(timeout, b.task.Stop)
}

// activeRequests returns every QUEUED or PROCESSING request, matching
// request_store.get_active_requests. This is deliberately narrower than
// "status not in {PROCESSED, FAILED}": WAITING requests haven't been
// admitted yet (counting them here would make admission self-limiting)
// and UPLOADING requests are httpapi's concern, not the broker's, so
// neither belongs in the count this function feeds into limit checks.
func (b *Broker) activeRequests(ctx context.Context) ([]*request.Request, error) {
	var active []*request.Request
	for _, status := range []request.Status{request.Queued, request.Processing} {
		rs, err := b.store.GetMany(ctx, store.Filter{Status: status})
		if err != nil {
			return nil, err
		}
		active = append(active, rs...)
	}
	return active, nil
}

func (b *Broker) checkRequests(ctx context.Context) {
	queued, err := b.q.Count(ctx)
	if err != nil {
		b.log.Errorw("cannot count queue", "error", err)
		return
	}
	if queued >= b.cfg.MaxQueueSize {
		b.log.Info("queue is full")
		return
	}

	waiting, err := b.store.GetMany(ctx, store.Filter{Status: request.Waiting, Ascending: "timestamp"})
	if err != nil {
		b.log.Errorw("cannot list waiting requests", "error", err)
		return
	}
	if len(waiting) == 0 {
		return
	}

	active, err := b.activeRequests(ctx)
	if err != nil {
		b.log.Errorw("cannot list active requests", "error", err)
		return
	}

	// If the queue is empty but the store still thinks requests are
	// active, those requests are stuck (e.g. a worker crashed between
	// claiming and acking); requeue them as WAITING, oldest first,
	// matching broker.py's stuck-request recovery.
	if queued == 0 && len(active) > 0 {
		var requeued []*request.Request
		for _, ar := range active {
			ar.SetStatus(request.Waiting)
			ar.AppendMessage("request appeared stuck, requeued for admission")
			if err := b.store.Update(ctx, ar); err != nil {
				b.log.Errorw("cannot requeue stuck request", "request_id", ar.ID, "error", err)
				continue
			}
			requeued = append(requeued, ar)
		}
		sort.Slice(requeued, func(i, j int) bool { return requeued[i].Timestamp.Before(requeued[j].Timestamp) })
		waiting = append(requeued, waiting...)
		active = nil
	}

	if len(active) > b.cfg.MaxQueueSize {
		b.log.Warnw("active requests exceed max queue size, requests may be stuck",
			"active", len(active), "max_queue_size", b.cfg.MaxQueueSize)
	}

	for _, wr := range waiting {
		if b.checkLimits(active, wr) {
			active = append(active, wr)
			b.enqueue(ctx, wr)
		}

		queued, err = b.q.Count(ctx)
		if err != nil {
			b.log.Errorw("cannot count queue", "error", err)
			return
		}
		if queued >= b.cfg.MaxQueueSize {
			b.log.Info("queue is full")
			return
		}
	}
}

// checkLimits evaluates whether wr may be admitted given the requests
// already active, matching broker.py's check_limits: a collection-wide
// total cap takes precedence, then the caller's best applicable
// per-role limit, falling back to the collection's per-user limit when
// no role-specific limit applies.
func (b *Broker) checkLimits(active []*request.Request, wr *request.Request) bool {
	col, ok := b.collections[wr.Collection]
	if !ok {
		b.log.Warnw("waiting request references unknown collection", "request_id", wr.ID, "collection", wr.Collection)
		return false
	}
	limits := col.Limits

	collectionActive := 0
	for _, ar := range active {
		if ar.Collection == wr.Collection {
			collectionActive++
		}
	}
	if limits.Total > 0 && collectionActive >= limits.Total {
		b.log.Infow("collection at total active limit", "collection", wr.Collection, "active", collectionActive, "limit", limits.Total)
		return false
	}

	limit := 0
	if perRole, ok := limits.PerRole[wr.User.Realm]; ok {
		for _, role := range wr.User.Roles {
			if roleLimit, ok := perRole[role]; ok && roleLimit > limit {
				limit = roleLimit
			}
		}
	}
	if limit == 0 {
		limit = limits.PerUser
	}
	if limit <= 0 {
		return true
	}

	userActive := 0
	for _, ar := range active {
		if ar.Collection == wr.Collection && ar.User.ID == wr.User.ID {
			userActive++
		}
	}
	if userActive >= limit {
		b.log.Infow("user at active request limit", "user", wr.User, "collection", wr.Collection, "active", userActive, "limit", limit)
		return false
	}
	return true
}

// enqueue admits wr: it is marked QUEUED in the store before being
// handed to the queue, matching broker.py's "must update request_store
// before queue, worker checks request status immediately". If enqueuing
// fails, wr is rolled back to WAITING rather than left stuck QUEUED
// with no corresponding queue message.
func (b *Broker) enqueue(ctx context.Context, wr *request.Request) {
	wr.SetStatus(request.Queued)
	if err := b.store.Update(ctx, wr); err != nil {
		b.log.Errorw("cannot mark request queued", "request_id", wr.ID, "error", err)
		return
	}
	if err := b.q.Enqueue(ctx, wr.ID); err != nil {
		b.log.Errorw("failed to queue request, reverting to waiting", "request_id", wr.ID, "error", err)
		wr.SetStatus(request.Waiting)
		if rbErr := b.store.Update(ctx, wr); rbErr != nil {
			b.log.Errorw("cannot revert stuck request to waiting", "request_id", wr.ID, "error", rbErr)
		}
		return
	}
	b.log.Infow("queued request", "request_id", wr.ID, "collection", wr.Collection)
}
