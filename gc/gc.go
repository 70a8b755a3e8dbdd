// Package gc implements the periodic staging/request-store sweeper,
// grounded on the original implementation's
// garbage_collector/garbage_collector.py (remove_old_requests,
// remove_dangling_data, remove_by_size), restructured into the
// teacher's CleanWorker periodic-actor shape
// (github.com/romanqed/gqs, clean_worker.go).
package gc

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecmwf/reqbroker/internal"
	"github.com/ecmwf/reqbroker/staging"
	"github.com/ecmwf/reqbroker/store"
)

// deleteConcurrency bounds how many staged-object deletes run at once
// during a sweep, via the shared internal.WorkerPool.
const deleteConcurrency = 4

// Config controls sweep cadence, staging size threshold and request
// retention age, matching garbage_collector.py's gc_config block
// (interval/threshold/age, parsed there by parse_time/parse_bytes; here
// expressed directly as Go time.Duration/byte counts since config
// parses the human-readable forms before building Config).
type Config struct {
	// Interval is how often a sweep runs (default 60s).
	Interval time.Duration

	// Threshold is the staging size, in bytes, above which remove_by_size
	// starts deleting the oldest staged objects (default 10 GiB).
	Threshold int64

	// Age is how long a PROCESSED/FAILED request is kept before
	// remove_old_requests deletes it (default 24h).
	Age time.Duration
}

// GarbageCollector periodically prunes old requests from the
// RequestStore, deletes staged objects with no corresponding request,
// and trims staging back under Threshold by deleting the oldest data.
type GarbageCollector struct {
	internal.Lifecycle

	store   store.RequestStore
	staging staging.Staging
	log     *zap.SugaredLogger

	task    internal.TimerTask
	deletes *internal.WorkerPool[string]
	cfg     Config
}

// New builds a GarbageCollector.
func New(rs store.RequestStore, stg staging.Staging, cfg Config, log *zap.SugaredLogger) *GarbageCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10 * 1024 * 1024 * 1024
	}
	if cfg.Age <= 0 {
		cfg.Age = 24 * time.Hour
	}
	return &GarbageCollector{
		store:   rs,
		staging: stg,
		cfg:     cfg,
		log:     log,
		deletes: internal.NewWorkerPool[string](deleteConcurrency, 256, slog.Default()),
	}
}

// Start begins periodic sweeping. Staged-object deletes discovered
// during a sweep are pushed onto a bounded internal.WorkerPool rather
// than issued one at a time, so a sweep touching many stale objects
// doesn't serialize on staging backend latency.
func (g *GarbageCollector) Start(ctx context.Context) error {
	if err := g.TryStart(); err != nil {
		return err
	}
	g.log.Infow("starting garbage collector",
		"interval", g.cfg.Interval, "threshold", humanize.IBytes(uint64(g.cfg.Threshold)), "age", g.cfg.Age)
	g.deletes.Start(ctx, g.deleteObject)
	g.task.Start(ctx, g.sweep, g.cfg.Interval)
	return nil
}

// Stop halts sweeping and the delete pool, waiting up to timeout for
// both the current sweep and any queued deletes to finish.
func (g *GarbageCollector) Stop(timeout time.Duration) error {
	return g.TryStop(timeout, func() internal.DoneChan {
		return internal.Combine(g.task.Stop(), g.deletes.Stop())
	})
}

// deleteObject is the internal.WorkerPool handler backing the delete
// pool: it best-effort deletes one staged object, logging failures
// since the pool has no per-item result channel back to the sweep.
func (g *GarbageCollector) deleteObject(ctx context.Context, name string) {
	if _, err := g.staging.Delete(ctx, name); err != nil {
		g.log.Warnw("cannot delete staged object", "name", name, "error", err)
	}
}

func (g *GarbageCollector) sweep(ctx context.Context) {
	g.removeOldRequests(ctx)
	g.removeDanglingData(ctx)
	g.removeBySize(ctx)
}

// removeOldRequests deletes PROCESSED/FAILED requests older than
// cfg.Age, matching remove_old_requests.
func (g *GarbageCollector) removeOldRequests(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-g.cfg.Age)
	g.log.Infow("removing requests older than cutoff", "cutoff", cutoff)
	n, err := g.store.RemoveOld(ctx, cutoff)
	if err != nil {
		g.log.Errorw("cannot remove old requests", "error", err)
		return
	}
	if n > 0 {
		g.log.Infow("removed old requests", "count", n)
	}
}

// removeDanglingData deletes staged objects with no corresponding
// request record, a failsafe against orphaned data from a crash between
// staging a result and persisting it, matching remove_dangling_data.
func (g *GarbageCollector) removeDanglingData(ctx context.Context) {
	objects, err := g.staging.List(ctx)
	if err != nil {
		g.log.Errorw("cannot list staging", "error", err)
		return
	}
	if len(objects) == 0 {
		return
	}

	known, err := g.knownRequestIDs(ctx)
	if err != nil {
		g.log.Errorw("cannot list request ids", "error", err)
		return
	}

	for _, obj := range objects {
		id := staging.RequestIDFromKey(obj.Name)
		if known[id] {
			continue
		}
		g.log.Infow("queuing dangling staged object for deletion: no matching request", "name", obj.Name)
		g.deletes.Push(obj.Name)
	}
}

// removeBySize trims staging back under cfg.Threshold by deleting the
// oldest objects first, removing the corresponding request record for
// each deleted object, matching remove_by_size.
func (g *GarbageCollector) removeBySize(ctx context.Context) {
	objects, err := g.staging.List(ctx)
	if err != nil {
		g.log.Errorw("cannot list staging", "error", err)
		return
	}

	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
	}
	pct := 0.0
	if g.cfg.Threshold > 0 {
		pct = float64(totalSize) / float64(g.cfg.Threshold) * 100
	}
	g.log.Infow("staging usage",
		"objects", len(objects),
		"size", humanize.IBytes(uint64(totalSize)),
		"threshold", humanize.IBytes(uint64(g.cfg.Threshold)),
		"percent", pct,
	)

	if totalSize < g.cfg.Threshold {
		return
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].LastModified.Before(objects[j].LastModified) })

	for _, obj := range objects {
		g.log.Infow("queuing staged object for deletion: threshold reached and it is the oldest", "name", obj.Name)
		g.deletes.Push(obj.Name)
		id := staging.RequestIDFromKey(obj.Name)
		if err := g.removeRequestByIDString(ctx, id); err != nil {
			g.log.Warnw("cannot remove request record for deleted staged object", "request_id", id, "error", err)
		}
		totalSize -= obj.Size
		g.log.Infow("staging size after deletion", "size", humanize.IBytes(uint64(totalSize)), "threshold", humanize.IBytes(uint64(g.cfg.Threshold)))
		if totalSize < g.cfg.Threshold {
			break
		}
	}
}

func (g *GarbageCollector) knownRequestIDs(ctx context.Context) (map[string]bool, error) {
	all, err := g.store.GetMany(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(all))
	for _, r := range all {
		ids[r.ID.String()] = true
	}
	return ids, nil
}

func (g *GarbageCollector) removeRequestByIDString(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	return g.store.Remove(ctx, parsed)
}
