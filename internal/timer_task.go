package internal

import (
	"context"
	"time"
)

// TimerHandler is invoked once immediately on Start and then again on
// every tick until the TimerTask is stopped, the shape both
// worker.Worker's poll loop and gc.GarbageCollector's sweep loop run on.
type TimerHandler func(context.Context)

// TimerTask runs a TimerHandler on a fixed interval in its own
// goroutine, started and stopped independently of the caller's
// lifecycle via Start/Stop.
type TimerTask struct {
	cancel context.CancelFunc
	done   DoneChan
}

func (t *TimerTask) do(ctx context.Context, h TimerHandler, timeout time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()
	h(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h(ctx)
		}
	}
}

// Start runs h immediately and then every timeout until ctx is
// cancelled or Stop is called.
func (t *TimerTask) Start(ctx context.Context, h TimerHandler, timeout time.Duration) {
	t.done = make(DoneChan)
	ctx, t.cancel = context.WithCancel(ctx)
	go t.do(ctx, h, timeout)
}

// Stop cancels the running handler loop and returns a DoneChan that
// closes once the current handler invocation (if any) has returned.
func (t *TimerTask) Stop() DoneChan {
	t.cancel()
	return t.done
}
