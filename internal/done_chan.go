// Package internal holds the small concurrency primitives reqbroker's
// long-running components (worker.Worker, gc.GarbageCollector) build
// their start/stop discipline on top of.
package internal

import "sync"

// DoneChan is closed once whatever it represents (a stopped goroutine, a
// drained WaitGroup) has actually finished; callers block on it by
// receiving, the way Lifecycle.TryStop waits for a component's shutdown
// to complete before returning.
type DoneChan chan struct{}

// DoneFunc is anything that can be stopped and reports back a DoneChan,
// e.g. TimerTask.Stop or WorkerPool.Stop.
type DoneFunc func() DoneChan

// wrapWaitGroup adapts a sync.WaitGroup to a DoneChan, closing it once
// wg.Wait returns.
func wrapWaitGroup(wg *sync.WaitGroup) DoneChan {
	ret := make(DoneChan)
	go func() {
		wg.Wait()
		close(ret)
	}()
	return ret
}

// Combine returns a DoneChan that closes once both first and second have
// closed, used by GarbageCollector.Stop to wait on its sweep TimerTask
// and its delete WorkerPool together.
func Combine(first DoneChan, second DoneChan) DoneChan {
	ret := make(DoneChan)
	go func() {
		<-first
		<-second
		close(ret)
	}()
	return ret
}
