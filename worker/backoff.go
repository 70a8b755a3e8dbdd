package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig governs Worker's bounded local retry of a dispatch
// attempt before giving up and marking the request FAILED, adapted from
// the teacher's root-package BackoffConfig (gqs/backoff.go). The
// original implementation has no generic retry/backoff concept of its
// own for worker dispatch (a failed match or a failed datasource call
// fails the request immediately); this supplements that with the same
// bounded-retry idiom the teacher applies to queue redelivery, scoped
// instead to transient dispatch errors (e.g. a datasource's remote
// backend timing out) within a single delivery.
type BackoffConfig struct {
	MaxRetries          uint32
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

type backoffCounter struct {
	BackoffConfig
}

func (bc *backoffCounter) next(attempt uint32) (time.Duration, bool) {
	if attempt > bc.MaxRetries {
		return 0, false
	}
	exp := float64(bc.InitialInterval) * math.Pow(bc.Multiplier, float64(attempt-1))
	if exp > float64(bc.MaxInterval) {
		exp = float64(bc.MaxInterval)
	}
	if bc.RandomizationFactor > 0 {
		delta := bc.RandomizationFactor * exp
		minExp := exp - delta
		maxExp := exp + delta
		exp = minExp + rand.Float64()*(maxExp-minExp)
	}
	return time.Duration(exp), true
}
