package service

import (
	"math/rand"
	"sync"
	"time"
)

// DelayScheduler draws per-message delays. Safe for concurrent use.
type DelayScheduler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewDelayScheduler uses rnd when given, otherwise a time-seeded source.
func NewDelayScheduler(rnd *rand.Rand) *DelayScheduler {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &DelayScheduler{rnd: rnd}
}

// Next returns a uniform delay in [minSec, maxSec] seconds. Callers validate the bounds.
func (d *DelayScheduler) Next(minSec, maxSec int) time.Duration {
	if maxSec <= minSec {
		return time.Duration(minSec) * time.Second
	}
	d.mu.Lock()
	n := minSec + d.rnd.Intn(maxSec-minSec+1)
	d.mu.Unlock()
	return time.Duration(n) * time.Second
}
