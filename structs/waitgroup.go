package structs

import (
	"sync"

	"go.uber.org/atomic"
)

// TimeoutWaitGroup is a wait group that can be selected on, so callers can
// bound how long they wait for it to drain.
type TimeoutWaitGroup struct {
	running  *atomic.Int64
	draining *atomic.Bool
	once     sync.Once
	done     chan struct{}
}

func NewTimeoutWaitGroup() *TimeoutWaitGroup {
	return &TimeoutWaitGroup{
		running:  atomic.NewInt64(0),
		draining: atomic.NewBool(false),
		done:     make(chan struct{}),
	}
}

// Add registers one more task. It refuses once Close was called.
func (wg *TimeoutWaitGroup) Add() bool {
	if wg.draining.Load() {
		return false
	}
	wg.running.Inc()
	return true
}

func (wg *TimeoutWaitGroup) Done() {
	if wg.running.Dec() == 0 && wg.draining.Load() {
		wg.once.Do(func() { close(wg.done) })
	}
}

// Close stops accepting tasks. C fires once every running task is done.
func (wg *TimeoutWaitGroup) Close() {
	wg.draining.Store(true)
	if wg.running.Load() == 0 {
		wg.once.Do(func() { close(wg.done) })
	}
}

func (wg *TimeoutWaitGroup) Running() int64 {
	return wg.running.Load()
}

func (wg *TimeoutWaitGroup) C() <-chan struct{} {
	return wg.done
}
