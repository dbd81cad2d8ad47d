package h1conn

import (
	"sync/atomic"
	"time"
)

// expectGate is the one-shot synchronization primitive an
// Expect:100-continue exchange needs: a sender task awaits a boolean
// (send the body, or don't), a receiver task resolves it after
// reading the final status, and a timer's only role is to flip it to
// "send" if the receiver hasn't resolved it yet. Both routes go through
// the same idempotent set-once primitive, so the timer and the
// receiver never race on a shared mutable flag.
type expectGate struct {
	result   chan bool
	resolved atomic.Bool
}

func newExpectGate() *expectGate {
	return &expectGate{result: make(chan bool, 1)}
}

// resolve sets the gate's outcome exactly once; later calls are no-ops,
// which is what lets the timer and the receiver both call it safely.
func (g *expectGate) resolve(send bool) {
	if g.resolved.CompareAndSwap(false, true) {
		g.result <- send
	}
}

// wait blocks until resolve is called, or cancelCh fires first.
func (g *expectGate) wait(cancelCh <-chan struct{}) (send bool, cancelled bool) {
	select {
	case v := <-g.result:
		return v, false
	case <-cancelCh:
		return false, true
	}
}

// armExpireTimer starts the Expect:100-continue timeout: if nothing
// has resolved the gate by d, the timer flips it to "send" so the body
// goes out anyway. Stopping the returned timer is the caller's job
// once the gate resolves through the normal receiver path.
func armExpireTimer(g *expectGate, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() { g.resolve(true) })
}
