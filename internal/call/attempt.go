package call

import (
	"context"
	"sync"

	"github.com/namithm70/fitnessapp-sub001/internal/media"
	"github.com/namithm70/fitnessapp-sub001/internal/session"
	"github.com/namithm70/fitnessapp-sub001/internal/signaling"
)

// attemptEvent is one item on the attempt's serialized queue. Exactly one
// source is set: a session snapshot, an engine state change, a locally
// discovered candidate, or an engine binding (the receiver answering).
type attemptEvent struct {
	snap      *session.CallSession
	snapValid bool

	state      media.ConnState
	stateValid bool

	localCand string
	candValid bool

	bind media.Engine
}

// attempt is the mutable state of one call attempt. It is constructed fresh
// per Initiate/Attach and discarded on teardown, so idempotence flags and the
// candidate log can never leak into the next call.
//
// Both async sources — the store subscription and the engine's event
// streams — feed the single queue; one goroutine drains it in order. That
// serialization is what keeps the reactor's flags consistent.
type attempt struct {
	sessionID string
	role      signaling.Role
	reactor   *signaling.Reactor

	ctx       context.Context
	cancel    context.CancelFunc
	cancelSub func()
	queue     chan attemptEvent
	loopDone  chan struct{}

	firstSnap   chan struct{}
	snapOnce    sync.Once
	releaseOnce sync.Once

	mu     sync.Mutex
	engine media.Engine
	last   *session.CallSession
}

// enqueue queues an event for the serialized loop, giving up when the attempt
// is being torn down.
func (a *attempt) enqueue(ev attemptEvent) {
	select {
	case a.queue <- ev:
	case <-a.ctx.Done():
	}
}

func (a *attempt) setEngine(e media.Engine) {
	a.mu.Lock()
	a.engine = e
	a.mu.Unlock()
}

func (a *attempt) getEngine() media.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

func (a *attempt) setSnapshot(s *session.CallSession) {
	a.mu.Lock()
	a.last = s
	a.mu.Unlock()
	a.snapOnce.Do(func() { close(a.firstSnap) })
}

// snapshot returns the latest observed session record, or nil before the
// first delivery.
func (a *attempt) snapshot() *session.CallSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// finished reports whether the attempt has been released.
func (a *attempt) finished() bool {
	return a.ctx.Err() != nil
}

// release cancels the subscription and the event loop and disconnects the
// engine. Idempotent — reached from the loop, from hangup paths, and from
// attempt replacement, in any order.
func (a *attempt) release() {
	a.releaseOnce.Do(func() {
		a.cancel()
		if a.cancelSub != nil {
			a.cancelSub()
		}
		if e := a.getEngine(); e != nil {
			e.Disconnect()
		}
	})
}
