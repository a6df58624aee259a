// Package call is the orchestration surface the presentation layer drives:
// initiate, answer, decline, end, toggle media. A Coordinator owns at most
// one active session subscription at a time, de-duplicates re-entrant
// initialization, and bridges media-engine events into session-store writes.
// The UI never touches the session record directly.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/namithm70/fitnessapp-sub001/internal/history"
	"github.com/namithm70/fitnessapp-sub001/internal/media"
	"github.com/namithm70/fitnessapp-sub001/internal/session"
	"github.com/namithm70/fitnessapp-sub001/internal/signaling"
	"github.com/namithm70/fitnessapp-sub001/internal/util"
)

var log = logging.Logger("call")

// ErrNoActiveSession means an operation was attempted without a prior
// successful Initiate or Attach.
var ErrNoActiveSession = errors.New("no active call session")

// EngineFactory produces one media engine per call attempt.
type EngineFactory func() media.Engine

// StatusChange is delivered to OnStatus callbacks whenever the observed call
// status changes. The notification layer alerts on ringing and clears on
// connected or any terminal status.
type StatusChange struct {
	SessionID string
	Status    session.Status
}

// Event is one entry of the recent-activity diagnostics buffer.
type Event struct {
	Time   time.Time
	Kind   string
	Detail string
}

// recentEvents is how many diagnostics entries are retained.
const recentEvents = 128

// Coordinator drives call attempts against a session store and a media
// engine. Safe for concurrent use; all per-attempt handling is serialized on
// one internal goroutine per attempt.
type Coordinator struct {
	selfID  string
	store   session.Store
	engines EngineFactory
	hist    *history.Log // nil disables the call log

	mu  sync.Mutex
	att *attempt

	statusMu  sync.RWMutex
	statusFns []func(StatusChange)

	events *util.RingBuffer[Event]
}

// New creates a Coordinator for the given local user id.
func New(selfID string, store session.Store, engines EngineFactory) *Coordinator {
	return &Coordinator{
		selfID:  selfID,
		store:   store,
		engines: engines,
		events:  util.NewRingBuffer[Event](recentEvents),
	}
}

// SetHistory enables the local call log.
func (c *Coordinator) SetHistory(h *history.Log) { c.hist = h }

// OnStatus registers a callback fired on every observed status change.
// Multiple handlers may be registered.
func (c *Coordinator) OnStatus(fn func(StatusChange)) {
	c.statusMu.Lock()
	c.statusFns = append(c.statusFns, fn)
	c.statusMu.Unlock()
}

// RecentEvents returns the diagnostics buffer, oldest first.
func (c *Coordinator) RecentEvents() []Event {
	return c.events.Snapshot()
}

// Initiate creates a new call session to receiverID, produces the offer and
// advances the session to ringing. The returned session reflects the state
// as written. Store unreachability surfaces as session.ErrUnavailable with
// no partial session left behind; engine trouble surfaces as
// media.ErrEngineFailure with the session written to ended.
func (c *Coordinator) Initiate(ctx context.Context, receiverID string, callType session.CallType) (*session.CallSession, error) {
	if receiverID == "" {
		return nil, fmt.Errorf("receiver id is required")
	}

	s := &session.CallSession{
		ID:         uuid.NewString(),
		CallerID:   c.selfID,
		ReceiverID: receiverID,
		Type:       callType,
		Status:     session.StatusInitiating,
		CreatedAt:  time.Now(),
	}
	if err := c.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.record("initiate", s.ID)

	att, err := c.replaceAttempt(ctx, s.ID, signaling.RoleCaller)
	if err != nil {
		return nil, err
	}

	engine := c.engines()
	if err := engine.CreateConnection(ctx, callType == session.VideoCall, true); err != nil {
		c.abortAttempt(ctx, att, engine)
		return nil, err
	}
	att.setEngine(engine)
	// Loop is not running yet, so binding directly is safe here. The
	// receiver side binds through the queue instead (see Answer).
	att.reactor.BindEngine(engine)

	offer, err := engine.CreateOffer(ctx)
	if err != nil {
		c.abortAttempt(ctx, att, engine)
		return nil, err
	}

	ringing := session.StatusRinging
	if err := c.store.UpdateFields(ctx, s.ID, session.Fields{
		CallerSDP: &offer,
		Status:    &ringing,
	}); err != nil {
		c.abortAttempt(ctx, att, engine)
		return nil, fmt.Errorf("publish offer: %w", err)
	}

	c.startLoop(att)
	c.pumpEngine(att, engine)

	s.CallerSDP = offer
	s.Status = session.StatusRinging
	log.Infow("call initiated", "session", s.ID, "receiver", receiverID, "type", callType)
	return s, nil
}

// Attach subscribes to an existing session (the receiving side, typically in
// response to a push notification). Idempotent and re-entrant: attaching to
// the already-active id is a no-op, so racing notification and UI paths
// cannot stack duplicate listeners. Attaching to a different id cancels the
// previous subscription first.
func (c *Coordinator) Attach(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	c.mu.Lock()
	if c.att != nil && c.att.sessionID == sessionID && !c.att.finished() {
		c.mu.Unlock()
		log.Debugw("attach: already subscribed", "session", sessionID)
		return nil
	}
	c.mu.Unlock()

	c.record("attach", sessionID)
	att, err := c.replaceAttempt(ctx, sessionID, signaling.RoleReceiver)
	if err != nil {
		return err
	}
	c.startLoop(att)
	return nil
}

// Answer accepts the currently attached incoming call: it creates the local
// media connection with the call's declared type, moves the session to
// connecting so the remote side stops treating it as still-ringing, and
// consumes the offer if it already arrived. Calling Answer again while an
// engine exists is a no-op.
func (c *Coordinator) Answer(ctx context.Context) error {
	c.mu.Lock()
	att := c.att
	c.mu.Unlock()
	if att == nil || att.finished() {
		return ErrNoActiveSession
	}
	if att.role != signaling.RoleReceiver {
		return fmt.Errorf("%w: not the receiving side", ErrNoActiveSession)
	}
	if att.getEngine() != nil {
		return nil
	}
	snap := att.snapshot()
	if snap == nil {
		// The initial snapshot is delivered asynchronously, so answering
		// right after Attach can race it. Wait for the first delivery.
		select {
		case <-att.firstSnap:
		case <-att.ctx.Done():
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		if snap = att.snapshot(); snap == nil {
			return fmt.Errorf("%w: session record not observed yet", ErrNoActiveSession)
		}
	}

	engine := c.engines()
	if err := engine.CreateConnection(ctx, snap.Type == session.VideoCall, false); err != nil {
		c.abortAttempt(ctx, att, engine)
		return err
	}
	att.setEngine(engine)

	// Connecting is written before negotiation so the caller's UI leaves the
	// ringing state immediately.
	connecting := session.StatusConnecting
	if err := c.store.UpdateFields(ctx, att.sessionID, session.Fields{Status: &connecting}); err != nil {
		c.abortAttempt(ctx, att, engine)
		return fmt.Errorf("write connecting: %w", err)
	}

	c.pumpEngine(att, engine)
	// Binding goes through the queue so the reactor only ever runs on the
	// loop goroutine; the loop replays the latest snapshot on bind, which
	// covers the race where the offer arrived before the user answered.
	att.enqueue(attemptEvent{bind: engine})
	c.record("answer", att.sessionID)
	log.Infow("call answered", "session", att.sessionID)
	return nil
}

// Decline ends a not-yet-accepted call with the declined status. Idempotent;
// safe to call after the session already reached a terminal state remotely.
func (c *Coordinator) Decline(ctx context.Context) error {
	return c.hangup(ctx, session.StatusDeclined)
}

// End hangs up the call. Idempotent; safe to call after the session already
// reached a terminal state remotely.
func (c *Coordinator) End(ctx context.Context) error {
	return c.hangup(ctx, session.StatusEnded)
}

// ToggleAudio flips the local audio track. Purely local, no store write.
func (c *Coordinator) ToggleAudio() (bool, error) {
	e, err := c.activeEngine()
	if err != nil {
		return false, err
	}
	return e.ToggleAudio(), nil
}

// ToggleVideo flips the local video track. Purely local, no store write.
func (c *Coordinator) ToggleVideo() (bool, error) {
	e, err := c.activeEngine()
	if err != nil {
		return false, err
	}
	return e.ToggleVideo(), nil
}

// ToggleSpeaker flips the output route. Purely local, no store write.
func (c *Coordinator) ToggleSpeaker() (bool, error) {
	e, err := c.activeEngine()
	if err != nil {
		return false, err
	}
	return e.ToggleSpeaker(), nil
}

// SwitchCamera switches capture devices. Purely local, no store write.
func (c *Coordinator) SwitchCamera() error {
	e, err := c.activeEngine()
	if err != nil {
		return err
	}
	return e.SwitchCamera()
}

// Close releases the active attempt, if any.
func (c *Coordinator) Close() {
	c.mu.Lock()
	att := c.att
	c.att = nil
	c.mu.Unlock()
	if att != nil {
		att.release()
	}
}

// replaceAttempt tears down any previous attempt and installs a fresh one,
// already subscribed to sessionID. The event loop is not started yet.
func (c *Coordinator) replaceAttempt(ctx context.Context, sessionID string, role signaling.Role) (*attempt, error) {
	attCtx, cancel := context.WithCancel(context.Background())
	subCh, cancelSub, err := c.store.Subscribe(attCtx, sessionID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe session: %w", err)
	}

	att := &attempt{
		sessionID: sessionID,
		role:      role,
		ctx:       attCtx,
		cancel:    cancel,
		cancelSub: cancelSub,
		queue:     make(chan attemptEvent, 64),
		loopDone:  make(chan struct{}),
		firstSnap: make(chan struct{}),
	}
	att.reactor = signaling.NewReactor(sessionID, role, c.store, func(st session.Status) {
		c.emitStatus(sessionID, st)
	})

	// Subscription pump: snapshots in delivery order onto the queue.
	go func() {
		for {
			select {
			case <-attCtx.Done():
				return
			case snap, ok := <-subCh:
				if !ok {
					return
				}
				att.enqueue(attemptEvent{snap: snap.Session, snapValid: true})
			}
		}
	}()

	c.mu.Lock()
	prev := c.att
	c.att = att
	c.mu.Unlock()
	if prev != nil {
		prev.release()
	}
	return att, nil
}

// startLoop starts the serialized per-attempt handler.
func (c *Coordinator) startLoop(att *attempt) {
	go func() {
		defer close(att.loopDone)
		for {
			select {
			case <-att.ctx.Done():
				return
			case ev := <-att.queue:
				if c.handle(att, ev) {
					outcome := att.reactor.LastStatus()
					att.release()
					c.logOutcome(att, outcome)
					c.clearAttempt(att)
					return
				}
			}
		}
	}()
}

// handle dispatches one queued event to the reactor. Returns true when the
// attempt reached its end.
func (c *Coordinator) handle(att *attempt, ev attemptEvent) bool {
	switch {
	case ev.bind != nil:
		att.reactor.BindEngine(ev.bind)
		if snap := att.snapshot(); snap != nil {
			return att.reactor.HandleSnapshot(att.ctx, snap)
		}
	case ev.snapValid:
		att.setSnapshot(ev.snap)
		return att.reactor.HandleSnapshot(att.ctx, ev.snap)
	case ev.stateValid:
		c.record("engine:"+ev.state.String(), att.sessionID)
		return att.reactor.HandleEngineState(att.ctx, ev.state)
	case ev.candValid:
		att.reactor.PublishLocalCandidate(att.ctx, ev.localCand)
	}
	return false
}

// pumpEngine forwards the engine's two event streams onto the serialized
// queue: connection states, and locally discovered candidates (deduplicated,
// in discovery order; the loop publishes them after pre-marking, so a later
// snapshot never feeds our own candidates back into the engine).
func (c *Coordinator) pumpEngine(att *attempt, e media.Engine) {
	go func() {
		for {
			select {
			case <-att.ctx.Done():
				return
			case st, ok := <-e.States():
				if !ok {
					return
				}
				att.enqueue(attemptEvent{state: st, stateValid: true})
			}
		}
	}()
	go func() {
		seen := make(map[string]struct{})
		for {
			select {
			case <-att.ctx.Done():
				return
			case cand, ok := <-e.LocalCandidates():
				if !ok {
					return
				}
				if _, dup := seen[cand]; dup {
					continue
				}
				seen[cand] = struct{}{}
				att.enqueue(attemptEvent{localCand: cand, candValid: true})
			}
		}
	}()
}

// hangup writes a terminal status and releases the attempt. A record that is
// already gone (or already terminal) is not an error for the UI caller.
func (c *Coordinator) hangup(ctx context.Context, status session.Status) error {
	c.mu.Lock()
	att := c.att
	c.att = nil
	c.mu.Unlock()
	if att == nil {
		return nil
	}

	err := c.store.UpdateFields(ctx, att.sessionID, session.Fields{Status: &status})
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		log.Warnw("write terminal status", "session", att.sessionID, "status", status, "err", err)
	}
	att.release()
	c.logOutcome(att, status)
	c.emitStatus(att.sessionID, status)
	c.record("hangup:"+string(status), att.sessionID)
	log.Infow("call released", "session", att.sessionID, "status", status)
	return nil
}

// abortAttempt handles engine trouble during setup: the session is written to
// ended so the other side observes the stall, and everything local is freed.
func (c *Coordinator) abortAttempt(ctx context.Context, att *attempt, e media.Engine) {
	ended := session.StatusEnded
	if err := c.store.UpdateFields(ctx, att.sessionID, session.Fields{Status: &ended}); err != nil &&
		!errors.Is(err, session.ErrNotFound) {
		log.Warnw("write ended after engine failure", "session", att.sessionID, "err", err)
	}
	e.Disconnect()
	att.release()
	c.logOutcome(att, session.StatusEnded)
	c.clearAttempt(att)
}

// activeEngine returns the engine of the live attempt.
func (c *Coordinator) activeEngine() (media.Engine, error) {
	c.mu.Lock()
	att := c.att
	c.mu.Unlock()
	if att == nil || att.finished() {
		return nil, ErrNoActiveSession
	}
	e := att.getEngine()
	if e == nil {
		return nil, ErrNoActiveSession
	}
	return e, nil
}

// clearAttempt drops att from the coordinator if it is still the active one.
func (c *Coordinator) clearAttempt(att *attempt) {
	c.mu.Lock()
	if c.att == att {
		c.att = nil
	}
	c.mu.Unlock()
}

// logOutcome records the finished attempt in the call log.
func (c *Coordinator) logOutcome(att *attempt, outcome session.Status) {
	if c.hist == nil || !outcome.Terminal() {
		return
	}
	snap := att.snapshot()
	if snap == nil {
		return
	}
	rec := history.Record{
		SessionID:  snap.ID,
		CallerID:   snap.CallerID,
		ReceiverID: snap.ReceiverID,
		Type:       snap.Type,
		Outcome:    outcome,
		StartedAt:  snap.StartTime,
		EndedAt:    time.Now(),
	}
	if !snap.StartTime.IsZero() {
		rec.Duration = rec.EndedAt.Sub(snap.StartTime)
	}
	if err := c.hist.Record(rec); err != nil {
		log.Warnw("record call history", "session", snap.ID, "err", err)
	}
}

// emitStatus fans a status change out to the registered callbacks.
func (c *Coordinator) emitStatus(sessionID string, st session.Status) {
	c.record("status:"+string(st), sessionID)
	c.statusMu.RLock()
	fns := make([]func(StatusChange), len(c.statusFns))
	copy(fns, c.statusFns)
	c.statusMu.RUnlock()
	for _, fn := range fns {
		fn(StatusChange{SessionID: sessionID, Status: st})
	}
}

// record appends one diagnostics entry.
func (c *Coordinator) record(kind, detail string) {
	c.events.Push(Event{Time: time.Now(), Kind: kind, Detail: detail})
}
