package signaling

import (
	"context"

	logging "github.com/ipfs/go-log/v2"

	"github.com/namithm70/fitnessapp-sub001/internal/media"
	"github.com/namithm70/fitnessapp-sub001/internal/session"
)

var log = logging.Logger("signaling")

// Role is which side of the call this process plays. The two sides share the
// status enum but interpret snapshots differently: each consumes only the
// other side's description.
type Role int

const (
	RoleCaller Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleCaller {
		return "caller"
	}
	return "receiver"
}

// Reactor drives the state machine for one call attempt. It consumes session
// snapshots and engine connection states, and issues the resulting engine and
// store side effects.
//
// A Reactor is constructed fresh per attempt and discarded on teardown, so
// idempotence flags can never leak across calls. All methods must be invoked
// from a single goroutine — the coordinator's per-attempt event loop.
type Reactor struct {
	sessionID string
	role      Role
	store     session.Store

	// engine is nil on the receiver side until the user answers; snapshots
	// that arrive before then leave candidates and the caller SDP unconsumed
	// so a later replay can apply them.
	engine media.Engine

	processedCallerSDP   bool
	processedReceiverSDP bool
	remote               *CandidateLog
	connectedWritten     bool
	terminal             bool

	lastStatus session.Status
	onStatus   func(session.Status)
}

// NewReactor creates the per-attempt state. onStatus, if non-nil, fires once
// per observed status change (the notification boundary).
func NewReactor(sessionID string, role Role, store session.Store, onStatus func(session.Status)) *Reactor {
	return &Reactor{
		sessionID: sessionID,
		role:      role,
		store:     store,
		remote:    NewCandidateLog(),
		onStatus:  onStatus,
	}
}

// BindEngine attaches the media engine. On the caller side this happens at
// initiation; on the receiver side only when the call is answered.
func (r *Reactor) BindEngine(e media.Engine) { r.engine = e }

// Terminal reports whether the attempt has reached a terminal state.
func (r *Reactor) Terminal() bool { return r.terminal }

// LastStatus returns the most recently observed status.
func (r *Reactor) LastStatus() session.Status { return r.lastStatus }

// HandleSnapshot processes one observation of the session record. Returns
// true when the attempt is finished and local resources should be released.
func (r *Reactor) HandleSnapshot(ctx context.Context, snap *session.CallSession) bool {
	if r.terminal {
		return true
	}
	if snap == nil {
		// Record gone — the other side (or an operator) deleted it.
		log.Warnw("session record absent, releasing", "session", r.sessionID)
		return r.finish()
	}

	r.observeStatus(snap.Status)

	// Any terminal status, whichever side wrote it, releases everything.
	if snap.Status.Terminal() {
		log.Infow("remote terminal status", "session", r.sessionID, "status", snap.Status)
		return r.finish()
	}

	if r.engine == nil {
		// Receiver before answering: nothing is consumed, so the same
		// snapshot content stays applicable on a later replay.
		return false
	}

	switch r.role {
	case RoleReceiver:
		// The same snapshot (or a later one changed in an unrelated field)
		// re-delivers the unchanged caller SDP; re-applying a remote
		// description to a negotiated connection is unsafe, hence the flag.
		if snap.CallerSDP != "" && !r.processedCallerSDP {
			if !r.consumeOffer(ctx, snap.CallerSDP) {
				return r.abort(ctx)
			}
		}
	case RoleCaller:
		if snap.ReceiverSDP != "" && !r.processedReceiverSDP {
			// Apply the answer but do not force CONNECTED — document status
			// records intent, only the engine proves a working media path.
			if err := r.engine.SetRemoteDescription(ctx, snap.ReceiverSDP); err != nil {
				log.Errorw("apply answer", "session", r.sessionID, "err", err)
				return r.abort(ctx)
			}
			r.processedReceiverSDP = true
			log.Debugw("answer applied", "session", r.sessionID)
		}
	}

	r.applyCandidates(snap.Candidates)
	return false
}

// HandleEngineState processes one connection-state change from the engine.
// Returns true when the attempt is finished.
func (r *Reactor) HandleEngineState(ctx context.Context, st media.ConnState) bool {
	if r.terminal {
		return true
	}
	switch st {
	case media.StateConnected:
		// The engine captures audio enabled from CreateConnection on, so
		// the media path needs no enable call here; only the record and the
		// observers are updated.
		// May fire more than once (a late ICE-connected signal racing the
		// peer-connection state); the write must stay idempotent.
		if !r.connectedWritten {
			r.connectedWritten = true
			status := session.StatusConnected
			if err := r.store.UpdateFields(ctx, r.sessionID, session.Fields{Status: &status}); err != nil {
				log.Warnw("write connected", "session", r.sessionID, "err", err)
			}
			r.observeStatus(session.StatusConnected)
			log.Infow("media path up", "session", r.sessionID, "role", r.role)
		}
	case media.StateDisconnected, media.StateFailed:
		log.Warnw("media path down", "session", r.sessionID, "state", st)
		status := session.StatusEnded
		if err := r.store.UpdateFields(ctx, r.sessionID, session.Fields{Status: &status}); err != nil {
			log.Warnw("write ended", "session", r.sessionID, "err", err)
		}
		r.observeStatus(session.StatusEnded)
		return r.finish()
	}
	return false
}

// consumeOffer applies the caller's description and produces and publishes
// the answer. Reports success.
func (r *Reactor) consumeOffer(ctx context.Context, offer string) bool {
	if err := r.engine.SetRemoteDescription(ctx, offer); err != nil {
		log.Errorw("apply offer", "session", r.sessionID, "err", err)
		return false
	}
	answer, err := r.engine.CreateAnswer(ctx)
	if err != nil {
		log.Errorw("create answer", "session", r.sessionID, "err", err)
		return false
	}
	if err := r.store.UpdateFields(ctx, r.sessionID, session.Fields{ReceiverSDP: &answer}); err != nil {
		log.Errorw("write answer", "session", r.sessionID, "err", err)
		return false
	}
	r.processedCallerSDP = true
	log.Debugw("offer consumed, answer published", "session", r.sessionID)
	return true
}

// PublishLocalCandidate appends a locally discovered candidate token to the
// shared record. The token is marked as applied first: the sequence is shared
// by both sides, so without the mark the next snapshot would feed our own
// candidate back into the engine.
func (r *Reactor) PublishLocalCandidate(ctx context.Context, cand string) {
	if r.terminal {
		return
	}
	r.remote.Mark(cand)
	if err := r.store.AppendCandidates(ctx, r.sessionID, cand); err != nil {
		log.Warnw("publish candidate", "session", r.sessionID, "err", err)
	}
}

// applyCandidates forwards the not-yet-applied suffix of the remote sequence
// to the engine, in arrival order. One malformed token is logged and skipped,
// never fatal — it must not stall delivery of the rest.
func (r *Reactor) applyCandidates(remote []string) {
	for _, c := range r.remote.Delta(remote) {
		if err := r.engine.AddRemoteCandidate(c); err != nil {
			log.Warnw("skipping candidate", "session", r.sessionID, "err", err)
		}
		r.remote.Mark(c)
	}
}

// observeStatus tracks the latest status and fires the notification callback
// once per change. Illegal edges are logged but still observed — the store is
// authoritative for what the record says, the table only for what we write.
func (r *Reactor) observeStatus(st session.Status) {
	if st == r.lastStatus || st == "" {
		return
	}
	if r.lastStatus != "" && !CanTransition(r.lastStatus, st) {
		log.Warnw("unexpected status edge", "session", r.sessionID,
			"from", r.lastStatus, "to", st)
	}
	if r.lastStatus.Terminal() {
		return
	}
	r.lastStatus = st
	if r.onStatus != nil {
		r.onStatus(st)
	}
}

// abort ends the attempt after a local engine failure: the session is written
// to ended so the other side observes the stall, then resources are released.
func (r *Reactor) abort(ctx context.Context) bool {
	status := session.StatusEnded
	if err := r.store.UpdateFields(ctx, r.sessionID, session.Fields{Status: &status}); err != nil {
		log.Warnw("write ended after failure", "session", r.sessionID, "err", err)
	}
	r.observeStatus(session.StatusEnded)
	return r.finish()
}

// finish marks the attempt terminal and releases the engine. Safe to reach
// from every teardown path; engine disconnect is idempotent.
func (r *Reactor) finish() bool {
	r.terminal = true
	if r.engine != nil {
		r.engine.Disconnect()
	}
	return true
}
