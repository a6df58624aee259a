// Package signaling owns the call-lifecycle state machine: which status
// transitions are legal, and what local action each inbound session snapshot
// or engine event triggers. It holds the per-attempt idempotence state
// (processed-SDP flags, applied-candidate log) that makes repeated snapshot
// delivery safe.
package signaling

import "github.com/namithm70/fitnessapp-sub001/internal/session"

// transitions is the set of legal status edges. Terminal states have no
// outgoing edges; every live state may fall to any terminal state.
var transitions = map[session.Status][]session.Status{
	session.StatusInitiating: {
		session.StatusRinging,
		session.StatusEnded, session.StatusDeclined, session.StatusMissed,
	},
	session.StatusRinging: {
		session.StatusConnecting,
		session.StatusEnded, session.StatusDeclined, session.StatusMissed,
	},
	session.StatusConnecting: {
		session.StatusConnected,
		session.StatusEnded, session.StatusDeclined, session.StatusMissed,
	},
	session.StatusConnected: {
		session.StatusEnded, session.StatusDeclined, session.StatusMissed,
	},
}

// CanTransition reports whether moving from one status to another follows a
// legal edge. A no-op (from == to) is always allowed — snapshot replay
// re-delivers the current status constantly.
func CanTransition(from, to session.Status) bool {
	if from == to {
		return true
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
