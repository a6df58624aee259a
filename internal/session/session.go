// Package session defines the shared call-session record that coordinates one
// call attempt between two users, and the document-store contract used to
// exchange it. The record is observed as repeated full snapshots, never as a
// diff stream; consumers diff locally (see internal/signaling).
package session

import "time"

// CallType distinguishes audio-only from audio+video calls.
// Immutable after creation.
type CallType string

const (
	AudioCall CallType = "audio"
	VideoCall CallType = "video"
)

// Status is the lifecycle state of a call session. Values are stable — they
// are written to the shared record and compared across app versions.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusEnded      Status = "ended"
	StatusDeclined   Status = "declined"
	StatusMissed     Status = "missed"
)

// Terminal reports whether no further lifecycle transitions leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusDeclined, StatusMissed:
		return true
	}
	return false
}

// CallSession is the single shared record for one call attempt.
//
// Field ownership: CallerSDP is written only by the caller side, ReceiverSDP
// only by the receiver side. Candidates never shrink — either side appends.
// The record carries no per-candidate consumption marker; each consumer
// tracks what it already applied.
type CallSession struct {
	ID         string   `json:"id" bson:"_id"`
	CallerID   string   `json:"caller_id" bson:"caller_id"`
	ReceiverID string   `json:"receiver_id" bson:"receiver_id"`
	Type       CallType `json:"call_type" bson:"call_type"`
	Status     Status   `json:"status" bson:"status"`

	// CallerSDP and ReceiverSDP are opaque session-description blobs,
	// each written at most once by its producing side.
	CallerSDP   string `json:"caller_sdp,omitempty" bson:"caller_sdp,omitempty"`
	ReceiverSDP string `json:"receiver_sdp,omitempty" bson:"receiver_sdp,omitempty"`

	// Candidates is the append-only, ordered sequence of opaque network
	// candidate tokens discovered by both sides.
	Candidates []string `json:"ice_candidates,omitempty" bson:"ice_candidates,omitempty"`

	// StartTime is set exactly once, the instant Status first becomes
	// connected. Zero until then.
	StartTime time.Time `json:"start_time,omitempty" bson:"start_time,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Clone returns a deep copy. Snapshots handed to subscribers must not share
// the candidate slice with the store's copy.
func (c *CallSession) Clone() *CallSession {
	if c == nil {
		return nil
	}
	out := *c
	if c.Candidates != nil {
		out.Candidates = append([]string(nil), c.Candidates...)
	}
	return &out
}
