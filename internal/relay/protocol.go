// Package relay exposes a session.Store over a websocket so that phones
// behind NAT can share call-session records through one well-known endpoint.
// The server holds the authoritative records in memory; clients speak a small
// JSON protocol and see exactly the Store contract (full snapshots, merged
// partial updates, append-only candidates).
package relay

import "github.com/namithm70/fitnessapp-sub001/internal/session"

// Request ops.
const (
	opCreate      = "create"
	opUpdate      = "update"
	opAppend      = "append"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
)

// Reply kinds.
const (
	kindAck      = "ack"
	kindSnapshot = "snapshot"
)

// Error codes carried in ack replies. Anything else is passed through as
// opaque text.
const (
	errCodeNotFound    = "not_found"
	errCodeUnavailable = "unavailable"
)

// request is one client→server frame. Seq correlates the ack; every request
// gets exactly one.
type request struct {
	Op        string `json:"op"`
	Seq       uint64 `json:"seq"`
	SessionID string `json:"session_id,omitempty"`

	// create
	Session *session.CallSession `json:"session,omitempty"`

	// update (nil fields are left untouched, mirroring session.Fields)
	Status      *session.Status `json:"status,omitempty"`
	CallerSDP   *string         `json:"caller_sdp,omitempty"`
	ReceiverSDP *string         `json:"receiver_sdp,omitempty"`

	// append
	Candidates []string `json:"candidates,omitempty"`
}

// reply is one server→client frame: an ack for a request (Seq set) or an
// unsolicited snapshot for a subscribed session (Seq zero, Session nil when
// the record is absent).
type reply struct {
	Kind      string               `json:"kind"`
	Seq       uint64               `json:"seq,omitempty"`
	Error     string               `json:"error,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
	Session   *session.CallSession `json:"session,omitempty"`
}
