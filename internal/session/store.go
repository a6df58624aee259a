package session

import (
	"context"
	"errors"
)

// Store errors. Implementations wrap these so callers can errors.Is them.
var (
	// ErrUnavailable means the backing store is unreachable.
	ErrUnavailable = errors.New("session store unavailable")

	// ErrNotFound means the session record does not (or no longer) exist.
	ErrNotFound = errors.New("session not found")
)

// Fields is a partial update to a session record. Nil fields are left
// untouched by UpdateFields — the record is never overwritten wholesale, so
// concurrent writers cannot erase each other's contributions.
type Fields struct {
	Status      *Status
	CallerSDP   *string
	ReceiverSDP *string
}

// Snapshot is one observation of a session record. Session is nil when the
// record is absent (deleted, or never existed).
type Snapshot struct {
	Session *CallSession
}

// Store is typed access to call-session records in a shared, eventually
// consistent document store. The only ordering guarantee across concurrent
// partial updates from two sides is last-write-per-field-wins; the signaling
// layer is designed to be correct under that.
type Store interface {
	// Create inserts a new record. Returns ErrUnavailable when the backing
	// store is unreachable.
	Create(ctx context.Context, s *CallSession) error

	// Subscribe delivers the current snapshot immediately, then a new
	// snapshot every time the record changes, until cancel is called or ctx
	// ends. Re-subscribing to the same id replays the current snapshot but
	// causes no other side effects.
	Subscribe(ctx context.Context, id string) (<-chan Snapshot, func(), error)

	// UpdateFields merges only the non-nil fields into the record. Setting
	// Status to connected also sets StartTime, on the first such write only.
	// Returns ErrNotFound when the record no longer exists.
	UpdateFields(ctx context.Context, id string, f Fields) error

	// AppendCandidates appends candidate tokens to the record's ordered
	// candidate sequence. The sequence only ever grows.
	AppendCandidates(ctx context.Context, id string, cands ...string) error

	// Close releases all subscriptions and backing connections.
	Close() error
}
