package session

import (
	"context"
	"sync"
	"time"
)

// snapshotBuf is the per-subscriber channel capacity. A single call attempt
// produces a few dozen snapshots at most; 64 leaves headroom for a slow
// consumer without unbounded growth.
const snapshotBuf = 64

// MemStore is an in-process Store. It backs unit tests, the relay server and
// single-process deployments. All methods are safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
	subs     map[string]map[chan Snapshot]struct{} // id → subscriber set
	closed   bool

	now func() time.Time // overridable in tests
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*CallSession),
		subs:     make(map[string]map[chan Snapshot]struct{}),
		now:      time.Now,
	}
}

// Create inserts a new record and notifies any early subscribers.
func (m *MemStore) Create(ctx context.Context, s *CallSession) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrUnavailable
	}
	m.sessions[s.ID] = s.Clone()
	m.notifyLocked(s.ID)
	m.mu.Unlock()
	return nil
}

// Subscribe registers a snapshot channel for id. The current value (or an
// absent snapshot) is delivered immediately.
func (m *MemStore) Subscribe(ctx context.Context, id string) (<-chan Snapshot, func(), error) {
	ch := make(chan Snapshot, snapshotBuf)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, ErrUnavailable
	}
	set, ok := m.subs[id]
	if !ok {
		set = make(map[chan Snapshot]struct{})
		m.subs[id] = set
	}
	set[ch] = struct{}{}
	ch <- Snapshot{Session: m.sessions[id].Clone()}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if set, ok := m.subs[id]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(m.subs, id)
			}
		}
		m.mu.Unlock()
	}
	return ch, cancel, nil
}

// UpdateFields merges the given fields into the record.
func (m *MemStore) UpdateFields(ctx context.Context, id string, f Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	cur, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if f.Status != nil {
		cur.Status = *f.Status
		if *f.Status == StatusConnected && cur.StartTime.IsZero() {
			cur.StartTime = m.now()
		}
	}
	if f.CallerSDP != nil {
		cur.CallerSDP = *f.CallerSDP
	}
	if f.ReceiverSDP != nil {
		cur.ReceiverSDP = *f.ReceiverSDP
	}
	m.notifyLocked(id)
	return nil
}

// AppendCandidates appends candidate tokens to the record's sequence.
func (m *MemStore) AppendCandidates(ctx context.Context, id string, cands ...string) error {
	if len(cands) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	cur, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	cur.Candidates = append(cur.Candidates, cands...)
	m.notifyLocked(id)
	return nil
}

// Get returns a copy of the current record, or ErrNotFound. Used by the relay
// server; not part of the Store contract the coordinator consumes.
func (m *MemStore) Get(id string) (*CallSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cur.Clone(), nil
}

// Close closes all subscriber channels and rejects further calls.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, set := range m.subs {
		for ch := range set {
			close(ch)
		}
	}
	m.subs = make(map[string]map[chan Snapshot]struct{})
	return nil
}

// notifyLocked fans the current snapshot out to all subscribers of id.
// When a subscriber's buffer is full the oldest pending snapshot is dropped
// in favor of the newest: snapshots are self-contained, so an intermediate
// one is superseded by its successor, but the latest must always land.
func (m *MemStore) notifyLocked(id string) {
	set := m.subs[id]
	if len(set) == 0 {
		return
	}
	snap := Snapshot{Session: m.sessions[id].Clone()}
	for ch := range set {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
