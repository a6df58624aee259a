package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/namithm70/fitnessapp-sub001/internal/session"
)

// snapshotBuf matches the in-process store's per-subscriber capacity.
const snapshotBuf = 64

// Client is a session.Store backed by a relay server. One websocket carries
// all requests and subscription snapshots; acks are correlated by sequence
// number, snapshots are routed by session id.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan string           // seq → error code ("" on success)
	subs    map[string]chan session.Snapshot // session id → subscriber
	closed  bool

	done chan struct{}
}

// Dial connects to a relay server's websocket endpoint (ws://host:port/ws).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", session.ErrUnavailable, url, err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan string),
		subs:    make(map[string]chan session.Snapshot),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Create implements session.Store.
func (c *Client) Create(ctx context.Context, s *session.CallSession) error {
	return c.call(ctx, request{Op: opCreate, Session: s})
}

// UpdateFields implements session.Store.
func (c *Client) UpdateFields(ctx context.Context, id string, f session.Fields) error {
	return c.call(ctx, request{
		Op:          opUpdate,
		SessionID:   id,
		Status:      f.Status,
		CallerSDP:   f.CallerSDP,
		ReceiverSDP: f.ReceiverSDP,
	})
}

// AppendCandidates implements session.Store.
func (c *Client) AppendCandidates(ctx context.Context, id string, cands ...string) error {
	if len(cands) == 0 {
		return nil
	}
	return c.call(ctx, request{Op: opAppend, SessionID: id, Candidates: cands})
}

// Subscribe implements session.Store. The server replays the current snapshot
// immediately after the subscribe ack, so the first receive never blocks on a
// record change.
func (c *Client) Subscribe(ctx context.Context, id string) (<-chan session.Snapshot, func(), error) {
	ch := make(chan session.Snapshot, snapshotBuf)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, session.ErrUnavailable
	}
	if prev, ok := c.subs[id]; ok {
		// Replacing a subscription closes the old channel; the store contract
		// allows at most one live consumer per attempt anyway.
		close(prev)
	}
	c.subs[id] = ch
	c.mu.Unlock()

	if err := c.call(ctx, request{Op: opSubscribe, SessionID: id}); err != nil {
		c.dropSub(id, ch)
		return nil, nil, err
	}

	cancel := func() {
		c.dropSub(id, ch)
		// Best effort; the server also reaps subscriptions on disconnect.
		_ = c.call(context.Background(), request{Op: opUnsubscribe, SessionID: id})
	}
	return ch, cancel, nil
}

// Close implements session.Store.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	for seq, ch := range c.pending {
		ch <- errCodeUnavailable
		delete(c.pending, seq)
	}
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

// call sends one request and waits for its ack.
func (c *Client) call(ctx context.Context, req request) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.ErrUnavailable
	}
	c.seq++
	req.Seq = c.seq
	ackCh := make(chan string, 1)
	c.pending[req.Seq] = ackCh
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(&req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.Seq)
		c.mu.Unlock()
		return fmt.Errorf("%w: write: %v", session.ErrUnavailable, err)
	}

	select {
	case code := <-ackCh:
		return decodeErr(code)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.Seq)
		c.mu.Unlock()
		return ctx.Err()
	case <-c.done:
		return session.ErrUnavailable
	}
}

// readLoop dispatches acks to waiting callers and snapshots to subscribers.
func (c *Client) readLoop() {
	for {
		var rep reply
		if err := c.conn.ReadJSON(&rep); err != nil {
			_ = c.Close()
			return
		}

		switch rep.Kind {
		case kindAck:
			c.mu.Lock()
			if ch, ok := c.pending[rep.Seq]; ok {
				delete(c.pending, rep.Seq)
				ch <- rep.Error
			}
			c.mu.Unlock()

		case kindSnapshot:
			c.mu.Lock()
			ch, ok := c.subs[rep.SessionID]
			if ok {
				deliver(ch, session.Snapshot{Session: rep.Session})
			}
			c.mu.Unlock()
		}
	}
}

// deliver pushes a snapshot without blocking, dropping the oldest pending one
// when the buffer is full. Snapshots are self-contained, so the newest always
// supersedes what it displaces.
func deliver(ch chan session.Snapshot, snap session.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func (c *Client) dropSub(id string, ch chan session.Snapshot) {
	c.mu.Lock()
	if cur, ok := c.subs[id]; ok && cur == ch {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
}

// decodeErr maps a wire error code back to the store's sentinel errors.
func decodeErr(code string) error {
	switch code {
	case "":
		return nil
	case errCodeNotFound:
		return session.ErrNotFound
	case errCodeUnavailable:
		return session.ErrUnavailable
	default:
		return errors.New(code)
	}
}

var _ session.Store = (*Client)(nil)
