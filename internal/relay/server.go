package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/namithm70/fitnessapp-sub001/internal/session"
)

var log = logging.Logger("relay")

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// Clients are mobile apps, not browsers; origin carries no trust here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves call-session records to websocket clients. Records live in an
// in-process MemStore; the relay is the single writer's meeting point, so the
// store's merge and append semantics carry over unchanged to every client.
type Server struct {
	addr string
	srv  *http.Server

	mu      sync.Mutex
	boundTo string // actual listen address, set by Start
	store   *session.MemStore
}

// New creates a relay server listening on addr (":0" picks a free port).
func New(addr string) *Server {
	return &Server{
		addr:  addr,
		store: session.NewMemStore(),
	}
}

// Store exposes the backing store. Lets a single-process deployment share the
// relay's records without a websocket hop.
func (s *Server) Store() *session.MemStore {
	return s.store
}

// Start binds the listener and serves until ctx ends. Non-blocking.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.boundTo = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shctx)
		_ = s.store.Close()
	}()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("relay server", "err", err)
		}
	}()

	log.Infow("relay listening", "addr", s.boundTo)
	return nil
}

// URL returns the websocket endpoint clients dial. Valid after Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "ws://" + s.boundTo + "/ws"
}

// wsConn is one client connection. writeMu serializes frames: acks come from
// the read loop, snapshots from per-subscription pumps.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]func() // session id → subscription cancel
}

func (c *wsConn) send(rep reply) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(rep)
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("ws upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := &wsConn{conn: conn, subs: make(map[string]func())}
	connectedClients.Inc()
	defer func() {
		c.mu.Lock()
		for id, cancel := range c.subs {
			cancel()
			delete(c.subs, id)
			activeSubscriptions.Dec()
		}
		c.mu.Unlock()
		_ = conn.Close()
		connectedClients.Dec()
	}()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugw("ws read", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		requestsTotal.WithLabelValues(req.Op).Inc()

		ack := reply{Kind: kindAck, Seq: req.Seq}
		if err := s.dispatch(ctx, c, &req); err != nil {
			requestErrors.WithLabelValues(req.Op).Inc()
			ack.Error = errCode(err)
		}
		if err := c.send(ack); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, req *request) error {
	switch req.Op {
	case opCreate:
		if req.Session == nil || req.Session.ID == "" {
			return errors.New("create: missing session")
		}
		return s.store.Create(ctx, req.Session)

	case opUpdate:
		return s.store.UpdateFields(ctx, req.SessionID, session.Fields{
			Status:      req.Status,
			CallerSDP:   req.CallerSDP,
			ReceiverSDP: req.ReceiverSDP,
		})

	case opAppend:
		return s.store.AppendCandidates(ctx, req.SessionID, req.Candidates...)

	case opSubscribe:
		return s.subscribe(ctx, c, req.SessionID)

	case opUnsubscribe:
		c.mu.Lock()
		if cancel, ok := c.subs[req.SessionID]; ok {
			cancel()
			delete(c.subs, req.SessionID)
			activeSubscriptions.Dec()
		}
		c.mu.Unlock()
		return nil

	default:
		return errors.New("unknown op " + req.Op)
	}
}

// subscribe attaches the connection to a session's snapshot stream. A second
// subscribe for the same id replaces the first, so a reconnecting client
// never accumulates duplicate streams.
func (s *Server) subscribe(ctx context.Context, c *wsConn, id string) error {
	if id == "" {
		return errors.New("subscribe: missing session id")
	}
	ch, cancel, err := s.store.Subscribe(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if prev, ok := c.subs[id]; ok {
		prev()
		activeSubscriptions.Dec()
	}
	c.subs[id] = cancel
	c.mu.Unlock()
	activeSubscriptions.Inc()

	go func() {
		for snap := range ch {
			rep := reply{Kind: kindSnapshot, SessionID: id, Session: snap.Session}
			if err := c.send(rep); err != nil {
				return
			}
			snapshotsSent.Inc()
		}
	}()
	return nil
}

// errCode maps store errors onto wire codes the client can translate back.
func errCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return errCodeNotFound
	case errors.Is(err, session.ErrUnavailable):
		return errCodeUnavailable
	default:
		return err.Error()
	}
}
