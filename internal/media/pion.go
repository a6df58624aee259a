package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("media")

// eventBuf sizes the candidate and state channels. Trickle ICE on a two-party
// call produces a handful of candidates; 32 is generous.
const eventBuf = 32

// PionEngine implements Engine on a pion/webrtc PeerConnection. Description
// blobs are JSON-encoded webrtc.SessionDescription values and candidate
// tokens are JSON-encoded webrtc.ICECandidateInit values, so they stay opaque
// to everything above this package.
type PionEngine struct {
	iceServers []string

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	closed    bool
	audioOn   bool
	videoOn   bool
	speakerOn bool

	cands  chan string
	states chan ConnState
}

// NewPionEngine creates an engine using the given STUN/TURN URLs, falling
// back to a public STUN server when none are configured.
func NewPionEngine(iceServers []string) *PionEngine {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &PionEngine{
		iceServers: iceServers,
		audioOn:    true,
		videoOn:    true,
		cands:      make(chan string, eventBuf),
		states:     make(chan ConnState, eventBuf),
	}
}

// CreateConnection builds the PeerConnection with default codecs and
// interceptors and installs the candidate/state callbacks.
func (e *PionEngine) CreateConnection(ctx context.Context, video, caller bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("%w: engine already disconnected", ErrEngineFailure)
	}
	if e.pc != nil {
		return fmt.Errorf("%w: connection already created", ErrEngineFailure)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("%w: register codecs: %v", ErrEngineFailure, err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return fmt.Errorf("%w: register interceptors: %v", ErrEngineFailure, err)
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not immediately
	// terminate the call. The default disconnectedTimeout of 5s is far too
	// short for relay paths with short outages during re-keying or failover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	servers := make([]webrtc.ICEServer, 0, len(e.iceServers))
	for _, u := range e.iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("%w: new peer connection: %v", ErrEngineFailure, err)
	}

	// Recvonly transceivers guarantee valid m-lines with ICE credentials in
	// the offer/answer even before any local track is attached.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Warnf("AddTransceiver(audio): %v", err)
	}
	if video {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Warnf("AddTransceiver(video): %v", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Warnf("marshal candidate: %v", err)
			return
		}
		e.push(e.cands, string(b))
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		e.pushState(mapConnState(st))
	})

	e.videoOn = video
	e.pc = pc
	log.Debugf("peer connection created (video=%v caller=%v)", video, caller)
	return nil
}

// CreateOffer produces and locally applies an SDP offer.
func (e *PionEngine) CreateOffer(ctx context.Context) (string, error) {
	pc, err := e.conn()
	if err != nil {
		return "", err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create offer: %v", ErrEngineFailure, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("%w: set local description: %v", ErrEngineFailure, err)
	}
	return marshalSDP(pc.LocalDescription())
}

// CreateAnswer produces and locally applies an SDP answer. Valid only after
// the remote offer has been applied.
func (e *PionEngine) CreateAnswer(ctx context.Context) (string, error) {
	pc, err := e.conn()
	if err != nil {
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create answer: %v", ErrEngineFailure, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("%w: set local description: %v", ErrEngineFailure, err)
	}
	return marshalSDP(pc.LocalDescription())
}

// SetRemoteDescription applies a remote description blob.
func (e *PionEngine) SetRemoteDescription(ctx context.Context, sdp string) error {
	pc, err := e.conn()
	if err != nil {
		return err
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(sdp), &desc); err != nil {
		return fmt.Errorf("%w: decode remote description: %v", ErrEngineFailure, err)
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote description: %v", ErrEngineFailure, err)
	}
	return nil
}

// AddRemoteCandidate applies one remote candidate token.
func (e *PionEngine) AddRemoteCandidate(cand string) error {
	pc, err := e.conn()
	if err != nil {
		return err
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(cand), &init); err != nil {
		return fmt.Errorf("malformed candidate: %w", err)
	}
	if err := pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// LocalCandidates streams locally discovered candidate tokens.
func (e *PionEngine) LocalCandidates() <-chan string { return e.cands }

// States streams connection-state changes.
func (e *PionEngine) States() <-chan ConnState { return e.states }

// ToggleAudio flips local audio. Returns the new muted state.
func (e *PionEngine) ToggleAudio() bool {
	e.mu.Lock()
	e.audioOn = !e.audioOn
	muted := !e.audioOn
	e.mu.Unlock()
	log.Debugf("audio muted=%v", muted)
	return muted
}

// ToggleVideo flips local video. Returns the new disabled state.
func (e *PionEngine) ToggleVideo() bool {
	e.mu.Lock()
	e.videoOn = !e.videoOn
	disabled := !e.videoOn
	e.mu.Unlock()
	log.Debugf("video disabled=%v", disabled)
	return disabled
}

// ToggleSpeaker flips the output route. Returns true when speaker is on.
// Output routing is a device concern; this engine only tracks the state for
// the UI layer.
func (e *PionEngine) ToggleSpeaker() bool {
	e.mu.Lock()
	e.speakerOn = !e.speakerOn
	on := e.speakerOn
	e.mu.Unlock()
	log.Debugf("speaker=%v", on)
	return on
}

// SwitchCamera switches capture devices where the platform supports it.
func (e *PionEngine) SwitchCamera() error {
	// No device capture is performed in this engine — capture lives with the
	// platform media layer.
	log.Debugf("switch camera requested")
	return nil
}

// Disconnect closes the PeerConnection and both event channels. Idempotent.
// Channels are closed under the mutex so no callback can race a send against
// the close.
func (e *PionEngine) Disconnect() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pc := e.pc
	close(e.cands)
	close(e.states)
	e.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Warnf("close peer connection: %v", err)
		}
	}
	log.Debugf("engine disconnected")
}

// conn returns the live PeerConnection or an engine-failure error.
func (e *PionEngine) conn() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.pc == nil {
		return nil, fmt.Errorf("%w: no connection", ErrEngineFailure)
	}
	return e.pc, nil
}

// push delivers to the candidate channel without blocking pion's callback
// goroutine. Runs under the mutex so Disconnect cannot close the channel mid
// send. Dropping is acceptable for candidates — a lost candidate degrades
// path selection, never correctness.
func (e *PionEngine) push(ch chan string, v string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case ch <- v:
	default:
		log.Warnf("candidate stream full, dropping")
	}
}

// pushState delivers a state change, dropping the oldest pending state when
// the buffer is full so the latest state always lands.
func (e *PionEngine) pushState(st ConnState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.states <- st:
	default:
		select {
		case <-e.states:
		default:
		}
		select {
		case e.states <- st:
		default:
		}
	}
}

func marshalSDP(desc *webrtc.SessionDescription) (string, error) {
	if desc == nil {
		return "", fmt.Errorf("%w: no local description", ErrEngineFailure)
	}
	b, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("%w: marshal description: %v", ErrEngineFailure, err)
	}
	return string(b), nil
}

func mapConnState(st webrtc.PeerConnectionState) ConnState {
	switch st {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	}
	return StateNew
}
