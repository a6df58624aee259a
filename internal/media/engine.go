// Package media is the narrow contract to the underlying audio/video engine.
// The call core treats the engine as a black box: it creates a connection,
// produces and consumes session descriptions, exchanges network candidates,
// and reports connection-state changes. All real media work (capture,
// encoding, transport, NAT traversal) happens behind this boundary.
package media

import (
	"context"
	"errors"
)

// ErrEngineFailure means the engine could not create a connection or produce
// a description. The call attempt is aborted when this surfaces.
var ErrEngineFailure = errors.New("media engine failure")

// ConnState mirrors the engine's connection lifecycle.
type ConnState int

const (
	StateNew ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Engine is one media connection for one call attempt. Descriptions and
// candidates cross this boundary as opaque string blobs; the engine is the
// only layer that interprets them.
//
// For a successful negotiation States eventually delivers StateConnected;
// otherwise StateFailed or StateDisconnected. Both channels are closed by
// Disconnect.
type Engine interface {
	// CreateConnection allocates the underlying connection. video selects
	// audio+video vs audio-only; caller selects offer vs answer role.
	CreateConnection(ctx context.Context, video, caller bool) error

	// CreateOffer produces the local description blob (caller side, after
	// CreateConnection).
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer produces the local description blob (receiver side, after
	// SetRemoteDescription).
	CreateAnswer(ctx context.Context) (string, error)

	// SetRemoteDescription applies the remote side's description blob.
	SetRemoteDescription(ctx context.Context, sdp string) error

	// AddRemoteCandidate applies one remote candidate token. A malformed
	// token returns an error; the caller skips it and keeps going.
	AddRemoteCandidate(cand string) error

	// LocalCandidates streams locally discovered candidate tokens until
	// Disconnect.
	LocalCandidates() <-chan string

	// States streams connection-state changes until Disconnect.
	States() <-chan ConnState

	// ToggleAudio flips the local audio track. Returns true when muted.
	ToggleAudio() bool
	// ToggleVideo flips the local video track. Returns true when disabled.
	ToggleVideo() bool
	// ToggleSpeaker flips the output route. Returns true when speaker is on.
	ToggleSpeaker() bool
	// SwitchCamera switches between capture devices, where supported.
	SwitchCamera() error

	// Disconnect releases all engine resources. Idempotent — safe to call
	// any number of times, from any of the teardown paths.
	Disconnect()
}
