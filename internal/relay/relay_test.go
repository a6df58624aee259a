package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/namithm70/fitnessapp-sub001/internal/session"
)

func startRelay(t *testing.T) (*Server, *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := New("127.0.0.1:0")
	if err := srv.Start(ctx); err != nil {
		t.Fatal(err)
	}

	client, err := Dial(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func recvSnapshot(t *testing.T, ch <-chan session.Snapshot) session.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return snap
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return session.Snapshot{}
}

func TestRelayEndToEnd(t *testing.T) {
	_, client := startRelay(t)
	ctx := context.Background()

	s := &session.CallSession{
		ID: "rl1", CallerID: "alice", ReceiverID: "bob",
		Type: session.AudioCall, Status: session.StatusInitiating,
	}
	if err := client.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	ch, cancel, err := client.Subscribe(ctx, "rl1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	t.Run("initial snapshot replayed", func(t *testing.T) {
		snap := recvSnapshot(t, ch)
		if snap.Session == nil || snap.Session.ID != "rl1" || snap.Session.Status != session.StatusInitiating {
			t.Fatalf("initial snapshot: %+v", snap.Session)
		}
	})

	t.Run("update propagates", func(t *testing.T) {
		offer := "offer-sdp"
		ringing := session.StatusRinging
		if err := client.UpdateFields(ctx, "rl1", session.Fields{CallerSDP: &offer, Status: &ringing}); err != nil {
			t.Fatal(err)
		}
		snap := recvSnapshot(t, ch)
		if snap.Session.Status != session.StatusRinging || snap.Session.CallerSDP != "offer-sdp" {
			t.Fatalf("updated snapshot: %+v", snap.Session)
		}
	})

	t.Run("candidates append in order", func(t *testing.T) {
		if err := client.AppendCandidates(ctx, "rl1", "c1", "c2"); err != nil {
			t.Fatal(err)
		}
		snap := recvSnapshot(t, ch)
		got := snap.Session.Candidates
		if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
			t.Fatalf("candidates: %v", got)
		}
	})
}

func TestRelayErrorMapping(t *testing.T) {
	_, client := startRelay(t)
	ctx := context.Background()

	ringing := session.StatusRinging
	err := client.UpdateFields(ctx, "missing", session.Fields{Status: &ringing})
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound over the wire, got %v", err)
	}

	if err := client.AppendCandidates(ctx, "missing", "x"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound over the wire, got %v", err)
	}
}

func TestRelayTwoClients(t *testing.T) {
	srv, caller := startRelay(t)
	ctx := context.Background()

	receiver, err := Dial(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer receiver.Close()

	s := &session.CallSession{
		ID: "rl2", CallerID: "alice", ReceiverID: "bob",
		Type: session.VideoCall, Status: session.StatusRinging,
		CallerSDP: "offer",
	}
	if err := caller.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	callerCh, cancelA, err := caller.Subscribe(ctx, "rl2")
	if err != nil {
		t.Fatal(err)
	}
	defer cancelA()
	recvSnapshot(t, callerCh) // initial

	recvCh, cancelB, err := receiver.Subscribe(ctx, "rl2")
	if err != nil {
		t.Fatal(err)
	}
	defer cancelB()
	recvSnapshot(t, recvCh) // initial

	// The receiver answers; both subscribers see the merged record.
	answer := "answer"
	connecting := session.StatusConnecting
	if err := receiver.UpdateFields(ctx, "rl2", session.Fields{ReceiverSDP: &answer, Status: &connecting}); err != nil {
		t.Fatal(err)
	}

	for name, ch := range map[string]<-chan session.Snapshot{"caller": callerCh, "receiver": recvCh} {
		snap := recvSnapshot(t, ch)
		if snap.Session.CallerSDP != "offer" || snap.Session.ReceiverSDP != "answer" {
			t.Fatalf("%s lost a side's write: %+v", name, snap.Session)
		}
	}
}

func TestRelayClientClosedCallsFail(t *testing.T) {
	_, client := startRelay(t)
	ctx := context.Background()

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	err := client.Create(ctx, &session.CallSession{ID: "x", CallerID: "a", ReceiverID: "b", Type: session.AudioCall})
	if !errors.Is(err, session.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after close, got %v", err)
	}
}
