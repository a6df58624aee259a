package session

import (
	"context"
	"testing"
	"time"
)

func recvSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestMemStoreSubscribeDeliversInitialSnapshot(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	t.Run("absent record", func(t *testing.T) {
		ch, cancel, err := m.Subscribe(ctx, "nope")
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()
		snap := recvSnapshot(t, ch)
		if snap.Session != nil {
			t.Fatalf("expected absent snapshot, got %+v", snap.Session)
		}
	})

	t.Run("existing record", func(t *testing.T) {
		s := &CallSession{ID: "c1", CallerID: "alice", ReceiverID: "bob", Type: AudioCall, Status: StatusInitiating}
		if err := m.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
		ch, cancel, err := m.Subscribe(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()
		snap := recvSnapshot(t, ch)
		if snap.Session == nil || snap.Session.ID != "c1" || snap.Session.Status != StatusInitiating {
			t.Fatalf("unexpected initial snapshot: %+v", snap.Session)
		}
	})
}

func TestMemStoreUpdateFieldsMergesPartially(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	s := &CallSession{ID: "c2", CallerID: "alice", ReceiverID: "bob", Type: VideoCall, Status: StatusInitiating}
	if err := m.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	offer := "offer-sdp"
	ringing := StatusRinging
	if err := m.UpdateFields(ctx, "c2", Fields{CallerSDP: &offer, Status: &ringing}); err != nil {
		t.Fatal(err)
	}

	// A later update naming only the other side's field must not erase the
	// caller's contribution.
	answer := "answer-sdp"
	if err := m.UpdateFields(ctx, "c2", Fields{ReceiverSDP: &answer}); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("c2")
	if err != nil {
		t.Fatal(err)
	}
	if got.CallerSDP != offer || got.ReceiverSDP != answer || got.Status != StatusRinging {
		t.Fatalf("merge lost fields: %+v", got)
	}

	if err := m.UpdateFields(ctx, "missing", Fields{Status: &ringing}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStoreStartTimeSetOnce(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return first }

	if err := m.Create(ctx, &CallSession{ID: "c3", CallerID: "a", ReceiverID: "b", Type: AudioCall, Status: StatusConnecting}); err != nil {
		t.Fatal(err)
	}

	connected := StatusConnected
	if err := m.UpdateFields(ctx, "c3", Fields{Status: &connected}); err != nil {
		t.Fatal(err)
	}

	// Both sides racing to write CONNECTED produce a second write; start time
	// must keep the first value.
	m.now = func() time.Time { return first.Add(time.Minute) }
	if err := m.UpdateFields(ctx, "c3", Fields{Status: &connected}); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("c3")
	if err != nil {
		t.Fatal(err)
	}
	if !got.StartTime.Equal(first) {
		t.Fatalf("start time moved: want %v, got %v", first, got.StartTime)
	}
}

func TestMemStoreAppendCandidatesOnlyGrows(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	if err := m.Create(ctx, &CallSession{ID: "c4", CallerID: "a", ReceiverID: "b", Type: AudioCall, Status: StatusRinging}); err != nil {
		t.Fatal(err)
	}

	if err := m.AppendCandidates(ctx, "c4", "a1", "a2"); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendCandidates(ctx, "c4", "b1"); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("c4")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a1", "a2", "b1"}
	if len(got.Candidates) != len(want) {
		t.Fatalf("candidates: want %v, got %v", want, got.Candidates)
	}
	for i := range want {
		if got.Candidates[i] != want[i] {
			t.Fatalf("candidates out of order: want %v, got %v", want, got.Candidates)
		}
	}
}

func TestMemStoreSubscriptionStream(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	if err := m.Create(ctx, &CallSession{ID: "c5", CallerID: "a", ReceiverID: "b", Type: AudioCall, Status: StatusInitiating}); err != nil {
		t.Fatal(err)
	}

	ch, cancel, err := m.Subscribe(ctx, "c5")
	if err != nil {
		t.Fatal(err)
	}
	recvSnapshot(t, ch) // initial

	ringing := StatusRinging
	if err := m.UpdateFields(ctx, "c5", Fields{Status: &ringing}); err != nil {
		t.Fatal(err)
	}
	snap := recvSnapshot(t, ch)
	if snap.Session.Status != StatusRinging {
		t.Fatalf("expected ringing snapshot, got %v", snap.Session.Status)
	}

	// Snapshots must not share the store's candidate slice.
	if err := m.AppendCandidates(ctx, "c5", "x"); err != nil {
		t.Fatal(err)
	}
	snap = recvSnapshot(t, ch)
	snap.Session.Candidates[0] = "mutated"
	got, _ := m.Get("c5")
	if got.Candidates[0] != "x" {
		t.Fatal("snapshot shares candidate slice with store")
	}

	cancel()
	if _, ok := <-ch; ok {
		// Drain until closed; cancel closes the channel.
		for range ch {
		}
	}
}
