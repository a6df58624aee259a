package history

import (
	"testing"
	"time"

	"github.com/namithm70/fitnessapp-sub001/internal/session"
)

func TestLogRecordAndRecent(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	connected := Record{
		SessionID: "h1", CallerID: "alice", ReceiverID: "bob",
		Type: session.VideoCall, Outcome: session.StatusEnded,
		StartedAt: base, EndedAt: base.Add(5 * time.Minute), Duration: 5 * time.Minute,
	}
	missed := Record{
		SessionID: "h2", CallerID: "carol", ReceiverID: "alice",
		Type: session.AudioCall, Outcome: session.StatusMissed,
		EndedAt: base.Add(10 * time.Minute),
	}
	for _, r := range []Record{connected, missed} {
		if err := l.Record(r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("rows: %d", len(got))
	}
	// Most recently ended first.
	if got[0].SessionID != "h2" || got[1].SessionID != "h1" {
		t.Fatalf("order: %s, %s", got[0].SessionID, got[1].SessionID)
	}
	if got[1].Duration != 5*time.Minute || !got[1].StartedAt.Equal(base) {
		t.Fatalf("connected row: %+v", got[1])
	}
	// A call that never connected has no start time and no duration.
	if !got[0].StartedAt.IsZero() || got[0].Duration != 0 {
		t.Fatalf("missed row: %+v", got[0])
	}
}

func TestLogRerecordOverwrites(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	// Teardown reached twice for the same attempt: last outcome wins, and no
	// duplicate row appears.
	first := Record{
		SessionID: "h3", CallerID: "alice", ReceiverID: "bob",
		Type: session.AudioCall, Outcome: session.StatusEnded, EndedAt: base,
	}
	second := first
	second.Outcome = session.StatusDeclined
	second.EndedAt = base.Add(time.Second)

	if err := l.Record(first); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(second); err != nil {
		t.Fatal(err)
	}

	got, err := l.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("rows: %d", len(got))
	}
	if got[0].Outcome != session.StatusDeclined {
		t.Fatalf("outcome: %v", got[0].Outcome)
	}
}
