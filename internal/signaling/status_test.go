package signaling

import (
	"testing"

	"github.com/namithm70/fitnessapp-sub001/internal/session"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to session.Status
		want     bool
	}{
		{session.StatusInitiating, session.StatusRinging, true},
		{session.StatusRinging, session.StatusConnecting, true},
		{session.StatusConnecting, session.StatusConnected, true},
		{session.StatusConnected, session.StatusEnded, true},
		{session.StatusRinging, session.StatusDeclined, true},
		{session.StatusRinging, session.StatusMissed, true},

		// No skipping forward.
		{session.StatusInitiating, session.StatusConnected, false},
		{session.StatusRinging, session.StatusConnected, false},

		// Terminal states have no outgoing edges.
		{session.StatusEnded, session.StatusRinging, false},
		{session.StatusDeclined, session.StatusConnected, false},
		{session.StatusMissed, session.StatusEnded, false},

		// Snapshot replay re-delivers the same status constantly.
		{session.StatusRinging, session.StatusRinging, true},
		{session.StatusEnded, session.StatusEnded, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCandidateLogDelta(t *testing.T) {
	l := NewCandidateLog()

	d := l.Delta([]string{"a", "b"})
	if len(d) != 2 || d[0] != "a" || d[1] != "b" {
		t.Fatalf("first delta: %v", d)
	}
	for _, c := range d {
		l.Mark(c)
	}

	// The sequence only grows; only the suffix comes back.
	d = l.Delta([]string{"a", "b", "c"})
	if len(d) != 1 || d[0] != "c" {
		t.Fatalf("suffix delta: %v", d)
	}
	l.Mark("c")

	if d = l.Delta([]string{"a", "b", "c"}); len(d) != 0 {
		t.Fatalf("replayed delta should be empty, got %v", d)
	}

	// Duplicates inside one snapshot collapse to the first occurrence.
	d = l.Delta([]string{"d", "d", "e"})
	if len(d) != 2 || d[0] != "d" || d[1] != "e" {
		t.Fatalf("dup delta: %v", d)
	}

	if l.Len() != 3 {
		t.Fatalf("len = %d, want 3", l.Len())
	}
}
