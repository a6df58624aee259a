package signaling

// CandidateLog tracks which candidate tokens have already been handed over,
// so repeated full-snapshot delivery forwards each candidate exactly once.
// The shared record has no per-candidate consumption marker; this log is the
// local substitute.
//
// Not safe for concurrent use — each log belongs to one serialized handling
// path (the coordinator's per-attempt event loop).
type CandidateLog struct {
	seen map[string]struct{}
}

// NewCandidateLog creates an empty log.
func NewCandidateLog() *CandidateLog {
	return &CandidateLog{seen: make(map[string]struct{})}
}

// Delta returns the tokens in remote that have not been marked yet, preserving
// their order in remote. Duplicates inside remote itself collapse to the
// first occurrence.
func (l *CandidateLog) Delta(remote []string) []string {
	var out []string
	dup := make(map[string]struct{}, len(remote))
	for _, c := range remote {
		if _, ok := l.seen[c]; ok {
			continue
		}
		if _, ok := dup[c]; ok {
			continue
		}
		dup[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Mark records a token as handled. Marking twice is a no-op.
func (l *CandidateLog) Mark(c string) {
	l.seen[c] = struct{}{}
}

// Len returns the number of marked tokens.
func (l *CandidateLog) Len() int { return len(l.seen) }
