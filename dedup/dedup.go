// Package dedup ensures each distinct (destination URL, source tag) pair is
// surfaced downstream at most once per scanning session.
//
// This is pure set membership over the session's lifetime. It is unrelated to
// the classifier's per-node cache, which governs recomputation, not
// reporting.
package dedup

import "sync"

// Session is the per-session report deduplicator. The zero value is not
// usable; call New.
type Session struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty session cache.
func New() *Session {
	return &Session{seen: make(map[string]struct{})}
}

// ShouldReport returns true exactly once for a given (url, source) pair.
// The first caller records the key and wins; every subsequent call with the
// same pair returns false.
func (s *Session) ShouldReport(url, source string) bool {
	key := url + "\x00" + source

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Len returns the number of recorded keys.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Reset clears the session. Explicit session reset only; nothing inside the
// engine calls this.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]struct{})
}
