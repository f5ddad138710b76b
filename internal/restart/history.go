package restart

import (
	"sync"
	"time"
)

// History tracks restart attempt timestamps per process identity to enforce
// the rolling restart budget. Attempts (not successes) are recorded; entries
// older than the policy window are pruned lazily on each record.
type History struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

func NewHistory() *History {
	return &History{attempts: make(map[string][]time.Time), now: time.Now}
}

// Record appends a restart attempt for id, prunes attempts older than window,
// and returns how many attempts remain inside the window (including this one).
func (h *History) Record(id string, window time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	cutoff := now.Add(-window)
	kept := h.attempts[id][:0]
	for _, t := range h.attempts[id] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	h.attempts[id] = kept
	return len(kept)
}

// Count returns the number of recorded attempts for id inside window without
// recording a new one.
func (h *History) Count(id string, window time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.now().Add(-window)
	n := 0
	for _, t := range h.attempts[id] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Reset clears recorded attempts for id. Used when an operator manually
// restarts a failed process so it gets a fresh budget.
func (h *History) Reset(id string) {
	h.mu.Lock()
	delete(h.attempts, id)
	h.mu.Unlock()
}
