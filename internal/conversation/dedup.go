package conversation

import (
	"sync"
	"time"
)

// DedupGuard remembers which inbound events have been processed so that a
// redelivered webhook does not produce a second reply. Events being processed
// right now are tracked separately so two concurrent deliveries of the same
// event cannot both run.
type DedupGuard struct {
	mu       sync.Mutex
	handled  map[string]time.Time
	inFlight map[string]struct{}
	now      func() time.Time
}

// NewDedupGuard creates an empty guard.
func NewDedupGuard() *DedupGuard {
	return &DedupGuard{
		handled:  make(map[string]time.Time),
		inFlight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// AlreadyHandled reports whether eventID has been marked handled.
func (g *DedupGuard) AlreadyHandled(eventID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.handled[eventID]
	return ok
}

// Begin claims eventID for processing. It returns false when the event was
// already handled or another delivery of it is in flight.
func (g *DedupGuard) Begin(eventID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.handled[eventID]; ok {
		return false
	}
	if _, ok := g.inFlight[eventID]; ok {
		return false
	}
	g.inFlight[eventID] = struct{}{}
	return true
}

// MarkHandled records eventID as processed. Once it returns, AlreadyHandled
// reports true for eventID for the lifetime of the guard (or until pruned).
func (g *DedupGuard) MarkHandled(eventID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, eventID)
	g.handled[eventID] = g.now()
}

// Len returns the number of handled events remembered.
func (g *DedupGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handled)
}

// Prune forgets handled events older than maxAge and returns how many were removed.
func (g *DedupGuard) Prune(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-maxAge)
	removed := 0
	for id, at := range g.handled {
		if at.Before(cutoff) {
			delete(g.handled, id)
			removed++
		}
	}
	return removed
}
