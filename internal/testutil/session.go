package testutil

import (
	"fmt"
	"sync"
)

// SessionIDs hands out predictable session ids for tests.
//
// With a fixed id every call returns it, which makes golden output stable.
// Without one, ids are "test-session-1", "test-session-2", ... so that
// several sessions in one journal stay distinct.
//
// Thread-safety: safe for concurrent use.
type SessionIDs struct {
	mu    sync.Mutex
	fixed string
	n     int
}

// NewFixedSessionIDs returns a generator that always yields id.
func NewFixedSessionIDs(id string) *SessionIDs {
	if id == "" {
		id = "test-session-default"
	}
	return &SessionIDs{fixed: id}
}

// NewSequentialSessionIDs returns a generator of numbered ids.
func NewSequentialSessionIDs() *SessionIDs {
	return &SessionIDs{}
}

// Generate returns the next id. Its signature matches store.NewSessionID.
func (g *SessionIDs) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.fixed != "" {
		return g.fixed, nil
	}
	return fmt.Sprintf("test-session-%d", g.n), nil
}

// Issued returns how many ids have been handed out.
func (g *SessionIDs) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
