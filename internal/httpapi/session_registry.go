package httpapi

import (
	"context"
	"sync"
	"sync/atomic"
)

// Closer is anything the registry can ask to end, typically a *relay.Session.
type Closer interface {
	Close()
}

// SessionRegistry tracks active relay sessions and supports graceful draining.
// When draining is enabled, new sessions are rejected while in-flight sessions
// finish naturally or are closed by CloseAll.
//
// mu makes the draining check and wg.Add atomic in Add, so no session can be
// admitted after StartDraining returns.
type SessionRegistry struct {
	mu       sync.Mutex
	draining bool
	sessions map[string]Closer
	wg       sync.WaitGroup
	count    atomic.Int64
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]Closer)}
}

// Add registers a new active session. Returns false if the registry is
// draining, meaning the session must not start.
func (sr *SessionRegistry) Add(id string, s Closer) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return false
	}
	sr.sessions[id] = s
	sr.wg.Add(1)
	sr.count.Add(1)
	return true
}

// Done marks a session as finished. Must be called exactly once per successful Add.
func (sr *SessionRegistry) Done(id string) {
	sr.mu.Lock()
	delete(sr.sessions, id)
	sr.mu.Unlock()
	sr.count.Add(-1)
	sr.wg.Done()
}

// StartDraining makes future Add calls return false.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

func (sr *SessionRegistry) ActiveCount() int64 {
	return sr.count.Load()
}

// Wait blocks until every registered session is Done or ctx ends. It reports
// whether all sessions finished.
func (sr *SessionRegistry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		sr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// CloseAll asks every active session to end. Sessions still call Done themselves.
func (sr *SessionRegistry) CloseAll() int {
	sr.mu.Lock()
	active := make([]Closer, 0, len(sr.sessions))
	for _, s := range sr.sessions {
		active = append(active, s)
	}
	sr.mu.Unlock()

	for _, s := range active {
		s.Close()
	}
	return len(active)
}
