package exchange

import "sync"

// SessionGate is the process-wide trading session switch. Admission is
// checked at submission time only: an order admitted while the session
// is open is matched to completion even if the session closes mid-match.
type SessionGate struct {
	mu   sync.RWMutex
	open bool
}

// NewSessionGate returns a gate that starts open.
func NewSessionGate() *SessionGate {
	return &SessionGate{open: true}
}

func (g *SessionGate) Open() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
}

func (g *SessionGate) Close() {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
}

func (g *SessionGate) IsOpen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.open
}
