package command

import "sync"

// Gate is a single-slot auto-reset rendezvous. Post stores a command and
// releases one waiter; posts made before anyone waits coalesce so that only
// the latest is observed.
type Gate struct {
	mu   sync.Mutex
	slot chan Command
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{slot: make(chan Command, 1)}
}

// Post stores cmd, replacing any command not yet consumed.
func (g *Gate) Post(cmd Command) {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.slot:
	default:
	}
	g.slot <- cmd
}

// Wait blocks until a command is posted and consumes it. There is no
// timeout; a paused debuggee stays paused until somebody decides.
func (g *Gate) Wait() Command {
	return <-g.slot
}

// Pending reports whether a posted command is waiting to be consumed.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slot) > 0
}

// Drain discards a posted command nobody consumed.
func (g *Gate) Drain() {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.slot:
	default:
	}
}
