package capture

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/aivorynet/scriptdbg/pkg/program"
)

// Source is the part of the execution host that reports stop state.
type Source interface {
	GetScopedVariables(ctx context.Context) ([]Variable, error)
	GetCallStack(ctx context.Context) ([]StackFrame, error)
}

// Cache holds the stack and variables of the most recent stop.
type Cache struct {
	mu        sync.RWMutex
	variables map[string]Variable
	callStack []StackFrame
	logger    *log.Entry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		variables: make(map[string]Variable),
		logger:    log.WithField("component", "capture"),
	}
}

// Refresh replaces both halves of the snapshot. The two calls fail
// independently; a failed half is left empty rather than stale.
func (c *Cache) Refresh(ctx context.Context, src Source, node program.Node) {
	vars := make(map[string]Variable)
	list, err := src.GetScopedVariables(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("failed to refresh variables")
	} else {
		for _, v := range list {
			vars[v.Name] = v
		}
	}

	frames, err := src.GetCallStack(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("failed to refresh call stack")
		frames = nil
	}
	stack := make([]StackFrame, len(frames))
	for i, f := range frames {
		f.Node = node
		stack[i] = f
	}

	c.mu.Lock()
	c.variables = vars
	c.callStack = stack
	c.mu.Unlock()

	c.logger.WithFields(log.Fields{"variables": len(vars), "frames": len(stack)}).Debug("snapshot refreshed")
}

// Reset drops the snapshot.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.variables = make(map[string]Variable)
	c.callStack = nil
	c.mu.Unlock()
}

// Variable looks up a variable by exact name.
func (c *Cache) Variable(name string) (Variable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// Variables returns a copy of the variable snapshot.
func (c *Cache) Variables() map[string]Variable {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Variable, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// CallStack returns a copy of the call stack, most recent frame first.
func (c *Cache) CallStack() []StackFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]StackFrame, len(c.callStack))
	copy(out, c.callStack)
	return out
}
