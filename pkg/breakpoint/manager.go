package breakpoint

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Binder is the part of the execution host that binds breakpoints.
type Binder interface {
	ClearBreakpoints(ctx context.Context) error
	SetBreakpoint(ctx context.Context, file string, line, column int) error
}

// Manager is the authoritative list of breakpoints bound in the execution
// host. Breakpoints keep insertion order so lookups are deterministic.
type Manager struct {
	binder      Binder
	breakpoints []*Breakpoint
	mu          sync.RWMutex
	logger      *log.Entry
}

// NewManager creates a breakpoint manager binding through binder.
func NewManager(binder Binder) *Manager {
	return &Manager{
		binder: binder,
		logger: log.WithField("component", "breakpoint"),
	}
}

// Set replaces every breakpoint. The host is cleared first, then each
// breakpoint is bound and kept whether or not binding succeeded. Failures
// are logged, never returned.
func (m *Manager) Set(ctx context.Context, bps []Breakpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.binder.ClearBreakpoints(ctx); err != nil {
		m.logger.WithError(err).Warn("failed to clear breakpoints")
	}
	for _, bp := range m.breakpoints {
		bp.Bound = false
	}

	var result *multierror.Error
	next := make([]*Breakpoint, 0, len(bps))
	for _, in := range bps {
		bp := in
		if bp.ID == "" {
			bp.ID = uuid.New().String()
		}
		err := m.binder.SetBreakpoint(ctx, bp.File, bp.Line, bp.Column)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "bind %s", bp))
		}
		bp.Bound = err == nil
		next = append(next, &bp)
	}
	m.breakpoints = next

	if err := result.ErrorOrNil(); err != nil {
		m.logger.WithError(err).Warnf("%d of %d breakpoints failed to bind", len(result.Errors), len(bps))
		return
	}
	m.logger.WithField("count", len(bps)).Debug("breakpoints set")
}

// Match returns the first breakpoint at the given location.
func (m *Manager) Match(file string, line, column int) (Breakpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, bp := range m.breakpoints {
		if bp.At(file, line, column) {
			return *bp, true
		}
	}
	return Breakpoint{}, false
}

// List returns a copy of the breakpoints in insertion order.
func (m *Manager) List() []Breakpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Breakpoint, len(m.breakpoints))
	for i, bp := range m.breakpoints {
		out[i] = *bp
	}
	return out
}

// Apply folds a host-reported change into the list and returns the
// breakpoint as it stands afterwards.
func (m *Manager) Apply(u Update) Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(u.Breakpoint)
	switch u.Type {
	case UpdateSet:
		if idx >= 0 {
			m.breakpoints[idx].Bound = true
			return *m.breakpoints[idx]
		}
		bp := u.Breakpoint
		if bp.ID == "" {
			bp.ID = uuid.New().String()
		}
		bp.Bound = true
		bp.Enabled = true
		m.breakpoints = append(m.breakpoints, &bp)
		return bp
	case UpdateRemoved:
		if idx < 0 {
			return u.Breakpoint
		}
		bp := *m.breakpoints[idx]
		m.breakpoints = append(m.breakpoints[:idx], m.breakpoints[idx+1:]...)
		bp.Bound = false
		return bp
	case UpdateEnabled, UpdateDisabled:
		if idx < 0 {
			return u.Breakpoint
		}
		m.breakpoints[idx].Enabled = u.Type == UpdateEnabled
		return *m.breakpoints[idx]
	}
	return u.Breakpoint
}

func (m *Manager) indexOf(target Breakpoint) int {
	for i, bp := range m.breakpoints {
		if target.ID != "" && bp.ID == target.ID {
			return i
		}
		if bp.At(target.File, target.Line, target.Column) {
			return i
		}
	}
	return -1
}
