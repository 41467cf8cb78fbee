// Package remote pushes and pops remote runspaces on a debug session and
// forwards their session events to the IDE while they are active.
package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/aivorynet/scriptdbg/pkg/program"
	"github.com/aivorynet/scriptdbg/pkg/runspace"
)

var (
	// ErrAlreadyPushed is returned by Push while a remote runspace is active.
	ErrAlreadyPushed = errors.New("a remote runspace is already pushed")
	// ErrNotPushed is returned by Pop when no remote runspace is active.
	ErrNotPushed = errors.New("no remote runspace is pushed")
)

// ContextHolder owns the current runspace reference.
type ContextHolder interface {
	Runspace() runspace.Runspace
	SetRunspace(rs runspace.Runspace)
	Output(text string)
}

// UI is the IDE side of a remote session.
type UI interface {
	SetRemoteMode(active bool)
	OpenFile(path string) error
}

// Manager tracks a single pushed remote runspace.
type Manager struct {
	holder  ContextHolder
	ui      UI
	dialect program.Dialect
	tempDir string

	mu           sync.Mutex
	previous     runspace.Runspace
	subscription runspace.Subscription

	logger *log.Entry
}

// NewManager creates a remote session manager. Files sent by the remote
// side are written below tempDir; an empty tempDir uses os.TempDir.
func NewManager(holder ContextHolder, ui UI, dialect program.Dialect, tempDir string) *Manager {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "scriptdbg")
	}
	return &Manager{
		holder:  holder,
		ui:      ui,
		dialect: dialect,
		tempDir: tempDir,
		logger:  log.WithField("component", "remote"),
	}
}

// IsPushed reports whether a remote runspace is active.
func (m *Manager) IsPushed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous != nil
}

// Push makes rs the current runspace. Only one level of nesting is
// supported.
func (m *Manager) Push(ctx context.Context, rs runspace.Runspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.previous != nil {
		return ErrAlreadyPushed
	}
	current := m.holder.Runspace()
	if current == nil {
		return errors.New("no runspace to return to")
	}

	m.previous = current
	m.holder.SetRunspace(rs)
	if err := rs.SetDebugMode(ctx, runspace.DebugModeRemoteScript); err != nil {
		m.logger.WithError(err).WithField("runspace", rs.ID()).Warn("failed to set remote debug mode")
	}
	m.ui.SetRemoteMode(true)
	m.register(ctx, rs)

	m.logger.WithFields(log.Fields{"runspace": rs.ID(), "computer": rs.ComputerName()}).Info("remote runspace pushed")
	return nil
}

// Pop restores the runspace that was current before Push.
func (m *Manager) Pop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.previous == nil {
		return ErrNotPushed
	}
	if rs := m.holder.Runspace(); rs != nil {
		m.unregister(ctx, rs)
	}
	m.holder.SetRunspace(m.previous)
	m.previous = nil
	m.ui.SetRemoteMode(false)

	m.logger.Info("remote runspace popped")
	return nil
}

func (m *Manager) register(ctx context.Context, rs runspace.Runspace) {
	sub, err := rs.Subscribe(m.dialect.OpenFileEvent, func(ev runspace.Event) {
		m.openFile(rs, ev)
	})
	if err != nil {
		m.logger.WithError(err).Warn("failed to subscribe to remote file requests")
	}
	m.subscription = sub
	m.invoke(ctx, rs, m.dialect.RegisterOpenFile)
}

func (m *Manager) unregister(ctx context.Context, rs runspace.Runspace) {
	if m.subscription != nil {
		if err := m.subscription.Unsubscribe(); err != nil {
			m.logger.WithError(err).Warn("failed to unsubscribe from remote file requests")
		}
		m.subscription = nil
	}
	m.invoke(ctx, rs, m.dialect.UnregisterOpenFile)
}

// invoke is best effort; the editor command is a convenience.
func (m *Manager) invoke(ctx context.Context, rs runspace.Runspace, script string) {
	if script == "" {
		return
	}
	p, err := rs.NewPipeline(ctx)
	if err != nil {
		m.logger.WithError(err).Debug("no pipeline for editor command script")
		return
	}
	defer p.Close()
	if err := p.Invoke(ctx, script, nil); err != nil {
		m.logger.WithError(err).Debug("editor command script failed")
	}
}

func (m *Manager) openFile(rs runspace.Runspace, ev runspace.Event) {
	path, err := m.localPath(rs, ev)
	if err == nil {
		err = m.ui.OpenFile(path)
	}
	if err != nil {
		m.logger.WithError(err).WithField("path", ev.String("Path")).Warn("failed to open remote file")
		m.holder.Output(fmt.Sprintf("Failed to open remote file %s: %v", ev.String("Path"), err))
	}
}

// localPath materialises a remote file locally when its content came
// with the event.
func (m *Manager) localPath(rs runspace.Runspace, ev runspace.Event) (string, error) {
	remote := ev.String("Path")
	if remote == "" {
		return "", errors.New("open file request has no path")
	}
	content, ok := ev.MessageData["Content"].(string)
	if !ok {
		return remote, nil
	}

	dir := filepath.Join(m.tempDir, rs.ComputerName())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create remote file directory")
	}
	local := filepath.Join(dir, baseName(remote))
	if err := os.WriteFile(local, []byte(content), 0644); err != nil {
		return "", errors.Wrap(err, "write remote file")
	}
	return local, nil
}

// remote paths may use either separator regardless of the local OS
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
