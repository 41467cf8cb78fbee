// Package session wires a debugger controller to the execution host.
package session

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/aivorynet/scriptdbg/pkg/config"
	"github.com/aivorynet/scriptdbg/pkg/debugger"
	"github.com/aivorynet/scriptdbg/pkg/remote"
	"github.com/aivorynet/scriptdbg/pkg/runspace"
	"github.com/aivorynet/scriptdbg/pkg/transport"
)

// Session is one debug session against one execution host.
type Session struct {
	config     *config.Config
	connection *transport.Connection
	controller *debugger.Controller
	remote     *remote.Manager
	started    bool
	mu         sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Entry
}

// New creates a session. ui receives remote-mode changes and editor
// requests from remote runspaces.
func New(cfg *config.Config, ui remote.UI) *Session {
	s := &Session{
		config: cfg,
		logger: log.WithField("component", "session"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.connection = transport.NewConnection(cfg.HostURL, cfg.APIKey,
		transport.WithRequestTimeout(cfg.RequestTimeout),
		transport.WithReconnect(cfg.MaxReconnectAttempts, cfg.ReconnectDelay),
		transport.WithMaxCaptureDepth(cfg.MaxCaptureDepth),
		transport.WithRunspaceHandler(s),
	)
	s.controller = debugger.NewController(s.connection,
		debugger.WithDialect(cfg.Dialect),
		debugger.WithRunspace(s.connection.LocalRunspace()),
		debugger.WithContext(s.ctx),
	)
	s.connection.SetNotifications(s.controller)
	s.remote = remote.NewManager(s.controller, ui, cfg.Dialect, cfg.TempDir)
	return s
}

// Controller returns the session's debugger controller.
func (s *Session) Controller() *debugger.Controller {
	return s.controller
}

// Start connects to the execution host.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := s.connection.Connect(ctx); err != nil {
		return errors.Wrapf(err, "connect to %s", s.config.HostURL)
	}

	go s.handleSignals()

	s.started = true
	s.logger.WithField("host", s.config.HostURL).Info("session started")
	return nil
}

// Stop stops the debuggee, leaves any remote runspace and disconnects. A
// stopped session cannot be started again.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	var result *multierror.Error
	if s.remote.IsPushed() {
		if err := s.remote.Pop(s.ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "pop remote runspace"))
		}
	}
	switch s.controller.State() {
	case debugger.StateRunning, debugger.StatePaused:
		s.controller.Stop()
	}

	s.cancel()
	s.connection.Disconnect()
	s.started = false

	s.logger.Info("session stopped")
	return result.ErrorOrNil()
}

// PushRunspace makes rs the runspace commands run in.
func (s *Session) PushRunspace(ctx context.Context, rs runspace.Runspace) error {
	return s.remote.Push(ctx, rs)
}

// PopRunspace returns to the runspace that was current before PushRunspace.
func (s *Session) PopRunspace(ctx context.Context) error {
	return s.remote.Pop(ctx)
}

// RunspacePushed follows the host into a remote runspace.
func (s *Session) RunspacePushed(rs runspace.Runspace) {
	if err := s.remote.Push(s.ctx, rs); err != nil {
		s.logger.WithError(err).WithField("runspace", rs.ID()).Warn("failed to push runspace")
	}
}

// RunspacePopped follows the host back out of a remote runspace.
func (s *Session) RunspacePopped() {
	if err := s.remote.Pop(s.ctx); err != nil {
		s.logger.WithError(err).Warn("failed to pop runspace")
	}
}

func (s *Session) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		if err := s.Stop(); err != nil {
			s.logger.WithError(err).Warn("errors while stopping")
		}
	case <-s.ctx.Done():
	}
}
