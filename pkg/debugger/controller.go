// Package debugger implements the script debugger controller: the state
// machine between the debug UI and the script execution host.
//
// The execution host reports stops through DebuggerStop on its own
// goroutine. The controller refreshes the stack and variable snapshot,
// raises BreakpointHit or DebuggerPaused, and then blocks that goroutine on
// a command gate until the UI posts a step, continue or stop command.
package debugger

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/aivorynet/scriptdbg/pkg/breakpoint"
	"github.com/aivorynet/scriptdbg/pkg/capture"
	"github.com/aivorynet/scriptdbg/pkg/command"
	"github.com/aivorynet/scriptdbg/pkg/program"
	"github.com/aivorynet/scriptdbg/pkg/runspace"
)

// ErrNoRunspace is returned when an operation needs a runspace and none is set.
var ErrNoRunspace = errors.New("no runspace available")

// Host is the out-of-process script execution service.
type Host interface {
	breakpoint.Binder
	capture.Source

	// Execute runs a command line and blocks until the host has finished it.
	Execute(ctx context.Context, commandText string) (bool, error)
	// ExecuteDebuggingCommand resumes a stopped debuggee.
	ExecuteDebuggingCommand(ctx context.Context, commandText string) error
	// Stop aborts whatever the host is running.
	Stop(ctx context.Context) error
}

// Notifications are the inbound calls the execution host makes.
type Notifications interface {
	DebuggerStop(loc Location) command.Command
	DebuggerFinished()
	TerminateException(message, innerMessage string)
	UpdateBreakpoint(updateType breakpoint.UpdateType, bp breakpoint.Breakpoint)
	Output(text string)
	ConnectionBroken(err error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithDialect sets the command templates used for the host.
func WithDialect(d program.Dialect) Option {
	return func(c *Controller) {
		c.dialect = d
	}
}

// WithRunspace sets the initial runspace.
func WithRunspace(rs runspace.Runspace) Option {
	return func(c *Controller) {
		c.runspace = rs
	}
}

// WithContext sets the context remote calls are made with.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) {
		c.ctx = ctx
	}
}

// Controller drives one debug session.
type Controller struct {
	host        Host
	dialect     program.Dialect
	breakpoints *breakpoint.Manager
	cache       *capture.Cache
	gate        *command.Gate
	ctx         context.Context

	mu            sync.RWMutex
	state         State
	location      Location
	awaiting      bool
	resumed       chan struct{}
	stopRequested bool
	node          program.Node
	runspace      runspace.Runspace

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int

	logger *log.Entry
}

var _ Notifications = (*Controller)(nil)

// NewController creates a controller for host.
func NewController(host Host, opts ...Option) *Controller {
	c := &Controller{
		host:        host,
		dialect:     program.DefaultDialect(),
		breakpoints: breakpoint.NewManager(host),
		cache:       capture.NewCache(),
		gate:        command.NewGate(),
		ctx:         context.Background(),
		listeners:   make(map[int]Listener),
		logger:      log.WithField("component", "debugger"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddListener registers l and returns a function that removes it again.
func (c *Controller) AddListener(l Listener) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Controller) emit(fn func(Listener)) {
	c.listenersMu.RLock()
	ls := make([]Listener, 0, len(c.listeners))
	// registration order
	for id := 0; id < c.nextListener; id++ {
		if l, ok := c.listeners[id]; ok {
			ls = append(ls, l)
		}
	}
	c.listenersMu.RUnlock()

	for _, l := range ls {
		fn(l)
	}
}

// attempt runs a remote call whose failure must not interrupt the caller.
func (c *Controller) attempt(op string, fn func() error) error {
	err := fn()
	if err != nil {
		c.logger.WithError(err).WithField("op", op).Warn("remote call failed")
	}
	return err
}

func (c *Controller) output(text string) {
	c.emit(func(l Listener) { l.OutputString(text) })
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Location returns where execution last stopped.
func (c *Controller) Location() Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.location
}

// AwaitingCommand reports whether the execution goroutine is blocked
// waiting for a command.
func (c *Controller) AwaitingCommand() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.awaiting
}

// Runspace returns the runspace commands currently run in.
func (c *Controller) Runspace() runspace.Runspace {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runspace
}

// SetRunspace replaces the current runspace.
func (c *Controller) SetRunspace(rs runspace.Runspace) {
	c.mu.Lock()
	c.runspace = rs
	c.mu.Unlock()
}

// SetBreakpoints replaces every breakpoint in the host.
func (c *Controller) SetBreakpoints(bps []breakpoint.Breakpoint) {
	c.breakpoints.Set(c.ctx, bps)
}

// Breakpoints returns the breakpoints currently held.
func (c *Controller) Breakpoints() []breakpoint.Breakpoint {
	return c.breakpoints.List()
}

// CallStack returns the stack captured at the last stop.
func (c *Controller) CallStack() []capture.StackFrame {
	return c.cache.CallStack()
}

// Variables returns the variables captured at the last stop.
func (c *Controller) Variables() map[string]capture.Variable {
	return c.cache.Variables()
}

// DebuggerStop handles a stop reported by the host. It blocks the calling
// goroutine until a command is posted, forwards that command to the host
// and returns it. A stop that arrives after debugging was stopped or has
// ended is answered with Stop straight away.
func (c *Controller) DebuggerStop(loc Location) command.Command {
	c.mu.Lock()
	if c.stopRequested || c.state == StateFinished || c.state == StateTerminated {
		c.mu.Unlock()
		c.logger.WithField("location", loc).Debug("stop after debugging ended")
		c.forward(command.Stop)
		return command.Stop
	}
	c.state = StatePaused
	c.location = loc
	c.awaiting = true
	resumed := make(chan struct{})
	c.resumed = resumed
	node := c.node
	c.mu.Unlock()
	defer close(resumed)

	c.logger.WithField("location", loc).Debug("debugger stopped")
	c.cache.Refresh(c.ctx, c.host, node)

	if bp, ok := c.breakpoints.Match(loc.File, loc.Line, loc.Column); ok {
		c.emit(func(l Listener) { l.BreakpointHit(bp) })
	} else {
		c.emit(func(l Listener) { l.DebuggerPaused(loc) })
	}

	cmd := c.gate.Wait()

	c.mu.Lock()
	c.awaiting = false
	if c.state == StatePaused {
		c.state = StateRunning
	}
	c.mu.Unlock()

	c.logger.WithField("command", cmd).Debug("resuming")
	c.forward(cmd)
	return cmd
}

func (c *Controller) forward(cmd command.Command) {
	_ = c.attempt("execute debugging command", func() error {
		return c.host.ExecuteDebuggingCommand(c.ctx, cmd.String())
	})
}

// DebuggerFinished handles the host reporting the end of execution.
func (c *Controller) DebuggerFinished() {
	c.finish(false)
}

// TerminateException handles a terminating exception raised by the host.
func (c *Controller) TerminateException(message, innerMessage string) {
	c.mu.Lock()
	c.state = StateTerminated
	c.awaiting = false
	c.mu.Unlock()

	err := &TerminatingError{Message: message, InnerMessage: innerMessage}
	c.logger.WithError(err).Warn("terminating exception")
	c.emit(func(l Listener) { l.TerminatingException(err) })
}

// UpdateBreakpoint folds a host-side breakpoint change into the store.
func (c *Controller) UpdateBreakpoint(updateType breakpoint.UpdateType, bp breakpoint.Breakpoint) {
	updated := c.breakpoints.Apply(breakpoint.Update{Type: updateType, Breakpoint: bp})
	u := breakpoint.Update{Type: updateType, Breakpoint: updated}
	c.emit(func(l Listener) { l.BreakpointUpdated(u) })
}

// Output forwards host output to listeners.
func (c *Controller) Output(text string) {
	c.output(text)
}

// ConnectionBroken forces the session to finish so the UI is never left
// waiting on a host that is gone. A paused execution goroutine is released
// with a stop command.
func (c *Controller) ConnectionBroken(err error) {
	c.logger.WithError(err).Error("connection to execution host broken")

	c.mu.RLock()
	awaiting := c.awaiting
	c.mu.RUnlock()
	if awaiting {
		c.gate.Post(command.Stop)
	}
	c.finish(false)
}

// finish moves to Finished. Unless forced, a repeated finish is not
// reported again.
func (c *Controller) finish(force bool) {
	c.mu.Lock()
	already := c.state == StateFinished
	c.state = StateFinished
	c.awaiting = false
	c.mu.Unlock()

	if already && !force {
		return
	}
	c.emit(func(l Listener) { l.DebuggingFinished() })
}

// StepOver resumes to the next statement in the current scope.
func (c *Controller) StepOver() { c.post(command.StepOver) }

// StepInto resumes into the next call.
func (c *Controller) StepInto() { c.post(command.StepInto) }

// StepOut resumes until the current function returns.
func (c *Controller) StepOut() { c.post(command.StepOut) }

// Continue resumes until the next breakpoint.
func (c *Controller) Continue() { c.post(command.Continue) }

// post does not check the state; posting while running primes the gate
// for the next stop.
func (c *Controller) post(cmd command.Command) {
	c.logger.WithField("command", cmd).Debug("posting command")
	c.gate.Post(cmd)
}

// Stop ends debugging. A paused debuggee is released with a stop command
// and Stop returns once that command has reached the host. Otherwise the
// host is asked to stop directly. Failures are logged and reported as
// output; DebuggingFinished is raised exactly once either way.
//
// Stop must not be called from a Listener callback.
func (c *Controller) Stop() {
	defer c.finish(true)

	c.mu.Lock()
	c.stopRequested = true
	awaiting, resumed := c.awaiting, c.resumed
	c.mu.Unlock()

	if awaiting {
		c.post(command.Stop)
		<-resumed
		return
	}
	if err := c.attempt("stop", func() error { return c.host.Stop(c.ctx) }); err != nil {
		c.output(fmt.Sprintf("Failed to stop debugging: %v", err))
	}
}

// Execute runs commandText immediately. Outside a running or paused
// execution it starts a new one. Faults are reported as output and yield
// false.
func (c *Controller) Execute(commandText string) bool {
	c.mu.Lock()
	if c.state != StateRunning && c.state != StatePaused {
		c.beginExecution()
	}
	c.mu.Unlock()

	ok, err := c.host.Execute(c.ctx, commandText)
	if err != nil {
		c.logger.WithError(err).WithField("command", commandText).Warn("execute failed")
		c.output(err.Error())
		return false
	}
	return ok
}

// ExecuteProgram starts debugging node. It blocks until the host finishes
// executing, so callers drive it from their own goroutine.
func (c *Controller) ExecuteProgram(node program.Node) bool {
	lines, err := c.dialect.CommandLines(node)
	if err != nil {
		c.logger.WithError(err).Warn("cannot execute program")
		c.output(err.Error())
		return false
	}

	c.mu.Lock()
	c.node = node
	c.location = Location{}
	c.beginExecution()
	c.mu.Unlock()
	c.cache.Reset()

	c.logger.WithField("program", node).Info("executing")
	for _, line := range lines {
		if !c.Execute(line) {
			return false
		}
	}
	return true
}

// beginExecution enters Running for a new execution. A command nobody
// consumed during an earlier execution is discarded. c.mu must be held.
func (c *Controller) beginExecution() {
	c.state = StateRunning
	c.stopRequested = false
	c.gate.Drain()
}

// GetVariable returns the named variable from the last stop, or nil.
// A leading sigil on name is ignored.
func (c *Controller) GetVariable(name string) *capture.Variable {
	v, ok := c.cache.Variable(c.dialect.TrimSigil(name))
	if !ok {
		return nil
	}
	return &v
}

// SetVariable assigns value to the named variable through a nested
// pipeline on the current runspace. Failures are logged and reported as
// output.
func (c *Controller) SetVariable(name string, value interface{}) {
	if err := c.setVariable(name, value); err != nil {
		c.logger.WithError(err).WithField("variable", name).Warn("set variable failed")
		c.output(err.Error())
	}
}

func (c *Controller) setVariable(name string, value interface{}) (err error) {
	rs := c.Runspace()
	if rs == nil {
		return ErrNoRunspace
	}
	p, err := rs.NewPipeline(c.ctx)
	if err != nil {
		return errors.Wrap(err, "create nested pipeline")
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			c.logger.WithError(cerr).Debug("closing nested pipeline")
		}
	}()

	params := map[string]interface{}{
		"Name":  c.dialect.TrimSigil(name),
		"Value": value,
	}
	return errors.Wrapf(p.Invoke(c.ctx, c.dialect.SetVariable, params), "set variable %s", name)
}
