package transport

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/aivorynet/scriptdbg/pkg/breakpoint"
	"github.com/aivorynet/scriptdbg/pkg/capture"
	"github.com/aivorynet/scriptdbg/pkg/debugger"
)

// request sends method and waits for the correlated response. result may
// be nil when the caller does not need it.
func (c *Connection) request(ctx context.Context, method string, params, result interface{}) error {
	select {
	case <-c.broken:
		return ErrConnectionBroken
	default:
	}

	id := uuid.New().String()
	ch := make(chan response, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(Message{Type: method, ID: id}, params); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.broken {
			return ErrConnectionBroken
		}
		if !resp.OK {
			return &RemoteError{Method: method, Message: resp.Error}
		}
		if result != nil && len(resp.Result) > 0 {
			return errors.Wrapf(json.Unmarshal(resp.Result, result), "decode %s result", method)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), method)
	case <-c.broken:
		return ErrConnectionBroken
	}
}

// call is request bounded by the configured request timeout.
func (c *Connection) call(ctx context.Context, method string, params, result interface{}) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	return c.request(ctx, method, params, result)
}

func (c *Connection) handleResponse(msg Message) {
	var resp response
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		c.logger.WithError(err).WithField("id", msg.ID).Debug("malformed response")
		resp = response{Error: "malformed response"}
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.WithField("id", msg.ID).Debug("response for unknown request")
		return
	}
	ch <- resp
}

// ClearBreakpoints removes every breakpoint bound in the host.
func (c *Connection) ClearBreakpoints(ctx context.Context) error {
	return c.call(ctx, "clearBreakpoints", nil, nil)
}

// SetBreakpoint binds a line breakpoint in the host.
func (c *Connection) SetBreakpoint(ctx context.Context, file string, line, column int) error {
	return c.call(ctx, "setBreakpoint", map[string]interface{}{
		"file":   file,
		"line":   line,
		"column": column,
	}, nil)
}

// Execute runs commandText and blocks until the host has finished it. It
// is not bounded by the request timeout since scripts run for as long as
// they run.
func (c *Connection) Execute(ctx context.Context, commandText string) (bool, error) {
	var result struct {
		Success bool `json:"success"`
	}
	if err := c.request(ctx, "execute", map[string]string{"command": commandText}, &result); err != nil {
		return false, err
	}
	return result.Success, nil
}

// ExecuteDebuggingCommand resumes a stopped debuggee.
func (c *Connection) ExecuteDebuggingCommand(ctx context.Context, commandText string) error {
	return c.call(ctx, "executeDebuggingCommand", map[string]string{"command": commandText}, nil)
}

// Stop aborts whatever the host is running.
func (c *Connection) Stop(ctx context.Context) error {
	return c.call(ctx, "stop", nil, nil)
}

// GetScopedVariables returns the variables visible at the current stop.
func (c *Connection) GetScopedVariables(ctx context.Context) ([]capture.Variable, error) {
	var wire []wireVariable
	if err := c.call(ctx, "getScopedVariables", nil, &wire); err != nil {
		return nil, err
	}

	vars := make([]capture.Variable, 0, len(wire))
	for _, w := range wire {
		v := capture.FromValue(w.Name, w.Value, c.maxCaptureDepth)
		if w.Type != "" {
			v.Type = w.Type
		}
		vars = append(vars, v)
	}
	return vars, nil
}

// GetCallStack returns the call stack at the current stop, most recent
// frame first.
func (c *Connection) GetCallStack(ctx context.Context) ([]capture.StackFrame, error) {
	var wire []wireFrame
	if err := c.call(ctx, "getCallStack", nil, &wire); err != nil {
		return nil, err
	}

	frames := make([]capture.StackFrame, 0, len(wire))
	for _, w := range wire {
		frames = append(frames, capture.StackFrame{
			FilePath:     w.File,
			LineNumber:   w.Line,
			FunctionName: w.Function,
			Display:      w.Display,
		})
	}
	return frames, nil
}

// dispatchLoop is the execution goroutine. Stops block here while the
// debuggee is paused; responses keep flowing on the read loop.
func (c *Connection) dispatchLoop() {
	for {
		msg, ok := c.queue.pop()
		if !ok {
			return
		}
		c.dispatch(msg)
	}
}

func (c *Connection) dispatch(msg Message) {
	n := c.notifications
	logger := c.logger.WithField("type", msg.Type)

	switch msg.Type {
	case "debuggerStop":
		var p stopPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			logger.WithError(err).Warn("malformed notification")
			return
		}
		if n != nil {
			cmd := n.DebuggerStop(debugger.Location{File: p.File, Line: p.Line, Column: p.Column})
			logger.WithField("command", cmd.String()).Debug("debuggee resumed")
			if err := c.send(Message{Type: "debuggerResumed"}, map[string]string{"command": cmd.String()}); err != nil {
				logger.WithError(err).Debug("failed to acknowledge resume")
			}
		}

	case "debuggerFinished":
		if n != nil {
			n.DebuggerFinished()
		}

	case "terminateException":
		var p terminatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			logger.WithError(err).Warn("malformed notification")
			return
		}
		if n != nil {
			n.TerminateException(p.Message, p.InnerMessage)
		}

	case "updateBreakpoint":
		var p updateBreakpointPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			logger.WithError(err).Warn("malformed notification")
			return
		}
		updateType, err := breakpoint.ParseUpdateType(p.UpdateType)
		if err != nil {
			logger.WithError(err).Warn("malformed notification")
			return
		}
		bp := breakpoint.New(p.Breakpoint.File, p.Breakpoint.Line, p.Breakpoint.Column)
		bp.ID = p.Breakpoint.ID
		if n != nil {
			n.UpdateBreakpoint(updateType, bp)
		}

	case "runspacePushed":
		var p runspacePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			logger.WithError(err).Warn("malformed notification")
			return
		}
		if c.runspaceHandler != nil {
			c.runspaceHandler.RunspacePushed(c.Runspace(p.Runspace, p.ComputerName))
		}

	case "runspacePopped":
		if c.runspaceHandler != nil {
			c.runspaceHandler.RunspacePopped()
		}
	}
}

func (c *Connection) handleOutput(payload json.RawMessage) {
	var p outputPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.WithError(err).Debug("malformed output")
		return
	}
	if c.notifications != nil {
		c.notifications.Output(p.Text)
	}
}
