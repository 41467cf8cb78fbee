package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivorynet/scriptdbg/pkg/breakpoint"
	"github.com/aivorynet/scriptdbg/pkg/capture"
	"github.com/aivorynet/scriptdbg/pkg/command"
	"github.com/aivorynet/scriptdbg/pkg/debugger"
	"github.com/aivorynet/scriptdbg/pkg/program"
)

type host struct {
	mu        sync.Mutex
	bound     []string
	executed  []string
	forwarded []string
	stops     int
	vars      []capture.Variable
}

func (h *host) ClearBreakpoints(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bound = nil
	return nil
}

func (h *host) SetBreakpoint(ctx context.Context, file string, line, column int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bound = append(h.bound, breakpoint.New(file, line, column).String())
	return nil
}

func (h *host) GetScopedVariables(ctx context.Context) ([]capture.Variable, error) {
	return h.vars, nil
}

func (h *host) GetCallStack(ctx context.Context) ([]capture.StackFrame, error) {
	return []capture.StackFrame{{FilePath: "/s.ps1", LineNumber: 3, FunctionName: "Invoke-Step"}}, nil
}

func (h *host) Execute(ctx context.Context, commandText string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.executed = append(h.executed, commandText)
	return true, nil
}

func (h *host) ExecuteDebuggingCommand(ctx context.Context, commandText string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarded = append(h.forwarded, commandText)
	return nil
}

func (h *host) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestConsole reads from a pipe nobody writes to, so the console only
// acts on what tests hand it directly.
func newTestConsole(t *testing.T) (*console, *host, *syncBuffer) {
	t.Helper()
	r, w := io.Pipe()
	t.Cleanup(func() { w.Close() })
	h := &host{}
	out := &syncBuffer{}
	c := newConsole(r, out)
	c.attach(debugger.NewController(h))
	return c, h, out
}

func TestParseBreakpoint(t *testing.T) {
	tests := []struct {
		arg     string
		want    breakpoint.Breakpoint
		wantErr bool
	}{
		{arg: "/scripts/deploy.ps1:12", want: breakpoint.New("/scripts/deploy.ps1", 12, 0)},
		{arg: "/scripts/deploy.ps1:12:5", want: breakpoint.New("/scripts/deploy.ps1", 12, 5)},
		{arg: `C:\Scripts\deploy.ps1:7`, want: breakpoint.New(`C:\Scripts\deploy.ps1`, 7, 0)},
		{arg: `C:\Scripts\deploy.ps1:7:2`, want: breakpoint.New(`C:\Scripts\deploy.ps1`, 7, 2)},
		{arg: "deploy.ps1", wantErr: true},
		{arg: "deploy.ps1:x", wantErr: true},
		{arg: "deploy.ps1:0", wantErr: true},
		{arg: ":3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseBreakpoint(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBreakpointCommand(t *testing.T) {
	c, h, out := newTestConsole(t)

	assert.False(t, c.handle("bp /s.ps1:3 /s.ps1:9:2"))
	assert.False(t, c.handle("bp /other.ps1:1"))

	assert.Equal(t, []string{"/s.ps1:3:0", "/s.ps1:9:2", "/other.ps1:1:0"}, h.bound)
	assert.Contains(t, out.String(), "/other.ps1:1:0  (bound)")

	assert.False(t, c.handle("bp nonsense"))
	assert.Contains(t, out.String(), `invalid breakpoint "nonsense"`)
}

func TestStepWhilePaused(t *testing.T) {
	c, h, out := newTestConsole(t)
	h.vars = []capture.Variable{capture.FromValue("count", 3, 2)}

	resumed := make(chan command.Command, 1)
	go func() {
		resumed <- c.ctrl.DebuggerStop(debugger.Location{File: "/s.ps1", Line: 3})
	}()
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "[DBG]> ") }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "Stopped at /s.ps1:3:0")

	c.handle("p $count")
	assert.Contains(t, out.String(), "count = 3 [int]")
	c.handle("p missing")
	assert.Contains(t, out.String(), "missing is not defined")
	c.handle("stack")
	assert.Contains(t, out.String(), "Invoke-Step")

	c.handle("n")
	select {
	case cmd := <-resumed:
		assert.Equal(t, command.StepOver, cmd)
	case <-time.After(5 * time.Second):
		t.Fatal("debuggee never resumed")
	}
	assert.Equal(t, []string{"stepOver"}, h.forwarded)
}

func TestQuitStopsHost(t *testing.T) {
	c, h, _ := newTestConsole(t)

	assert.True(t, c.handle("q"))
	assert.Equal(t, 1, h.stops)
	assert.Equal(t, debugger.StateFinished, c.ctrl.State())
}

func TestOtherLinesAreExecuted(t *testing.T) {
	c, h, _ := newTestConsole(t)

	assert.False(t, c.handle("Get-ChildItem env:"))
	assert.False(t, c.handle("   "))
	assert.Equal(t, []string{"Get-ChildItem env:"}, h.executed)
}

func TestRunReturnsWhenProgramCompletes(t *testing.T) {
	c, h, out := newTestConsole(t)

	require.NoError(t, c.run(program.FileNode("/scripts/deploy.ps1", "-Force")))
	assert.Equal(t, []string{". '/scripts/deploy.ps1' -Force"}, h.executed)
	assert.Contains(t, out.String(), "Debugging /scripts/deploy.ps1")
}

func TestRunRejectsBadProgram(t *testing.T) {
	c, _, _ := newTestConsole(t)
	assert.Error(t, c.run(program.AttachNode(0)))
}

func TestRemotePrompt(t *testing.T) {
	c, _, out := newTestConsole(t)

	c.SetRemoteMode(true)
	c.DebuggerPaused(debugger.Location{File: "/s.ps1", Line: 1})
	assert.Contains(t, out.String(), "[remote] [DBG]> ")
	require.NoError(t, c.OpenFile("/tmp/deploy.ps1"))
	assert.Contains(t, out.String(), "Remote file: /tmp/deploy.ps1")
}
