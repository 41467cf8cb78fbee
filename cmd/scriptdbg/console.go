package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/aivorynet/scriptdbg/pkg/breakpoint"
	"github.com/aivorynet/scriptdbg/pkg/capture"
	"github.com/aivorynet/scriptdbg/pkg/debugger"
	"github.com/aivorynet/scriptdbg/pkg/program"
	"github.com/aivorynet/scriptdbg/pkg/remote"
)

const consoleHelp = `Commands:
  c, continue               resume until the next breakpoint
  n, over                   step over
  s, into                   step into
  o, out                    step out
  q, stop                   stop debugging
  bp [file:line[:col]]      list breakpoints, or add one
  p <name>                  print a variable
  set <name> <value>        assign a variable
  stack                     print the call stack
  vars                      print all variables
Anything else is executed in the current runspace.`

// console is a line-oriented debug UI. It is both the controller's
// listener and the remote session's UI.
type console struct {
	lines    chan string
	out      io.Writer
	outMu    sync.Mutex
	ctrl     *debugger.Controller
	finished chan struct{}
	once     sync.Once

	mu     sync.Mutex
	remote bool
}

var (
	_ debugger.Listener = (*console)(nil)
	_ remote.UI         = (*console)(nil)
)

func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{
		lines:    make(chan string),
		out:      out,
		finished: make(chan struct{}),
	}
	go c.read(in)
	return c
}

func (c *console) read(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	close(c.lines)
}

func (c *console) attach(ctrl *debugger.Controller) {
	c.ctrl = ctrl
	ctrl.AddListener(c)
}

// run executes node and serves console commands until debugging ends.
func (c *console) run(node program.Node) error {
	done := make(chan bool, 1)
	go func() {
		done <- c.ctrl.ExecuteProgram(node)
	}()
	c.printf("Debugging %s. Type 'help' for commands.\n", node)

	for {
		select {
		case <-c.finished:
			c.printf("Debugging finished.\n")
			return nil
		case ok := <-done:
			if !ok {
				return errors.Errorf("failed to execute %s", node)
			}
			return nil
		case line, open := <-c.lines:
			if !open {
				c.ctrl.Stop()
				return nil
			}
			if c.handle(line) {
				return nil
			}
		}
	}
}

// handle runs one console line and reports whether the console should quit.
func (c *console) handle(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "c", "continue":
		c.ctrl.Continue()
	case "n", "over":
		c.ctrl.StepOver()
	case "s", "into":
		c.ctrl.StepInto()
	case "o", "out":
		c.ctrl.StepOut()
	case "q", "stop":
		c.ctrl.Stop()
		return true
	case "bp":
		c.breakpoints(fields[1:])
	case "p":
		if len(fields) != 2 {
			c.printf("usage: p <name>\n")
			return false
		}
		c.printVariable(fields[1])
	case "set":
		if len(fields) < 3 {
			c.printf("usage: set <name> <value>\n")
			return false
		}
		c.ctrl.SetVariable(fields[1], strings.Join(fields[2:], " "))
	case "stack":
		c.printStack()
	case "vars":
		c.printVariables()
	case "h", "help", "?":
		c.printf("%s\n", consoleHelp)
	default:
		c.ctrl.Execute(line)
	}
	return false
}

func (c *console) breakpoints(args []string) {
	if len(args) > 0 {
		bps := c.ctrl.Breakpoints()
		for _, arg := range args {
			bp, err := parseBreakpoint(arg)
			if err != nil {
				c.printf("%v\n", err)
				return
			}
			bps = append(bps, bp)
		}
		c.ctrl.SetBreakpoints(bps)
	}

	for i, bp := range c.ctrl.Breakpoints() {
		state := "bound"
		if !bp.Bound {
			state = "unbound"
		}
		c.printf("%3d  %s  (%s)\n", i+1, bp, state)
	}
}

func (c *console) printVariable(name string) {
	v := c.ctrl.GetVariable(name)
	if v == nil {
		c.printf("%s is not defined\n", name)
		return
	}
	c.writeVariable(*v, "")
}

func (c *console) printVariables() {
	vars := c.ctrl.Variables()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.writeVariable(vars[name], "")
	}
}

func (c *console) writeVariable(v capture.Variable, indent string) {
	c.printf("%s%s = %s [%s]\n", indent, v.Name, v.Value, v.Type)
	if indent != "" {
		return
	}
	for _, el := range v.ArrayElements {
		c.writeVariable(el, indent+"  ")
	}
	keys := make([]string, 0, len(v.Children))
	for k := range v.Children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.writeVariable(v.Children[k], indent+"  ")
	}
}

func (c *console) printStack() {
	frames := c.ctrl.CallStack()
	if len(frames) == 0 {
		c.printf("no call stack\n")
		return
	}
	for i, f := range frames {
		c.printf("#%d %s\n", i, f)
	}
}

func (c *console) BreakpointHit(bp breakpoint.Breakpoint) {
	c.printf("Hit breakpoint %s\n", bp)
	c.prompt()
}

func (c *console) DebuggerPaused(loc debugger.Location) {
	c.printf("Stopped at %s\n", loc)
	c.prompt()
}

func (c *console) BreakpointUpdated(u breakpoint.Update) {
	c.printf("Breakpoint %s: %s\n", strings.ToLower(u.Type.String()), u.Breakpoint)
}

func (c *console) OutputString(text string) {
	c.printf("%s\n", strings.TrimRight(text, "\n"))
}

func (c *console) DebuggingFinished() {
	c.once.Do(func() { close(c.finished) })
}

func (c *console) TerminatingException(err error) {
	c.printf("Terminating exception: %v\n", err)
}

// SetRemoteMode switches the prompt while a remote runspace is pushed.
func (c *console) SetRemoteMode(active bool) {
	c.mu.Lock()
	c.remote = active
	c.mu.Unlock()

	if active {
		c.printf("Entered remote session.\n")
	} else {
		c.printf("Left remote session.\n")
	}
}

// OpenFile has no editor to open; it shows where the file is.
func (c *console) OpenFile(path string) error {
	c.printf("Remote file: %s\n", path)
	return nil
}

func (c *console) prompt() {
	c.mu.Lock()
	inRemote := c.remote
	c.mu.Unlock()

	if inRemote {
		c.printf("[remote] [DBG]> ")
	} else {
		c.printf("[DBG]> ")
	}
}

func (c *console) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// parseBreakpoint reads file:line[:col]. The path itself may contain
// colons, as Windows drive letters do.
func parseBreakpoint(arg string) (breakpoint.Breakpoint, error) {
	i := strings.LastIndex(arg, ":")
	if i <= 0 {
		return breakpoint.Breakpoint{}, errors.Errorf("invalid breakpoint %q, want file:line[:col]", arg)
	}
	n, err := strconv.Atoi(arg[i+1:])
	if err != nil {
		return breakpoint.Breakpoint{}, errors.Errorf("invalid breakpoint %q, want file:line[:col]", arg)
	}

	file, line, col := arg[:i], n, 0
	if j := strings.LastIndex(file, ":"); j > 0 {
		if m, err := strconv.Atoi(file[j+1:]); err == nil {
			file, line, col = file[:j], m, n
		}
	}
	if line < 1 || col < 0 {
		return breakpoint.Breakpoint{}, errors.Errorf("invalid breakpoint %q, line must be positive", arg)
	}
	return breakpoint.New(file, line, col), nil
}
