package debugger

import "fmt"

// State is the controller's position in the debugging lifecycle.
type State int

const (
	// StateIdle is the state before any execution was started.
	StateIdle State = iota
	// StateRunning is when the debuggee executes.
	StateRunning
	// StatePaused is when the debuggee is stopped waiting for a command.
	StatePaused
	// StateFinished is terminal until a new execution starts.
	StateFinished
	// StateTerminated is reached through a terminating exception.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Location is where execution is currently stopped.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// TerminatingError carries a terminating exception raised by the host.
type TerminatingError struct {
	Message      string
	InnerMessage string
}

func (e *TerminatingError) Error() string {
	if e.InnerMessage == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.InnerMessage)
}
