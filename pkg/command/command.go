// Package command defines debugging commands and the gate that hands them
// to a paused execution goroutine.
package command

import (
	"fmt"
	"strings"
)

// Command is the instruction a paused debuggee resumes with.
type Command int

const (
	StepOver Command = iota
	StepInto
	StepOut
	Continue
	Stop
)

// String returns the command text the execution host understands.
func (c Command) String() string {
	switch c {
	case StepOver:
		return "stepOver"
	case StepInto:
		return "stepInto"
	case StepOut:
		return "stepOut"
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// ParseCommand is the inverse of Command.String.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(s) {
	case "stepover":
		return StepOver, nil
	case "stepinto":
		return StepInto, nil
	case "stepout":
		return StepOut, nil
	case "continue":
		return Continue, nil
	case "stop":
		return Stop, nil
	}
	return 0, fmt.Errorf("unknown debugging command %q", s)
}
