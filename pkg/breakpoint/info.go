// Package breakpoint holds the breakpoints bound in the script execution host.
package breakpoint

import (
	"fmt"
	"strings"
)

// Breakpoint is a line breakpoint registered with the execution host.
type Breakpoint struct {
	ID      string `json:"id"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Bound   bool   `json:"bound"`
	Enabled bool   `json:"enabled"`
}

// New returns an enabled, unbound breakpoint at the given location.
func New(file string, line, column int) Breakpoint {
	return Breakpoint{File: file, Line: line, Column: column, Enabled: true}
}

// At reports whether the breakpoint sits at the given location. Paths
// compare case-insensitively.
func (b Breakpoint) At(file string, line, column int) bool {
	return b.Line == line && b.Column == column && strings.EqualFold(b.File, file)
}

func (b Breakpoint) String() string {
	return fmt.Sprintf("%s:%d:%d", b.File, b.Line, b.Column)
}

// UpdateType is the kind of change the host reports for a breakpoint.
type UpdateType int

const (
	UpdateSet UpdateType = iota
	UpdateRemoved
	UpdateEnabled
	UpdateDisabled
)

func (t UpdateType) String() string {
	switch t {
	case UpdateSet:
		return "Set"
	case UpdateRemoved:
		return "Removed"
	case UpdateEnabled:
		return "Enabled"
	case UpdateDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// ParseUpdateType maps the host's update name onto an UpdateType.
func ParseUpdateType(s string) (UpdateType, error) {
	switch strings.ToLower(s) {
	case "set", "added":
		return UpdateSet, nil
	case "removed":
		return UpdateRemoved, nil
	case "enabled":
		return UpdateEnabled, nil
	case "disabled":
		return UpdateDisabled, nil
	}
	return 0, fmt.Errorf("unknown breakpoint update type %q", s)
}

// Update is a host-originated change to a single breakpoint.
type Update struct {
	Type       UpdateType
	Breakpoint Breakpoint
}
