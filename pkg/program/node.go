// Package program describes what a debug session runs and how that turns
// into command lines for the execution host.
package program

import "fmt"

// Kind is the type of program node.
type Kind int

const (
	// File runs a script file with arguments.
	File Kind = iota
	// Inline runs script content directly.
	Inline
	// Attached attaches to an already running host process.
	Attached
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Inline:
		return "inline"
	case Attached:
		return "attached"
	default:
		return "unknown"
	}
}

// Node identifies what is being executed. It is immutable for the
// duration of one execution request.
type Node struct {
	Kind      Kind   `json:"kind"`
	Path      string `json:"path,omitempty"`
	Args      string `json:"args,omitempty"`
	Content   string `json:"content,omitempty"`
	ProcessID int    `json:"process_id,omitempty"`
}

// FileNode runs the script at path with args.
func FileNode(path, args string) Node {
	return Node{Kind: File, Path: path, Args: args}
}

// InlineNode runs content as-is.
func InlineNode(content string) Node {
	return Node{Kind: Inline, Content: content}
}

// AttachNode attaches to the process with the given id.
func AttachNode(pid int) Node {
	return Node{Kind: Attached, ProcessID: pid}
}

func (n Node) String() string {
	switch n.Kind {
	case File:
		return n.Path
	case Attached:
		return fmt.Sprintf("process %d", n.ProcessID)
	case Inline:
		return "<inline>"
	default:
		return "<unknown>"
	}
}
