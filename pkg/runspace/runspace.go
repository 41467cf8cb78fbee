// Package runspace defines the execution contexts a debug session runs
// commands in.
package runspace

import "context"

// DebugMode controls how the host treats a runspace while debugging.
type DebugMode int

const (
	DebugModeNone DebugMode = iota
	DebugModeDefault
	DebugModeLocalScript
	DebugModeRemoteScript
)

func (m DebugMode) String() string {
	switch m {
	case DebugModeNone:
		return "None"
	case DebugModeDefault:
		return "Default"
	case DebugModeLocalScript:
		return "LocalScript"
	case DebugModeRemoteScript:
		return "RemoteScript"
	default:
		return "Unknown"
	}
}

// Event is a session-scoped event raised inside a runspace.
type Event struct {
	SourceIdentifier string                 `json:"source_identifier"`
	MessageData      map[string]interface{} `json:"message_data,omitempty"`
}

// String returns a string field of the event's message data.
func (e Event) String(key string) string {
	if e.MessageData == nil {
		return ""
	}
	s, _ := e.MessageData[key].(string)
	return s
}

// EventHandler reacts to a forwarded session event.
type EventHandler func(Event)

// Subscription is a live event forwarding registration.
type Subscription interface {
	Unsubscribe() error
}

// Pipeline is a transient nested execution context. It must be closed
// once the caller is done with it.
type Pipeline interface {
	Invoke(ctx context.Context, command string, params map[string]interface{}) error
	Close() error
}

// Runspace is an execution context handle, local or remote.
type Runspace interface {
	ID() string
	ComputerName() string
	SetDebugMode(ctx context.Context, mode DebugMode) error
	NewPipeline(ctx context.Context) (Pipeline, error)
	Subscribe(sourceIdentifier string, handler EventHandler) (Subscription, error)
}
