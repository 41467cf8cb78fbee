package transport

import (
	"encoding/json"
	"sync"
)

// Message is the envelope for everything sent over the connection.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// response is the payload of a "response" message.
type response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	broken bool
}

// RemoteError is a request failure reported by the host.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Method + ": " + e.Message
}

type stopPayload struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

type terminatePayload struct {
	Message      string `json:"message"`
	InnerMessage string `json:"inner_message"`
}

type updateBreakpointPayload struct {
	UpdateType string `json:"update_type"`
	Breakpoint struct {
		ID     string `json:"id"`
		File   string `json:"file"`
		Line   int    `json:"line"`
		Column int    `json:"column"`
	} `json:"breakpoint"`
}

type outputPayload struct {
	Text string `json:"text"`
}

type sessionEventPayload struct {
	Runspace         string                 `json:"runspace"`
	SourceIdentifier string                 `json:"source_identifier"`
	MessageData      map[string]interface{} `json:"message_data"`
}

type runspacePayload struct {
	Runspace     string `json:"runspace"`
	ComputerName string `json:"computer_name"`
}

type wireVariable struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

type wireFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
	Display  string `json:"display"`
}

// notificationQueue is an unbounded FIFO between the read loop and the
// execution goroutine. The read loop must never block on a paused
// debuggee.
type notificationQueue struct {
	mu     sync.Mutex
	items  []Message
	signal chan struct{}
	closed bool
}

func newNotificationQueue() *notificationQueue {
	return &notificationQueue{signal: make(chan struct{}, 1)}
}

func (q *notificationQueue) push(msg Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.wake()
}

// pop blocks until a message is available. It returns false once the
// queue is closed.
func (q *notificationQueue) pop() (Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Message{}, false
		}
		<-q.signal
	}
}

func (q *notificationQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.wake()
}

func (q *notificationQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
