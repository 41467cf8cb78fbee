// Package transport provides the WebSocket connection to the script
// execution host.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/aivorynet/scriptdbg/pkg/debugger"
	"github.com/aivorynet/scriptdbg/pkg/runspace"
)

const (
	clientVersion     = "1.0.0"
	heartbeatInterval = 30 * time.Second
	maxReconnectDelay = 60 * time.Second
)

var (
	// ErrConnectionBroken is returned for requests that were in flight, or
	// issued, after the connection to the host was lost.
	ErrConnectionBroken = errors.New("connection to execution host broken")
	// ErrNotConnected is returned for requests issued before Connect.
	ErrNotConnected = errors.New("not connected to execution host")
)

// RunspaceHandler is told when the host enters or leaves a remote runspace.
type RunspaceHandler interface {
	RunspacePushed(rs runspace.Runspace)
	RunspacePopped()
}

// Option configures a Connection.
type Option func(*Connection)

// WithRequestTimeout bounds every request except Execute.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.requestTimeout = d
	}
}

// WithReconnect sets how often and how fast dialing is retried.
func WithReconnect(maxAttempts int, delay time.Duration) Option {
	return func(c *Connection) {
		c.maxReconnectAttempts = maxAttempts
		c.reconnectDelay = delay
	}
}

// WithMaxCaptureDepth limits how deep variable values are captured.
func WithMaxCaptureDepth(depth int) Option {
	return func(c *Connection) {
		c.maxCaptureDepth = depth
	}
}

// WithRunspaceHandler routes host push/pop notifications to h.
func WithRunspaceHandler(h RunspaceHandler) Option {
	return func(c *Connection) {
		c.runspaceHandler = h
	}
}

// Connection is a WebSocket connection to the execution host. It
// implements debugger.Host, and delivers host notifications to a
// debugger.Notifications on a dedicated execution goroutine.
type Connection struct {
	url           string
	apiKey        string
	conn          *websocket.Conn
	connected     bool
	authenticated bool
	mu            sync.RWMutex
	writeMu       sync.Mutex

	reconnectAttempts    int
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	requestTimeout       time.Duration
	maxCaptureDepth      int

	pending   map[string]chan response
	pendingMu sync.Mutex

	notifications   debugger.Notifications
	runspaceHandler RunspaceHandler
	queue           *notificationQueue

	runspaces map[string]*Runspace
	subs      map[string]*subscription
	subsMu    sync.RWMutex

	done       chan struct{}
	doneOnce   sync.Once
	broken     chan struct{}
	brokenOnce sync.Once

	logger *log.Entry
}

var _ debugger.Host = (*Connection)(nil)

// NewConnection creates a connection to the host at url.
func NewConnection(url, apiKey string, opts ...Option) *Connection {
	c := &Connection{
		url:                  url,
		apiKey:               apiKey,
		maxReconnectAttempts: 10,
		reconnectDelay:       time.Second,
		requestTimeout:       30 * time.Second,
		maxCaptureDepth:      10,
		pending:              make(map[string]chan response),
		queue:                newNotificationQueue(),
		runspaces:            make(map[string]*Runspace),
		subs:                 make(map[string]*subscription),
		done:                 make(chan struct{}),
		broken:               make(chan struct{}),
		logger:               log.WithFields(log.Fields{"component": "transport", "url": url}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNotifications sets the receiver of host notifications. It must be
// called before Connect.
func (c *Connection) SetNotifications(n debugger.Notifications) {
	c.notifications = n
}

// Connect dials the host, retrying with exponential backoff, and starts the
// read, dispatch and heartbeat goroutines.
func (c *Connection) Connect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrNotConnected
		default:
		}

		err := c.connect(ctx)
		if err == nil {
			break
		}

		c.logger.WithError(err).Debug("connection error")
		c.reconnectAttempts++
		if c.reconnectAttempts > c.maxReconnectAttempts {
			return errors.Wrap(err, "max reconnect attempts reached")
		}

		delay := c.reconnectDelay * time.Duration(1<<uint(c.reconnectAttempts-1))
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		c.logger.Debugf("reconnecting in %v (attempt %d)", delay, c.reconnectAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	c.reconnectAttempts = 0
	go c.readLoop()
	go c.dispatchLoop()
	go c.heartbeatLoop()
	return nil
}

// Disconnect closes the connection. It is not reported as broken.
func (c *Connection) Disconnect() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
	c.queue.close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}

	c.connected = false
	c.authenticated = false
}

// IsConnected returns true if connected and registered with the host.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.authenticated
}

// Broken is closed once the connection to the host has been lost.
func (c *Connection) Broken() <-chan struct{} {
	return c.broken
}

func (c *Connection) connect(ctx context.Context) error {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("connecting")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, headers)
	if err != nil {
		return err
	}

	return c.handshake(conn)
}

// handshake adopts conn and registers on it. A conn that cannot register is
// closed so the next attempt starts clean.
func (c *Connection) handshake(conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Debug("websocket connected")
	if err := c.register(); err != nil {
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		conn.Close()
		return errors.Wrap(err, "register")
	}
	return nil
}

func (c *Connection) register() error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return c.send(Message{Type: "register"}, map[string]interface{}{
		"api_key":        c.apiKey,
		"client_version": clientVersion,
		"hostname":       hostname,
	})
}

func (c *Connection) readLoop() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.broken:
			return
		case <-ticker.C:
			if c.IsConnected() {
				_ = c.send(Message{Type: "heartbeat"}, nil)
			}
		}
	}
}

// connectionLost fails every pending request and reports the loss once.
// A deliberate Disconnect is not a loss.
func (c *Connection) connectionLost(err error) {
	select {
	case <-c.done:
		return
	default:
	}

	c.brokenOnce.Do(func() {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.logger.WithError(err).Warn("read error")
		}
		c.mu.Lock()
		c.connected = false
		c.authenticated = false
		c.mu.Unlock()

		close(c.broken)
		c.failPending()
		c.queue.close()

		if c.notifications != nil {
			c.notifications.ConnectionBroken(err)
		}
	})
}

func (c *Connection) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- response{Error: ErrConnectionBroken.Error(), broken: true}
		delete(c.pending, id)
	}
}

func (c *Connection) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.WithError(err).Debug("error parsing message")
		return
	}

	c.logger.WithField("type", msg.Type).Debug("received")

	switch msg.Type {
	case "registered":
		c.handleRegistered()
	case "error":
		c.handleError(msg.Payload)
	case "response":
		c.handleResponse(msg)
	case "output":
		c.handleOutput(msg.Payload)
	case "sessionEvent":
		c.handleSessionEvent(msg.Payload)
	case "debuggerStop", "debuggerFinished", "terminateException", "updateBreakpoint",
		"runspacePushed", "runspacePopped":
		c.queue.push(msg)
	default:
		c.logger.WithField("type", msg.Type).Debug("unhandled message type")
	}
}

func (c *Connection) handleRegistered() {
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	c.logger.Debug("registered with execution host")
}

func (c *Connection) handleError(payload json.RawMessage) {
	var p struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}

	c.logger.WithField("code", p.Code).Errorf("host error: %s", p.Message)

	if p.Code == "auth_error" || p.Code == "invalid_api_key" {
		c.logger.Error("authentication failed, disconnecting")
		c.maxReconnectAttempts = 0
		c.connectionLost(errors.Errorf("authentication failed: %s", p.Message))
		c.Disconnect()
	}
}

func (c *Connection) send(msg Message, payload interface{}) error {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshal payload")
		}
		msg.Payload = raw
	}
	msg.Timestamp = time.Now().UnixMilli()

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return errors.Wrapf(conn.WriteMessage(websocket.TextMessage, data), "write %s", msg.Type)
}
