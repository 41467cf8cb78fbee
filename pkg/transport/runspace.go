package transport

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/aivorynet/scriptdbg/pkg/runspace"
)

// LocalRunspaceID names the host's default runspace.
const LocalRunspaceID = "local"

// Runspace is a handle to a runspace living in the execution host.
type Runspace struct {
	conn         *Connection
	id           string
	computerName string
}

var _ runspace.Runspace = (*Runspace)(nil)

// Runspace returns the handle for the runspace id, creating it on first
// use.
func (c *Connection) Runspace(id, computerName string) *Runspace {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if rs, ok := c.runspaces[id]; ok {
		if computerName != "" {
			rs.computerName = computerName
		}
		return rs
	}
	if computerName == "" {
		computerName = "localhost"
	}
	rs := &Runspace{conn: c, id: id, computerName: computerName}
	c.runspaces[id] = rs
	return rs
}

// LocalRunspace returns the host's default runspace.
func (c *Connection) LocalRunspace() *Runspace {
	return c.Runspace(LocalRunspaceID, "")
}

func (r *Runspace) ID() string { return r.id }

func (r *Runspace) ComputerName() string {
	r.conn.subsMu.RLock()
	defer r.conn.subsMu.RUnlock()
	return r.computerName
}

func (r *Runspace) SetDebugMode(ctx context.Context, mode runspace.DebugMode) error {
	return r.conn.call(ctx, "runspace.setDebugMode", map[string]string{
		"runspace": r.id,
		"mode":     mode.String(),
	}, nil)
}

func (r *Runspace) NewPipeline(ctx context.Context) (runspace.Pipeline, error) {
	var result struct {
		Pipeline string `json:"pipeline"`
	}
	if err := r.conn.call(ctx, "runspace.newPipeline", map[string]string{"runspace": r.id}, &result); err != nil {
		return nil, err
	}
	return &pipeline{conn: r.conn, id: result.Pipeline}, nil
}

// Subscribe asks the host to forward events with sourceIdentifier raised
// in this runspace.
func (r *Runspace) Subscribe(sourceIdentifier string, handler runspace.EventHandler) (runspace.Subscription, error) {
	sub := &subscription{
		conn:     r.conn,
		id:       uuid.New().String(),
		runspace: r.id,
		source:   sourceIdentifier,
		handler:  handler,
	}

	r.conn.subsMu.Lock()
	r.conn.subs[sub.id] = sub
	r.conn.subsMu.Unlock()

	err := r.conn.call(context.Background(), "runspace.subscribe", map[string]string{
		"runspace":          r.id,
		"source_identifier": sourceIdentifier,
		"subscription":      sub.id,
	}, nil)
	if err != nil {
		r.conn.removeSubscription(sub.id)
		return nil, err
	}
	return sub, nil
}

type pipeline struct {
	conn *Connection
	id   string
}

func (p *pipeline) Invoke(ctx context.Context, command string, params map[string]interface{}) error {
	return p.conn.call(ctx, "pipeline.invoke", map[string]interface{}{
		"pipeline": p.id,
		"command":  command,
		"params":   params,
	}, nil)
}

func (p *pipeline) Close() error {
	return p.conn.call(context.Background(), "pipeline.close", map[string]string{"pipeline": p.id}, nil)
}

type subscription struct {
	conn     *Connection
	id       string
	runspace string
	source   string
	handler  runspace.EventHandler
}

func (s *subscription) Unsubscribe() error {
	if !s.conn.removeSubscription(s.id) {
		return nil
	}
	return s.conn.call(context.Background(), "runspace.unsubscribe", map[string]string{"subscription": s.id}, nil)
}

func (c *Connection) removeSubscription(id string) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	return ok
}

func (c *Connection) handleSessionEvent(payload json.RawMessage) {
	var p sessionEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.WithError(err).Debug("malformed session event")
		return
	}

	c.subsMu.RLock()
	var handlers []runspace.EventHandler
	for _, sub := range c.subs {
		if sub.runspace == p.Runspace && sub.source == p.SourceIdentifier {
			handlers = append(handlers, sub.handler)
		}
	}
	c.subsMu.RUnlock()

	ev := runspace.Event{SourceIdentifier: p.SourceIdentifier, MessageData: p.MessageData}
	for _, h := range handlers {
		h(ev)
	}
}
