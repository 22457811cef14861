package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/theopensystemslab/planx-new-sub014/internal/collab"
	"github.com/theopensystemslab/planx-new-sub014/internal/store"
)

const (
	presenceTTL   = 10 * time.Minute
	submitTimeout = 2 * time.Second
)

// Conn is one authenticated editor connection. Inbound messages are handled
// sequentially by readLoop; outbound delivery is decoupled through a
// buffered channel drained by writeLoop, so a slow socket never blocks the
// handlers or the hub.
type Conn struct {
	ws      *websocket.Conn
	hub     *Hub
	flowID  string
	actorID string
	email   string
	send    chan OutboundMessage
	svc     collab.Service
	sem     *collab.Semaphore

	// sendMu serializes enqueue against closeSend: the hub may broadcast to
	// this connection at the same moment its read loop winds down.
	sendMu sync.Mutex
	closed bool
}

func NewConn(ws *websocket.Conn, hub *Hub, actorID, email string, svc collab.Service, sem *collab.Semaphore) *Conn {
	return &Conn{
		ws:      ws,
		hub:     hub,
		actorID: actorID,
		email:   email,
		send:    make(chan OutboundMessage, 32),
		svc:     svc,
		sem:     sem,
	}
}

// enqueue drops the message if the outbound buffer is full rather than
// blocking; a client that far behind will resync from the store anyway.
// After closeSend it is a no-op.
func (c *Conn) enqueue(msg OutboundMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// closeSend ends writeLoop. Safe to call at most once per connection, and
// safe against concurrent enqueues.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		if c.flowID != "" {
			c.hub.Leave(c.flowID, c)
			if err := c.hub.presence.RemoveMember(ctx, c.flowID, c.actorID); err != nil {
				log.Printf("remove presence (actor=%s, flow=%s): %v", c.actorID, c.flowID, err)
			}
		}
		c.closeSend()
	}()

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("read (actor=%s, flow=%s): %v", c.actorID, c.flowID, err)
			}
			return
		}

		switch msg.Type {
		case "subscribe":
			c.handleSubscribe(ctx, msg)

		case "op":
			c.handleSubmit(ctx, msg)

		case "ops":
			flowID := c.targetFlow(msg)
			if flowID == "" {
				c.enqueue(ErrorMessage{Type: "error", Code: "MISSING_FLOW_ID"})
				continue
			}
			ops, err := c.svc.Ops(ctx, flowID, c.actorID, msg.From, msg.To)
			if err != nil {
				c.enqueue(errorFor(err))
				continue
			}
			c.enqueue(OpsMessage{Type: "ops", FlowID: flowID, From: msg.From, To: msg.To, Ops: ops})

		case "snapshot":
			flowID := c.targetFlow(msg)
			if flowID == "" {
				c.enqueue(ErrorMessage{Type: "error", Code: "MISSING_FLOW_ID"})
				continue
			}
			snap, err := c.svc.Snapshot(ctx, flowID, c.actorID)
			if err != nil {
				c.enqueue(errorFor(err))
				continue
			}
			c.enqueue(SnapshotMessage{Type: "snapshot", FlowID: flowID, Version: snap.Version, Data: snap.Data})

		case "heartbeat":
			if c.flowID == "" {
				continue
			}
			if err := c.hub.presence.AddMember(ctx, c.flowID, c.actorID, c.email, presenceTTL); err != nil {
				log.Printf("refresh presence (actor=%s, flow=%s): %v", c.actorID, c.flowID, err)
			}
			c.sendPresence(ctx, c.flowID)

		default:
			c.enqueue(ErrorMessage{Type: "error", Code: "UNKNOWN_MESSAGE_TYPE", Message: msg.Type})
		}
	}
}

func (c *Conn) handleSubscribe(ctx context.Context, msg ClientMessage) {
	if msg.FlowID == "" {
		c.enqueue(ErrorMessage{Type: "error", Code: "MISSING_FLOW_ID"})
		return
	}

	snap, err := c.svc.Snapshot(ctx, msg.FlowID, c.actorID)
	if err != nil {
		c.enqueue(errorFor(err))
		return
	}

	if c.flowID != "" && c.flowID != msg.FlowID {
		c.hub.Leave(c.flowID, c)
		_ = c.hub.presence.RemoveMember(ctx, c.flowID, c.actorID)
	}
	c.flowID = msg.FlowID
	c.hub.Join(c.flowID, c)
	if err := c.hub.presence.AddMember(ctx, c.flowID, c.actorID, c.email, presenceTTL); err != nil {
		log.Printf("add presence (actor=%s, flow=%s): %v", c.actorID, c.flowID, err)
	}

	c.enqueue(SnapshotMessage{Type: "snapshot", FlowID: c.flowID, Version: snap.Version, Data: snap.Data})
	c.sendPresence(ctx, c.flowID)
}

func (c *Conn) handleSubmit(ctx context.Context, msg ClientMessage) {
	flowID := c.targetFlow(msg)
	if flowID == "" {
		c.enqueue(ErrorMessage{Type: "error", Code: "MISSING_FLOW_ID"})
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		c.enqueue(ErrorMessage{Type: "error", Code: "OVERLOADED"})
		return
	}
	defer c.sem.Release()

	res, err := c.svc.Submit(submitCtx, flowID, c.actorID, msg.Op,
		store.Snapshot{ID: flowID, Version: msg.Version, Data: msg.Data})
	if err != nil {
		c.enqueue(errorFor(err))
		return
	}
	if !res.Applied {
		c.enqueue(ConflictMessage{Type: "conflict", FlowID: flowID, CurrentVersion: res.CurrentVersion})
		return
	}

	c.enqueue(AckMessage{Type: "ack", FlowID: flowID, Version: res.CurrentVersion})
	// res.Op is the sanitized payload as persisted, not the client's raw op
	c.hub.Broadcast(flowID, c, OpBroadcastMessage{
		Type:    "op",
		FlowID:  flowID,
		Version: res.CurrentVersion,
		ActorID: c.actorID,
		Op:      res.Op,
	})
}

func (c *Conn) sendPresence(ctx context.Context, flowID string) {
	members, err := c.hub.presence.AliveMembers(ctx, flowID)
	if err != nil {
		log.Printf("list presence (flow=%s): %v", flowID, err)
		return
	}
	c.enqueue(PresenceMessage{Type: "presence", FlowID: flowID, Members: members})
}

// targetFlow resolves which flow a message addresses: an explicit flowId
// wins, otherwise the subscribed one.
func (c *Conn) targetFlow(msg ClientMessage) string {
	if msg.FlowID != "" {
		return msg.FlowID
	}
	return c.flowID
}

func errorFor(err error) ErrorMessage {
	if errors.Is(err, collab.ErrPermissionDenied) {
		return ErrorMessage{Type: "error", Code: "PERMISSION_DENIED"}
	}
	return ErrorMessage{Type: "error", Code: "INTERNAL", Message: err.Error()}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			return
		}
	}
}
