package ws

import (
	"encoding/json"

	"github.com/theopensystemslab/planx-new-sub014/internal/cache"
)

type ClientMessage struct {
	Type    string          `json:"type"`
	FlowID  string          `json:"flowId,omitempty"`
	Version uint64          `json:"version,omitempty"` // candidate snapshot version for "op"
	From    uint64          `json:"from,omitempty"`
	To      uint64          `json:"to,omitempty"` // 0 = unbounded
	Op      json.RawMessage `json:"op,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"` // candidate snapshot data for "op"
}

// OutboundMessage is anything the server pushes down a connection.
type OutboundMessage interface {
	MessageType() string
}

type SnapshotMessage struct {
	Type    string          `json:"type"` // "snapshot"
	FlowID  string          `json:"flowId"`
	Version uint64          `json:"version"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AckMessage confirms the sender's own op was committed.
type AckMessage struct {
	Type    string `json:"type"` // "ack"
	FlowID  string `json:"flowId"`
	Version uint64 `json:"version"`
}

// ConflictMessage tells the sender its op was based on stale history. The
// client fetches ops from its base version up to CurrentVersion, rebases,
// and resubmits.
type ConflictMessage struct {
	Type           string `json:"type"` // "conflict"
	FlowID         string `json:"flowId"`
	CurrentVersion uint64 `json:"currentVersion"`
}

type OpsMessage struct {
	Type   string            `json:"type"` // "ops"
	FlowID string            `json:"flowId"`
	From   uint64            `json:"from"`
	To     uint64            `json:"to,omitempty"`
	Ops    []json.RawMessage `json:"ops"`
}

// OpBroadcastMessage pushes another editor's committed op to the rest of
// the flow's room.
type OpBroadcastMessage struct {
	Type    string          `json:"type"` // "op"
	FlowID  string          `json:"flowId"`
	Version uint64          `json:"version"`
	ActorID string          `json:"actorId"`
	Op      json.RawMessage `json:"op"`
}

type PresenceMessage struct {
	Type    string         `json:"type"` // "presence"
	FlowID  string         `json:"flowId"`
	Members []cache.Member `json:"members"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (m SnapshotMessage) MessageType() string    { return m.Type }
func (m AckMessage) MessageType() string         { return m.Type }
func (m ConflictMessage) MessageType() string    { return m.Type }
func (m OpsMessage) MessageType() string         { return m.Type }
func (m OpBroadcastMessage) MessageType() string { return m.Type }
func (m PresenceMessage) MessageType() string    { return m.Type }
func (m ErrorMessage) MessageType() string       { return m.Type }
