package collab

import (
	"encoding/json"
	"time"
)

// FlowOpEvent is published to Kafka after every successful commit so that
// other server instances can push the operation to their local subscribers.
type FlowOpEvent struct {
	EventType string          `json:"eventType"` // always "OP_APPLIED"
	FlowID    string          `json:"flowId"`
	Version   uint64          `json:"version"`
	ActorID   string          `json:"actorId"`
	Op        json.RawMessage `json:"op"`
	AppliedAt time.Time       `json:"appliedAt"`
}
