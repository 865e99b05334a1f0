package models

import "time"

// Direction marks which way a logged event traveled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// LogStatus is the recorded outcome of one logged step or event.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusPending LogStatus = "pending"
)

// LogEntry is one append-only audit record: one row per engine step and per
// raw inbound/outbound event, never mutated after insert.
type LogEntry struct {
	ID            string         `json:"id"`
	InstanceID    string         `json:"instance_id" validate:"required"`
	FlowVersionID string         `json:"flow_version_id,omitempty"`
	NodeID        string         `json:"node_id,omitempty"`
	Direction     Direction      `json:"direction"   validate:"required"`
	Contact       string         `json:"contact"`
	MessageType   string         `json:"message_type"`
	Content       map[string]any `json:"content"`
	Status        LogStatus      `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
