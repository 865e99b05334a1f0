// Package events defines event types and structures for conversation
// lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the shared event stream of the platform. Inbound gateway events
// and engine step events travel on the same stream keyed by conversation so
// partition ordering matches conversation ordering.
const Topic = "flowzap.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Gateway events.
	InboundReceivedEvent EventType = "gateway.inbound.received"

	// Session lifecycle events.
	SessionStartedEvent       EventType = "session.started"
	SessionStepCompletedEvent EventType = "session.step.completed"
	SessionSuspendedEvent     EventType = "session.suspended"
	SessionCompletedEvent     EventType = "session.completed"
	SessionFailedEvent        EventType = "session.failed"
	SessionResumedEvent       EventType = "session.resumed"
	SessionTerminatedEvent    EventType = "session.terminated"
	WaitDueEvent              EventType = "session.wait.due"

	// Flow management events.
	FlowVersionActivatedEvent EventType = "flow.version.activated"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// InboundReceived carries one inbound gateway message into the engine.
type InboundReceived struct {
	BaseEvent

	Contact     string         `json:"contact"`
	MessageType string         `json:"message_type"`
	Text        string         `json:"text"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (e InboundReceived) GetType() EventType {
	return InboundReceivedEvent
}

// SessionStarted signals that an inbound message matched a trigger and a new
// session began walking the active version.
type SessionStarted struct {
	BaseEvent

	SessionID     string `json:"session_id"`
	FlowID        string `json:"flow_id"`
	FlowVersionID string `json:"flow_version_id"`
	Contact       string `json:"contact"`
}

func (e SessionStarted) GetType() EventType {
	return SessionStartedEvent
}

// SessionStepCompleted is emitted once per executed node.
type SessionStepCompleted struct {
	BaseEvent

	SessionID string `json:"session_id"`
	NodeID    string `json:"node_id"`
	NodeKind  string `json:"node_kind"`
	Status    string `json:"status"`
}

func (e SessionStepCompleted) GetType() EventType {
	return SessionStepCompletedEvent
}

// SessionSuspended is emitted when a walk stops at a wait, human, or
// condition node.
type SessionSuspended struct {
	BaseEvent

	SessionID string `json:"session_id"`
	NodeID    string `json:"node_id"`
	Status    string `json:"status"`
}

func (e SessionSuspended) GetType() EventType {
	return SessionSuspendedEvent
}

type SessionCompleted struct {
	BaseEvent

	SessionID string `json:"session_id"`
}

func (e SessionCompleted) GetType() EventType {
	return SessionCompletedEvent
}

type SessionFailed struct {
	BaseEvent

	SessionID string `json:"session_id"`
	NodeID    string `json:"node_id"`
	Error     string `json:"error"`
}

func (e SessionFailed) GetType() EventType {
	return SessionFailedEvent
}

// SessionResumed is emitted when a live operator hands a conversation back
// to the engine.
type SessionResumed struct {
	BaseEvent

	SessionID string `json:"session_id"`
	Operator  string `json:"operator,omitempty"`
}

func (e SessionResumed) GetType() EventType {
	return SessionResumedEvent
}

// SessionTerminated is emitted when an operator force-closes a session.
type SessionTerminated struct {
	BaseEvent

	SessionID string `json:"session_id"`
	Operator  string `json:"operator,omitempty"`
}

func (e SessionTerminated) GetType() EventType {
	return SessionTerminatedEvent
}

// WaitDue is emitted by the timer sweeper when a suspended wait elapses.
type WaitDue struct {
	BaseEvent

	SessionID string    `json:"session_id"`
	NodeID    string    `json:"node_id"`
	DueAt     time.Time `json:"due_at"`
}

func (e WaitDue) GetType() EventType {
	return WaitDueEvent
}

// FlowVersionActivated signals an atomic active-version swap. Running
// engines use it only for logging; in-flight sessions keep their pinned
// version.
type FlowVersionActivated struct {
	BaseEvent

	FlowID        string `json:"flow_id"`
	FlowVersionID string `json:"flow_version_id"`
	VersionNumber int    `json:"version_number"`
}

func (e FlowVersionActivated) GetType() EventType {
	return FlowVersionActivatedEvent
}

func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		Metadata:   make(map[string]any),
	}
}
