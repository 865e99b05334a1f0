package models

import "time"

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionStatusRunning       SessionStatus = "running"
	SessionStatusWaiting       SessionStatus = "waiting"
	SessionStatusAwaitingHuman SessionStatus = "awaiting_human"
	SessionStatusCompleted     SessionStatus = "completed"
	SessionStatusErrored       SessionStatus = "errored"
)

// Session is one contact's execution cursor through a flow version. The
// version binding is fixed for the session's lifetime: activating a newer
// version never moves an in-flight session.
type Session struct {
	ID            string            `json:"id"`
	InstanceID    string            `json:"instance_id"     validate:"required"`
	Contact       string            `json:"contact"         validate:"required"`
	FlowVersionID string            `json:"flow_version_id" validate:"required"`
	CurrentNodeID string            `json:"current_node_id"`
	Variables     map[string]string `json:"variables"`
	Status        SessionStatus     `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Open reports whether the session can still consume events.
func (s *Session) Open() bool {
	return s.Status != SessionStatusCompleted && s.Status != SessionStatusErrored
}

// Key identifies the conversation the session belongs to. Steps for the same
// key are serialized; different keys run fully in parallel.
func (s *Session) Key() string {
	return SessionKey(s.InstanceID, s.Contact)
}

// SessionKey builds the conversation key for an (instance, contact) pair.
func SessionKey(instanceID, contact string) string {
	return instanceID + "/" + contact
}

// WaitTimer is the durable due time of a suspended wait node. Persisting the
// due time instead of sleeping in memory lets waits survive process restarts.
type WaitTimer struct {
	SessionID string    `json:"session_id"`
	NodeID    string    `json:"node_id"`
	DueAt     time.Time `json:"due_at"`
}
