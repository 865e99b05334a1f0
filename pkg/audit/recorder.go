// Package audit records the append-only message log backing the log viewer.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

// Recorder appends audit entries. Entries are never updated or deleted;
// corrections happen by appending new rows.
type Recorder struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewRecorder(p persistence.Persistence, logger *slog.Logger) *Recorder {
	return &Recorder{
		persistence: p,
		logger:      logger.With("module", "audit"),
	}
}

// Record appends one entry.
func (r *Recorder) Record(ctx context.Context, entry *models.LogEntry) error {
	return r.persistence.Logs().Append(ctx, entry)
}

// List queries entries for the log viewer, oldest first.
func (r *Recorder) List(ctx context.Context, filter persistence.LogFilter) ([]*models.LogEntry, error) {
	return r.persistence.Logs().List(ctx, filter)
}

// NewInboundEntry builds the audit row for a raw inbound event. Unmatched
// events are recorded with status pending and the reason they went nowhere.
func NewInboundEntry(instanceID, contact, messageType string, content map[string]any, status models.LogStatus, errorMessage string) *models.LogEntry {
	return &models.LogEntry{
		ID:           uuid.New().String(),
		InstanceID:   instanceID,
		Direction:    models.DirectionInbound,
		Contact:      contact,
		MessageType:  messageType,
		Content:      content,
		Status:       status,
		ErrorMessage: errorMessage,
		CreatedAt:    time.Now().UTC(),
	}
}

// NewStepEntry builds the audit row for one executed node of a session.
func NewStepEntry(session *models.Session, nodeID string, direction models.Direction, messageType string, content map[string]any, status models.LogStatus, errorMessage string) *models.LogEntry {
	return &models.LogEntry{
		ID:            uuid.New().String(),
		InstanceID:    session.InstanceID,
		FlowVersionID: session.FlowVersionID,
		NodeID:        nodeID,
		Direction:     direction,
		Contact:       session.Contact,
		MessageType:   messageType,
		Content:       content,
		Status:        status,
		ErrorMessage:  errorMessage,
		CreatedAt:     time.Now().UTC(),
	}
}
