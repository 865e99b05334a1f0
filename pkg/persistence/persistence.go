// Package persistence provides the data storage abstraction layer for flows,
// versions, sessions, instances, and the audit log.
package persistence

import (
	"context"
	"time"

	"github.com/flowzap/flowzap/pkg/models"
)

// Persistence aggregates the repositories of all stored aggregates. Both the
// PostgreSQL and the file implementation satisfy it.
type Persistence interface {
	Flows() FlowRepository
	Versions() VersionRepository
	Sessions() SessionRepository
	Instances() InstanceRepository
	Logs() LogRepository
	Waits() WaitRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores the mutable flow parent records.
type FlowRepository interface {
	List(ctx context.Context, organizationID string) ([]*models.Flow, error)
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, id string) error
}

// VersionRepository stores immutable flow version snapshots. Save inserts
// only; versions are never updated except for the is_active flag, which is
// flipped exclusively through Activate.
type VersionRepository interface {
	ListByFlow(ctx context.Context, flowID string) ([]*models.FlowVersion, error)
	GetByID(ctx context.Context, id string) (*models.FlowVersion, error)
	NextVersionNumber(ctx context.Context, flowID string) (int, error)
	Save(ctx context.Context, version *models.FlowVersion) error

	// Activate atomically clears is_active on the previously active version,
	// sets it on the target, and updates the flow's current_version_id. A
	// partially applied swap must never be observable.
	Activate(ctx context.Context, flowID, versionID string) error

	Active(ctx context.Context, flowID string) (*models.FlowVersion, error)
}

// SessionRepository stores conversation sessions.
type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)

	// FindOpen returns the open session (status not completed/errored) for an
	// (instance, contact) pair, or ErrSessionNotFound.
	FindOpen(ctx context.Context, instanceID, contact string) (*models.Session, error)

	Save(ctx context.Context, session *models.Session) error

	// SaveStep persists the session state and appends the step's log entry
	// atomically with respect to each other.
	SaveStep(ctx context.Context, session *models.Session, entry *models.LogEntry) error
}

// InstanceRepository stores messaging-gateway instances.
type InstanceRepository interface {
	List(ctx context.Context, organizationID string) ([]*models.Instance, error)
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	Save(ctx context.Context, instance *models.Instance) error
	Delete(ctx context.Context, id string) error
}

// LogFilter narrows audit log queries for the log viewer.
type LogFilter struct {
	InstanceID string
	Contact    string
	Direction  models.Direction
	Status     models.LogStatus
	Limit      int
	Offset     int
}

// LogRepository stores append-only audit records. There is deliberately no
// update or delete.
type LogRepository interface {
	Append(ctx context.Context, entry *models.LogEntry) error
	List(ctx context.Context, filter LogFilter) ([]*models.LogEntry, error)
	CountByVersion(ctx context.Context, versionID string) (int, error)
}

// WaitRepository stores durable wait timers, keyed by session.
type WaitRepository interface {
	Save(ctx context.Context, timer *models.WaitTimer) error
	Get(ctx context.Context, sessionID string) (*models.WaitTimer, error)
	Delete(ctx context.Context, sessionID string) error
	Due(ctx context.Context, now time.Time) ([]*models.WaitTimer, error)
}
