package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

// SessionRepository handles conversation session database operations.
type SessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const sessionColumns = `
	id
  , instance_id
  , contact
  , flow_version_id
  , current_node_id
  , variables
  , status
  , created_at
  , updated_at
`

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = $1
	`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	return session, nil
}

func (r *SessionRepository) FindOpen(ctx context.Context, instanceID, contact string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE instance_id = $1 AND contact = $2 AND status NOT IN ('completed', 'errored')
	`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, instanceID, contact))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	return session, nil
}

func (r *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	_, err := r.upsert(ctx, r.db, session)

	return err
}

// SaveStep persists the session and appends the step's log entry in one
// transaction.
func (r *SessionRepository) SaveStep(ctx context.Context, session *models.Session, entry *models.LogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewSessionError(session.ID, "save step", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = r.upsert(ctx, tx, session)
	if err != nil {
		return persistence.NewSessionError(session.ID, "save step", err)
	}

	if entry != nil {
		err = insertLogEntry(ctx, tx, entry)
		if err != nil {
			return persistence.NewSessionError(session.ID, "save step log", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewSessionError(session.ID, "save step: commit", err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SessionRepository) upsert(ctx context.Context, db execer, session *models.Session) (sql.Result, error) {
	now := time.Now().UTC()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}

	session.UpdatedAt = now

	variablesJSON, err := json.Marshal(session.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variables: %w", err)
	}

	query := `
		INSERT INTO sessions (id, instance_id, contact, flow_version_id, current_node_id, variables, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			current_node_id = EXCLUDED.current_node_id,
			variables = EXCLUDED.variables,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	result, err := db.ExecContext(ctx, query,
		session.ID,
		session.InstanceID,
		session.Contact,
		session.FlowVersionID,
		session.CurrentNodeID,
		variablesJSON,
		session.Status,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return result, nil
}

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	session := &models.Session{}

	var variablesJSON []byte

	err := row.Scan(
		&session.ID,
		&session.InstanceID,
		&session.Contact,
		&session.FlowVersionID,
		&session.CurrentNodeID,
		&variablesJSON,
		&session.Status,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(variablesJSON) > 0 {
		err = json.Unmarshal(variablesJSON, &session.Variables)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}

	return session, nil
}

// WaitRepository handles durable wait timer database operations.
type WaitRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *WaitRepository) Save(ctx context.Context, timer *models.WaitTimer) error {
	query := `
		INSERT INTO session_waits (session_id, node_id, due_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			node_id = EXCLUDED.node_id,
			due_at = EXCLUDED.due_at
	`

	_, err := r.db.ExecContext(ctx, query, timer.SessionID, timer.NodeID, timer.DueAt)
	if err != nil {
		return fmt.Errorf("failed to save wait timer: %w", err)
	}

	return nil
}

func (r *WaitRepository) Get(ctx context.Context, sessionID string) (*models.WaitTimer, error) {
	timer := &models.WaitTimer{}

	err := r.db.QueryRowContext(ctx,
		"SELECT session_id, node_id, due_at FROM session_waits WHERE session_id = $1",
		sessionID,
	).Scan(&timer.SessionID, &timer.NodeID, &timer.DueAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWaitNotFound
		}

		return nil, fmt.Errorf("failed to scan wait timer: %w", err)
	}

	return timer, nil
}

func (r *WaitRepository) Delete(ctx context.Context, sessionID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM session_waits WHERE session_id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete wait timer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete wait timer: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWaitNotFound
	}

	return nil
}

func (r *WaitRepository) Due(ctx context.Context, now time.Time) ([]*models.WaitTimer, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT session_id, node_id, due_at FROM session_waits WHERE due_at <= $1 ORDER BY due_at ASC",
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due wait timers: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	timers := make([]*models.WaitTimer, 0)

	for rows.Next() {
		timer := &models.WaitTimer{}

		err := rows.Scan(&timer.SessionID, &timer.NodeID, &timer.DueAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wait timer: %w", err)
		}

		timers = append(timers, timer)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating wait timers: %w", err)
	}

	return timers, nil
}
