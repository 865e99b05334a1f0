package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

// LogRepository handles the append-only audit log. Inserts only; there is no
// update or delete path.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	return insertLogEntry(ctx, r.db, entry)
}

func insertLogEntry(ctx context.Context, db execer, entry *models.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	contentJSON, err := json.Marshal(entry.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal log content: %w", err)
	}

	query := `
		INSERT INTO messages_log (id, instance_id, flow_version_id, node_id, direction, contact, message_type, content, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = db.ExecContext(ctx, query,
		entry.ID,
		entry.InstanceID,
		nullString(entry.FlowVersionID),
		nullString(entry.NodeID),
		entry.Direction,
		nullString(entry.Contact),
		nullString(entry.MessageType),
		contentJSON,
		entry.Status,
		nullString(entry.ErrorMessage),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	return nil
}

func (r *LogRepository) List(ctx context.Context, filter persistence.LogFilter) ([]*models.LogEntry, error) {
	query := `
		SELECT
			id
		  , instance_id
		  , flow_version_id
		  , node_id
		  , direction
		  , contact
		  , message_type
		  , content
		  , status
		  , error_message
		  , created_at
		FROM messages_log
		WHERE ($1 = '' OR instance_id = $1)
		  AND ($2 = '' OR contact = $2)
		  AND ($3 = '' OR direction = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY created_at ASC, id ASC
		LIMIT $5 OFFSET $6
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query,
		filter.InstanceID,
		filter.Contact,
		string(filter.Direction),
		string(filter.Status),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.LogEntry, 0)

	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}

	return entries, nil
}

func (r *LogRepository) CountByVersion(ctx context.Context, versionID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages_log WHERE flow_version_id = $1",
		versionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}

	return count, nil
}

func scanLogEntry(row interface{ Scan(...any) error }) (*models.LogEntry, error) {
	entry := &models.LogEntry{}

	var (
		flowVersionID sql.NullString
		nodeID        sql.NullString
		contact       sql.NullString
		messageType   sql.NullString
		errorMessage  sql.NullString
		contentJSON   []byte
	)

	err := row.Scan(
		&entry.ID,
		&entry.InstanceID,
		&flowVersionID,
		&nodeID,
		&entry.Direction,
		&contact,
		&messageType,
		&contentJSON,
		&entry.Status,
		&errorMessage,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.FlowVersionID = flowVersionID.String
	entry.NodeID = nodeID.String
	entry.Contact = contact.String
	entry.MessageType = messageType.String
	entry.ErrorMessage = errorMessage.String

	if len(contentJSON) > 0 {
		err = json.Unmarshal(contentJSON, &entry.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal log content: %w", err)
		}
	}

	return entry, nil
}
