package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const flowColumns = `
	id
  , organization_id
  , name
  , description
  , current_version_id
  , created_by
  , created_at
  , updated_at
  , deleted_at
`

func (r *FlowRepository) List(ctx context.Context, organizationID string) ([]*models.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		WHERE deleted_at IS NULL AND ($1 = '' OR organization_id = $1)
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		WHERE id = $1 AND deleted_at IS NULL
	`

	flow, err := scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	return flow, nil
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	query := `
		INSERT INTO flows (id, organization_id, name, description, current_version_id, created_by, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			current_version_id = EXCLUDED.current_version_id,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		flow.ID,
		flow.OrganizationID,
		flow.Name,
		flow.Description,
		nullString(flow.CurrentVersionID),
		flow.CreatedBy,
		flow.CreatedAt,
		flow.UpdatedAt,
		flow.DeletedAt,
	)
	if err != nil {
		return persistence.NewFlowError(flow.ID, "save", err)
	}

	return nil
}

// Delete soft-deletes the flow. Versions and log entries keep referencing it.
func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE flows
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence.NewFlowError(id, "delete", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewFlowError(id, "delete", err)
	}

	if affected == 0 {
		return persistence.ErrFlowNotFound
	}

	return nil
}

func scanFlow(row interface{ Scan(...any) error }) (*models.Flow, error) {
	flow := &models.Flow{}

	var (
		currentVersionID sql.NullString
		deletedAt        sql.NullTime
	)

	err := row.Scan(
		&flow.ID,
		&flow.OrganizationID,
		&flow.Name,
		&flow.Description,
		&currentVersionID,
		&flow.CreatedBy,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if currentVersionID.Valid {
		flow.CurrentVersionID = currentVersionID.String
	}

	if deletedAt.Valid {
		flow.DeletedAt = &deletedAt.Time
	}

	return flow, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
