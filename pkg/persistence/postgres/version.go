package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

// VersionRepository handles flow version database operations. Versions are
// insert-only; the is_active flag is the single mutable column and is only
// touched inside Activate's transaction.
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const versionColumns = `
	id
  , flow_id
  , version_number
  , graph
  , is_active
  , created_by
  , metadata
  , created_at
`

func (r *VersionRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM flow_versions
		WHERE flow_id = $1
		ORDER BY version_number ASC
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow versions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.FlowVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow version: %w", err)
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flow versions: %w", err)
	}

	return versions, nil
}

func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.FlowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM flow_versions
		WHERE id = $1
	`

	version, err := scanVersion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrVersionNotFound
		}

		return nil, fmt.Errorf("failed to scan flow version: %w", err)
	}

	return version, nil
}

func (r *VersionRepository) NextVersionNumber(ctx context.Context, flowID string) (int, error) {
	var next int

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version_number), 0) + 1 FROM flow_versions WHERE flow_id = $1",
		flowID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to query next version number: %w", err)
	}

	return next, nil
}

func (r *VersionRepository) Save(ctx context.Context, version *models.FlowVersion) error {
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	graphJSON, err := json.Marshal(version.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	metadataJSON, err := json.Marshal(version.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO flow_versions (id, flow_id, version_number, graph, is_active, created_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		version.ID,
		version.FlowID,
		version.VersionNumber,
		graphJSON,
		version.IsActive,
		version.CreatedBy,
		metadataJSON,
		version.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.ErrDuplicateVersion
		}

		return persistence.NewFlowError(version.FlowID, "save version", err)
	}

	return nil
}

// Activate swaps the active version inside one transaction: clear the old
// flag, set the new one, move the flow's current_version_id pointer.
func (r *VersionRepository) Activate(ctx context.Context, flowID, versionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewFlowError(flowID, "activate", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"UPDATE flow_versions SET is_active = FALSE WHERE flow_id = $1 AND is_active",
		flowID,
	)
	if err != nil {
		return persistence.NewFlowError(flowID, "activate: clear previous", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE flow_versions SET is_active = TRUE WHERE id = $1 AND flow_id = $2",
		versionID, flowID,
	)
	if err != nil {
		return persistence.NewFlowError(flowID, "activate: set target", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewFlowError(flowID, "activate", err)
	}

	if affected == 0 {
		err = persistence.ErrVersionNotFound

		return err
	}

	result, err = tx.ExecContext(ctx,
		"UPDATE flows SET current_version_id = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL",
		versionID, flowID,
	)
	if err != nil {
		return persistence.NewFlowError(flowID, "activate: move pointer", err)
	}

	affected, err = result.RowsAffected()
	if err != nil {
		return persistence.NewFlowError(flowID, "activate", err)
	}

	if affected == 0 {
		err = persistence.ErrFlowNotFound

		return err
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewFlowError(flowID, "activate: commit", err)
	}

	return nil
}

func (r *VersionRepository) Active(ctx context.Context, flowID string) (*models.FlowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM flow_versions
		WHERE flow_id = $1 AND is_active
	`

	version, err := scanVersion(r.db.QueryRowContext(ctx, query, flowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNoActiveVersion
		}

		return nil, fmt.Errorf("failed to scan active version: %w", err)
	}

	return version, nil
}

func scanVersion(row interface{ Scan(...any) error }) (*models.FlowVersion, error) {
	version := &models.FlowVersion{}

	var graphJSON, metadataJSON []byte

	err := row.Scan(
		&version.ID,
		&version.FlowID,
		&version.VersionNumber,
		&graphJSON,
		&version.IsActive,
		&version.CreatedBy,
		&metadataJSON,
		&version.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(graphJSON, &version.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}

	if len(metadataJSON) > 0 {
		err = json.Unmarshal(metadataJSON, &version.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return version, nil
}
