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

// InstanceRepository handles gateway instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const instanceColumns = `
	id
  , organization_id
  , name
  , external_id
  , auth_token
  , status
  , webhook_url
  , created_at
  , updated_at
`

func (r *InstanceRepository) List(ctx context.Context, organizationID string) ([]*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE $1 = '' OR organization_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE id = $1
	`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.Instance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	query := `
		INSERT INTO instances (id, organization_id, name, external_id, auth_token, status, webhook_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			external_id = EXCLUDED.external_id,
			auth_token = EXCLUDED.auth_token,
			status = EXCLUDED.status,
			webhook_url = EXCLUDED.webhook_url,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		instance.ID,
		instance.OrganizationID,
		instance.Name,
		nullString(instance.ExternalID),
		nullString(instance.AuthToken),
		instance.Status,
		nullString(instance.WebhookURL),
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	return nil
}

func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM instances WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	if affected == 0 {
		return persistence.ErrInstanceNotFound
	}

	return nil
}

func scanInstance(row interface{ Scan(...any) error }) (*models.Instance, error) {
	instance := &models.Instance{}

	var externalID, authToken, webhookURL sql.NullString

	err := row.Scan(
		&instance.ID,
		&instance.OrganizationID,
		&instance.Name,
		&externalID,
		&authToken,
		&instance.Status,
		&webhookURL,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.ExternalID = externalID.String
	instance.AuthToken = authToken.String
	instance.WebhookURL = webhookURL.String

	return instance, nil
}
