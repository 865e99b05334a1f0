// Package postgres provides PostgreSQL persistence for flows, versions,
// sessions, instances, and the audit log.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/flowzap/flowzap/pkg/persistence"
	"github.com/flowzap/flowzap/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on top of PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	flowRepo     *FlowRepository
	versionRepo  *VersionRepository
	sessionRepo  *SessionRepository
	instanceRepo *InstanceRepository
	logRepo      *LogRepository
	waitRepo     *WaitRepository
}

// NewPersistence opens the database, runs pending migrations, and returns
// the persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		flowRepo:     &FlowRepository{db: database, logger: logger},
		versionRepo:  &VersionRepository{db: database, logger: logger},
		sessionRepo:  &SessionRepository{db: database, logger: logger},
		instanceRepo: &InstanceRepository{db: database, logger: logger},
		logRepo:      &LogRepository{db: database, logger: logger},
		waitRepo:     &WaitRepository{db: database, logger: logger},
	}, nil
}

func (p *Persistence) Flows() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) Versions() persistence.VersionRepository {
	return p.versionRepo
}

func (p *Persistence) Sessions() persistence.SessionRepository {
	return p.sessionRepo
}

func (p *Persistence) Instances() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) Logs() persistence.LogRepository {
	return p.logRepo
}

func (p *Persistence) Waits() persistence.WaitRepository {
	return p.waitRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
