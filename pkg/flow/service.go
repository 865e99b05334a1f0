// Package flow provides flow versioning: immutable snapshot creation and
// atomic activation.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowzap/flowzap/pkg/catalog"
	"github.com/flowzap/flowzap/pkg/eventbus"
	"github.com/flowzap/flowzap/pkg/events"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

var ErrGraphRequired = errors.New("graph definition is required")

// Service manages flow version snapshots. Saving never mutates: every save
// becomes a new numbered version, and only Activate decides which version
// handles new conversations.
type Service struct {
	persistence persistence.Persistence
	catalog     *catalog.Catalog
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewService creates a flow versioning service. The publisher may be nil
// when activation notifications are not needed.
func NewService(p persistence.Persistence, c *catalog.Catalog, publisher eventbus.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		persistence: p,
		catalog:     c,
		publisher:   publisher,
		logger:      logger.With("module", "flow"),
	}
}

// CreateVersion validates the graph and stores it as the flow's next
// immutable version. The new version starts inactive.
func (s *Service) CreateVersion(ctx context.Context, flowID string, graph *models.Graph, createdBy string, metadata map[string]any) (*models.FlowVersion, error) {
	if graph == nil {
		return nil, ErrGraphRequired
	}

	_, err := s.persistence.Flows().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	for _, node := range graph.Nodes {
		err := s.catalog.Validate(node)
		if err != nil {
			return nil, err
		}
	}

	err = graph.Validate()
	if err != nil {
		return nil, err
	}

	number, err := s.persistence.Versions().NextVersionNumber(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate version number: %w", err)
	}

	version := &models.FlowVersion{
		ID:            uuid.New().String(),
		FlowID:        flowID,
		VersionNumber: number,
		Graph:         graph,
		CreatedBy:     createdBy,
		Metadata:      metadata,
		CreatedAt:     time.Now().UTC(),
	}

	err = s.persistence.Versions().Save(ctx, version)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Created flow version",
		"flow_id", flowID, "version_id", version.ID, "version_number", number)

	return version, nil
}

// Activate atomically makes the given version the one answering new
// conversations. Sessions already running stay on the version they started
// with.
func (s *Service) Activate(ctx context.Context, flowID, versionID string) (*models.FlowVersion, error) {
	err := s.persistence.Versions().Activate(ctx, flowID, versionID)
	if err != nil {
		return nil, err
	}

	version, err := s.persistence.Versions().GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Activated flow version",
		"flow_id", flowID, "version_id", versionID, "version_number", version.VersionNumber)

	if s.publisher != nil {
		event := events.FlowVersionActivated{
			BaseEvent:     events.NewBaseEvent(events.FlowVersionActivatedEvent, ""),
			FlowID:        flowID,
			FlowVersionID: versionID,
			VersionNumber: version.VersionNumber,
		}

		err = s.publisher.Publish(ctx, flowID, event)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish activation event", "error", err)
		}
	}

	return version, nil
}

// Active returns the version currently answering new conversations.
func (s *Service) Active(ctx context.Context, flowID string) (*models.FlowVersion, error) {
	return s.persistence.Versions().Active(ctx, flowID)
}

// Get returns a version by id, active or not. Old versions stay readable for
// the audit log.
func (s *Service) Get(ctx context.Context, versionID string) (*models.FlowVersion, error) {
	return s.persistence.Versions().GetByID(ctx, versionID)
}

// List returns a flow's version history, oldest first.
func (s *Service) List(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	return s.persistence.Versions().ListByFlow(ctx, flowID)
}

// IsValidationError reports whether err is a graph or node config problem
// the caller can fix, as opposed to a storage failure.
func IsValidationError(err error) bool {
	var graphErr *models.GraphError

	var configErr *catalog.ConfigError

	return errors.Is(err, ErrGraphRequired) ||
		errors.As(err, &graphErr) ||
		errors.As(err, &configErr)
}
