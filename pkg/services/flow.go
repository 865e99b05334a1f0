package services

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flowzap/flowzap/pkg/flow"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

// ErrFlowNotFound is returned when a flow is not found.
var ErrFlowNotFound = persistence.ErrFlowNotFound

// Flow manages flow parent records and delegates version authoring to the
// versioning service.
type Flow struct {
	persistence persistence.Persistence
	versions    *flow.Service
	validator   *validator.Validate
}

func NewFlow(p persistence.Persistence, versions *flow.Service) *Flow {
	return &Flow{
		persistence: p,
		versions:    versions,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateFlowRequest carries the fields a client may set on a new flow.
type CreateFlowRequest struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	Name           string `json:"name"            validate:"required,min=3"`
	Description    string `json:"description"`
	CreatedBy      string `json:"created_by"`
}

// Create adds a new flow with no versions yet.
func (s *Flow) Create(ctx context.Context, req CreateFlowRequest) (*models.Flow, error) {
	err := s.validator.Struct(req)
	if err != nil {
		return nil, NewValidationError("CreateFlow", "INVALID_FLOW", err.Error(), ErrInvalidRequest)
	}

	now := time.Now().UTC()
	f := &models.Flow{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.persistence.Flows().Save(ctx, f)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// UpdateFlowRequest carries the mutable fields of a flow. The active version
// pointer is managed exclusively through activation.
type UpdateFlowRequest struct {
	Name        string `json:"name"        validate:"required,min=3"`
	Description string `json:"description"`
}

// Update renames or re-describes an existing flow.
func (s *Flow) Update(ctx context.Context, id string, req UpdateFlowRequest) (*models.Flow, error) {
	err := s.validator.Struct(req)
	if err != nil {
		return nil, NewValidationError("UpdateFlow", "INVALID_FLOW", err.Error(), ErrInvalidRequest)
	}

	f, err := s.persistence.Flows().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	f.Name = req.Name
	f.Description = req.Description
	f.UpdatedAt = time.Now().UTC()

	err = s.persistence.Flows().Save(ctx, f)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// List returns the organization's flows.
func (s *Flow) List(ctx context.Context, organizationID string) ([]*models.Flow, error) {
	if organizationID == "" {
		return nil, ErrOrganizationRequired
	}

	return s.persistence.Flows().List(ctx, organizationID)
}

// Fetch retrieves a flow by its ID.
func (s *Flow) Fetch(ctx context.Context, id string) (*models.Flow, error) {
	return s.persistence.Flows().GetByID(ctx, id)
}

// Delete soft-deletes a flow. Versions and log entries referencing them are
// retained.
func (s *Flow) Delete(ctx context.Context, id string) error {
	return s.persistence.Flows().Delete(ctx, id)
}

// CreateVersion snapshots a new immutable version of the flow's graph.
func (s *Flow) CreateVersion(ctx context.Context, flowID string, graph *models.Graph, createdBy string, metadata map[string]any) (*models.FlowVersion, error) {
	return s.versions.CreateVersion(ctx, flowID, graph, createdBy, metadata)
}

// Activate makes the given version the flow's single active one.
func (s *Flow) Activate(ctx context.Context, flowID, versionID string) (*models.FlowVersion, error) {
	return s.versions.Activate(ctx, flowID, versionID)
}

// ListVersions returns all versions of a flow, newest first.
func (s *Flow) ListVersions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	return s.versions.List(ctx, flowID)
}

// FetchVersion retrieves one version by its ID, active or not.
func (s *Flow) FetchVersion(ctx context.Context, versionID string) (*models.FlowVersion, error) {
	return s.versions.Get(ctx, versionID)
}

// ActiveVersion returns the flow's active version.
func (s *Flow) ActiveVersion(ctx context.Context, flowID string) (*models.FlowVersion, error) {
	return s.versions.Active(ctx, flowID)
}
