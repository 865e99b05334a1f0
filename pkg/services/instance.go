package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flowzap/flowzap/pkg/gateway"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

// ErrInstanceNotFound is returned when an instance is not found.
var ErrInstanceNotFound = persistence.ErrInstanceNotFound

// GatewayAPI is the provider surface the instance service needs. The gateway
// client satisfies it.
type GatewayAPI interface {
	StartSession(ctx context.Context, instance string) (*gateway.SessionInfo, error)
	QRCode(ctx context.Context, instance string) (*gateway.QRCode, error)
}

// Instance manages messaging-gateway instances. The auth token is write-once:
// it can be set at creation, is used for provider calls, and is never exposed
// or updatable afterwards.
type Instance struct {
	persistence persistence.Persistence
	gateway     GatewayAPI
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewInstance(p persistence.Persistence, gw GatewayAPI, logger *slog.Logger) *Instance {
	return &Instance{
		persistence: p,
		gateway:     gw,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "instance"),
	}
}

// CreateInstanceRequest carries the fields a client may set on a new
// instance. AuthToken is accepted here and nowhere else.
type CreateInstanceRequest struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	Name           string `json:"name"            validate:"required,min=3"`
	ExternalID     string `json:"external_id"`
	AuthToken      string `json:"auth_token"`
	WebhookURL     string `json:"webhook_url"`
}

// Create registers a new instance in the disconnected state.
func (s *Instance) Create(ctx context.Context, req CreateInstanceRequest) (*models.Instance, error) {
	err := s.validator.Struct(req)
	if err != nil {
		return nil, NewValidationError("CreateInstance", "INVALID_INSTANCE", err.Error(), ErrInvalidRequest)
	}

	now := time.Now().UTC()
	instance := &models.Instance{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		ExternalID:     req.ExternalID,
		AuthToken:      req.AuthToken,
		WebhookURL:     req.WebhookURL,
		Status:         models.InstanceStatusDisconnected,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if instance.ExternalID == "" {
		instance.ExternalID = instance.ID
	}

	err = s.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// UpdateInstanceRequest carries the mutable fields of an instance. There is
// no token field here on purpose.
type UpdateInstanceRequest struct {
	Name       string `json:"name" validate:"required,min=3"`
	WebhookURL string `json:"webhook_url"`
}

// Update renames an instance or repoints its webhook.
func (s *Instance) Update(ctx context.Context, id string, req UpdateInstanceRequest) (*models.Instance, error) {
	err := s.validator.Struct(req)
	if err != nil {
		return nil, NewValidationError("UpdateInstance", "INVALID_INSTANCE", err.Error(), ErrInvalidRequest)
	}

	instance, err := s.persistence.Instances().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	instance.Name = req.Name
	instance.WebhookURL = req.WebhookURL
	instance.UpdatedAt = time.Now().UTC()

	err = s.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// List returns the organization's instances.
func (s *Instance) List(ctx context.Context, organizationID string) ([]*models.Instance, error) {
	if organizationID == "" {
		return nil, ErrOrganizationRequired
	}

	return s.persistence.Instances().List(ctx, organizationID)
}

// Fetch retrieves an instance by its ID.
func (s *Instance) Fetch(ctx context.Context, id string) (*models.Instance, error) {
	return s.persistence.Instances().GetByID(ctx, id)
}

// Delete removes an instance. Sessions and log entries keep their instance id
// for history.
func (s *Instance) Delete(ctx context.Context, id string) error {
	return s.persistence.Instances().Delete(ctx, id)
}

// Connect asks the provider to open the instance's session and records the
// resulting connection state.
func (s *Instance) Connect(ctx context.Context, id string) (*gateway.SessionInfo, error) {
	instance, err := s.persistence.Instances().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := s.gateway.StartSession(ctx, instance.ExternalID)
	if err != nil {
		return nil, err
	}

	status := models.InstanceStatusDisconnected
	if info.Status == "connected" || info.Status == "open" {
		status = models.InstanceStatusConnected
	}

	if instance.Status != status {
		instance.Status = status
		instance.UpdatedAt = time.Now().UTC()

		err = s.persistence.Instances().Save(ctx, instance)
		if err != nil {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "Instance session started",
		"instance_id", instance.ID, "status", info.Status)

	return info, nil
}

// PairingCode fetches the QR code a disconnected instance needs for pairing.
func (s *Instance) PairingCode(ctx context.Context, id string) (*gateway.QRCode, error) {
	instance, err := s.persistence.Instances().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if instance.Status == models.InstanceStatusConnected {
		return nil, ErrInstanceConnected
	}

	return s.gateway.QRCode(ctx, instance.ExternalID)
}
