// Package web provides the HTTP handlers and request/response types of the
// flow management API.
package web

import (
	"time"

	"github.com/flowzap/flowzap/pkg/models"
)

// CreateVersionRequest carries the graph snapshot for a new flow version.
type CreateVersionRequest struct {
	Graph     *models.Graph  `json:"graph"     validate:"required"`
	CreatedBy string         `json:"created_by"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// OperatorRequest identifies who performed a manual session action.
type OperatorRequest struct {
	Operator string `json:"operator" validate:"required"`
}

// InstanceResponse is the read shape of an instance. The stored auth token is
// deliberately absent: it is write-once at creation and never echoed back.
type InstanceResponse struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	ExternalID     string    `json:"external_id"`
	Status         string    `json:"status"`
	WebhookURL     string    `json:"webhook_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TransformInstanceResponse maps an instance onto its read shape.
func TransformInstanceResponse(instance *models.Instance) InstanceResponse {
	return InstanceResponse{
		ID:             instance.ID,
		OrganizationID: instance.OrganizationID,
		Name:           instance.Name,
		ExternalID:     instance.ExternalID,
		Status:         string(instance.Status),
		WebhookURL:     instance.WebhookURL,
		CreatedAt:      instance.CreatedAt,
		UpdatedAt:      instance.UpdatedAt,
	}
}

// TransformInstanceResponses maps a list of instances onto read shapes.
func TransformInstanceResponses(instances []*models.Instance) []InstanceResponse {
	responses := make([]InstanceResponse, 0, len(instances))
	for _, instance := range instances {
		responses = append(responses, TransformInstanceResponse(instance))
	}

	return responses
}

// VersionSummary is the list shape of a flow version: everything but the
// graph, which can be large.
type VersionSummary struct {
	ID            string    `json:"id"`
	FlowID        string    `json:"flow_id"`
	VersionNumber int       `json:"version_number"`
	IsActive      bool      `json:"is_active"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	NodeCount     int       `json:"node_count"`
}

// TransformVersionSummary maps a version onto its list shape.
func TransformVersionSummary(version *models.FlowVersion) VersionSummary {
	summary := VersionSummary{
		ID:            version.ID,
		FlowID:        version.FlowID,
		VersionNumber: version.VersionNumber,
		IsActive:      version.IsActive,
		CreatedBy:     version.CreatedBy,
		CreatedAt:     version.CreatedAt,
	}

	if version.Graph != nil {
		summary.NodeCount = len(version.Graph.Nodes)
	}

	return summary
}
