package models

import "time"

// Flow is the mutable parent record of an automation. The actual node/edge
// definition lives in immutable FlowVersion snapshots; CurrentVersionID
// denormalizes the active version for fast lookup and must always match the
// version carrying is_active, or be empty when none was activated yet.
type Flow struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organization_id" validate:"required"`
	Name             string     `json:"name"            validate:"required,min=3"`
	Description      string     `json:"description"`
	CurrentVersionID string     `json:"current_version_id,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// FlowVersion is an immutable snapshot of a flow's graph. Versions are
// created on every save, never mutated afterwards, and retained indefinitely
// while referenced by log entries. At most one version per flow is active.
type FlowVersion struct {
	ID            string         `json:"id"`
	FlowID        string         `json:"flow_id"        validate:"required"`
	VersionNumber int            `json:"version_number" validate:"min=1"`
	Graph         *Graph         `json:"graph"          validate:"required"`
	IsActive      bool           `json:"is_active"`
	CreatedBy     string         `json:"created_by"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
