package models

import "time"

// InstanceStatus represents the connection state of a gateway instance.
type InstanceStatus string

const (
	InstanceStatusConnected    InstanceStatus = "connected"
	InstanceStatusDisconnected InstanceStatus = "disconnected"
)

// Instance is one messaging-gateway connection owned by a tenant. AuthToken
// is write-once: it is persisted and used for gateway calls but must never
// appear in any read API response (the web layer maps instances onto DTOs
// without it).
type Instance struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id" validate:"required"`
	Name           string         `json:"name"            validate:"required,min=3"`
	ExternalID     string         `json:"external_id"`
	AuthToken      string         `json:"auth_token,omitempty"`
	Status         InstanceStatus `json:"status"`
	WebhookURL     string         `json:"webhook_url,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
