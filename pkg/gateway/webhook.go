package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowzap/flowzap/pkg/events"
)

const messageEvent = "message"

var (
	ErrUnknownWebhookEvent = errors.New("unknown webhook event")
	ErrMissingContact      = errors.New("webhook payload has no contact")
)

// WebhookPayload is the provider's inbound callback body.
type WebhookPayload struct {
	Event       string         `json:"event"`
	Instance    string         `json:"instance"`
	Contact     string         `json:"contact"`
	MessageType string         `json:"type"`
	Content     map[string]any `json:"content"`
}

// Text returns the message text for text-like payloads, or the option label
// for interactive replies. Empty for media-only messages.
func (p *WebhookPayload) Text() string {
	for _, key := range []string{"text", "label"} {
		if value, ok := p.Content[key].(string); ok {
			return value
		}
	}

	return ""
}

// ParseWebhook decodes and validates a provider callback. Only message
// events become engine input; everything else is rejected for the caller to
// acknowledge and drop.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	payload := &WebhookPayload{}

	err := json.Unmarshal(body, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	if payload.Event != messageEvent {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWebhookEvent, payload.Event)
	}

	if payload.Contact == "" {
		return nil, ErrMissingContact
	}

	if payload.MessageType == "" {
		payload.MessageType = "text"
	}

	return payload, nil
}

// ToEvent converts the payload into the engine's inbound event. The caller
// supplies the resolved internal instance id; the webhook only knows the
// provider-side name.
func (p *WebhookPayload) ToEvent(instanceID string) *events.InboundReceived {
	return &events.InboundReceived{
		BaseEvent:   events.NewBaseEvent(events.InboundReceivedEvent, instanceID),
		Contact:     p.Contact,
		MessageType: p.MessageType,
		Text:        p.Text(),
		Payload:     p.Content,
	}
}
