// Package catalog is the registry of node kinds: it maps each kind to its
// configuration schema and validates node configuration payloads before a
// graph is persisted. Validation happens at version-creation time, never at
// runtime.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowzap/flowzap/pkg/models"
)

// ConfigError describes an invalid node configuration. Config errors are
// rejected at validation time and never surface during execution.
type ConfigError struct {
	NodeID string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration for node %s, field %q: %s", e.NodeID, e.Field, e.Reason)
	}

	return fmt.Sprintf("invalid configuration for node %s: %s", e.NodeID, e.Reason)
}

// Catalog holds the fixed set of supported node kinds. It is stateless and
// side-effect free; both version creation and the editor call it before save.
type Catalog struct {
	schemas map[models.NodeKind]map[string]any
}

// New returns a catalog with all built-in node kinds registered.
func New() *Catalog {
	return &Catalog{schemas: builtinSchemas()}
}

// Kinds returns the registered node kinds.
func (c *Catalog) Kinds() []models.NodeKind {
	kinds := make([]models.NodeKind, 0, len(c.schemas))
	for kind := range c.schemas {
		kinds = append(kinds, kind)
	}

	return kinds
}

// Schema returns the JSON schema of a node kind's configuration payload.
func (c *Catalog) Schema(kind models.NodeKind) (map[string]any, bool) {
	schema, ok := c.schemas[kind]

	return schema, ok
}

// Validate checks a node's configuration payload: the kind must be
// registered, exactly the matching payload must be set, the payload must
// satisfy the kind's JSON schema, and kind-specific semantic rules must hold.
func (c *Catalog) Validate(node *models.Node) error {
	schema, ok := c.schemas[node.Kind]
	if !ok {
		return &ConfigError{NodeID: node.ID, Field: "kind", Reason: fmt.Sprintf("unknown node kind %q", node.Kind)}
	}

	payload, err := c.payload(node)
	if err != nil {
		return err
	}

	if err := validateSchema(node, schema, payload); err != nil {
		return err
	}

	return c.validateSemantics(node)
}

// payload extracts the tagged-union member matching the node kind and rejects
// nodes carrying no payload or more than one.
func (c *Catalog) payload(node *models.Node) (any, error) {
	set := make(map[models.NodeKind]any, 1)

	cfg := node.Config
	if cfg.Trigger != nil {
		set[models.NodeKindTrigger] = cfg.Trigger
	}

	if cfg.Message != nil {
		set[models.NodeKindMessage] = cfg.Message
	}

	if cfg.Media != nil {
		set[models.NodeKindMedia] = cfg.Media
	}

	if cfg.Condition != nil {
		set[models.NodeKindCondition] = cfg.Condition
	}

	if cfg.HTTP != nil {
		set[models.NodeKindHTTP] = cfg.HTTP
	}

	if cfg.Variable != nil {
		set[models.NodeKindVariable] = cfg.Variable
	}

	if cfg.Wait != nil {
		set[models.NodeKindWait] = cfg.Wait
	}

	if cfg.Human != nil {
		set[models.NodeKindHuman] = cfg.Human
	}

	if len(set) != 1 {
		return nil, &ConfigError{NodeID: node.ID, Field: "config", Reason: fmt.Sprintf("expected exactly one configuration payload, found %d", len(set))}
	}

	payload, ok := set[node.Kind]
	if !ok {
		return nil, &ConfigError{NodeID: node.ID, Field: "config", Reason: fmt.Sprintf("configuration payload does not match node kind %q", node.Kind)}
	}

	return payload, nil
}

func validateSchema(node *models.Node, schema map[string]any, payload any) error {
	// Round-trip through JSON so gojsonschema sees plain maps instead of
	// typed structs.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for node %s: %w", node.ID, err)
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to unmarshal configuration for node %s: %w", node.ID, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed for node %s: %w", node.ID, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		// Attribute the error to the offending field so callers can point
		// at it; "(root)" means the payload as a whole.
		field := result.Errors()[0].Field()
		if field == "(root)" {
			field = "config"
		}

		return &ConfigError{NodeID: node.ID, Field: field, Reason: strings.Join(details, "; ")}
	}

	return nil
}

func (c *Catalog) validateSemantics(node *models.Node) error {
	switch node.Kind {
	case models.NodeKindCondition:
		return validateCondition(node)
	case models.NodeKindWait:
		if node.Config.Wait.Seconds < 1 {
			return &ConfigError{NodeID: node.ID, Field: "seconds", Reason: "wait duration must be at least 1 second"}
		}
	case models.NodeKindHTTP:
		return validateHTTP(node)
	case models.NodeKindVariable:
		if strings.TrimSpace(node.Config.Variable.Name) == "" {
			return &ConfigError{NodeID: node.ID, Field: "name", Reason: "variable name is required"}
		}
	case models.NodeKindTrigger, models.NodeKindMessage, models.NodeKindMedia, models.NodeKindHuman:
		// Fully covered by the JSON schema.
	}

	return nil
}

func validateCondition(node *models.Node) error {
	options := node.Config.Condition.Options
	if len(options) < 1 {
		return &ConfigError{NodeID: node.ID, Field: "options", Reason: "condition requires at least one option"}
	}

	seen := make(map[string]bool, len(options))

	for _, option := range options {
		if option.ID == "" {
			return &ConfigError{NodeID: node.ID, Field: "options", Reason: "option id must not be empty"}
		}

		if seen[option.ID] {
			return &ConfigError{NodeID: node.ID, Field: "options", Reason: fmt.Sprintf("option id %q used more than once", option.ID)}
		}

		seen[option.ID] = true
	}

	return nil
}

func validateHTTP(node *models.Node) error {
	cfg := node.Config.HTTP

	if strings.TrimSpace(cfg.URL) == "" {
		return &ConfigError{NodeID: node.ID, Field: "url", Reason: "target URL is required"}
	}

	switch cfg.Method {
	case "GET", "POST", "PUT", "DELETE":
		return nil
	default:
		return &ConfigError{NodeID: node.ID, Field: "method", Reason: fmt.Sprintf("unsupported method %q", cfg.Method)}
	}
}
