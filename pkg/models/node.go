// Package models defines the core domain models for WhatsApp flow automation.
package models

// NodeKind represents the type of a flow node.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"   // Entry point, matches inbound keywords/events
	NodeKindMessage   NodeKind = "message"   // Sends one outbound text message
	NodeKindMedia     NodeKind = "media"     // Sends one outbound media message
	NodeKindCondition NodeKind = "condition" // Branches on the inbound reply
	NodeKindHTTP      NodeKind = "http"      // Performs one outbound HTTP call
	NodeKindVariable  NodeKind = "variable"  // Mutates session variable bindings
	NodeKindWait      NodeKind = "wait"      // Suspends the session on a durable timer
	NodeKindHuman     NodeKind = "human"     // Suspends the session for a live operator
)

// DefaultPort is the single output port of every non-condition node.
const DefaultPort = "main"

// Node is one step in a flow graph. The configuration is a tagged union:
// exactly one payload must be set, and it must match Kind.
type Node struct {
	ID        string     `json:"id"         validate:"required"`
	Kind      NodeKind   `json:"kind"       validate:"required"`
	Label     string     `json:"label,omitempty"`
	PositionX int        `json:"position_x"` // Editor layout only, ignored by the engine
	PositionY int        `json:"position_y"`
	Config    NodeConfig `json:"config"`
}

// NodeConfig holds the kind-specific configuration payload. Node.Kind is the
// discriminant; the matching pointer must be non-nil and all others nil.
type NodeConfig struct {
	Trigger   *TriggerConfig   `json:"trigger,omitempty"`
	Message   *MessageConfig   `json:"message,omitempty"`
	Media     *MediaConfig     `json:"media,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	HTTP      *HTTPConfig      `json:"http,omitempty"`
	Variable  *VariableConfig  `json:"variable,omitempty"`
	Wait      *WaitConfig      `json:"wait,omitempty"`
	Human     *HumanConfig     `json:"human,omitempty"`
}

// TriggerConfig configures a trigger node. An empty keyword matches any
// inbound message.
type TriggerConfig struct {
	Keyword string `json:"keyword"`
}

// MessageConfig configures a message node. Text may reference session
// variables with {{.name}} template syntax.
type MessageConfig struct {
	Text string `json:"text"`
}

// MediaConfig configures a media node.
type MediaConfig struct {
	URL string `json:"url"`
}

// ConditionOption is one labeled branch of a condition node. The option ID is
// also the node's output port key for that branch.
type ConditionOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ConditionConfig configures a condition node.
type ConditionConfig struct {
	Options []ConditionOption `json:"options"`
}

// HTTPConfig configures an http node. URL and Payload may reference session
// variables. When ResponseVar is set, the response body is bound to that
// session variable.
type HTTPConfig struct {
	URL         string `json:"url"`
	Method      string `json:"method"`
	Payload     string `json:"payload,omitempty"`
	ResponseVar string `json:"response_var,omitempty"`
}

// VariableConfig configures a variable node. Value is a literal or a
// template rendered against the session variables.
type VariableConfig struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WaitConfig configures a wait node.
type WaitConfig struct {
	Seconds int `json:"seconds"`
}

// HumanConfig configures a human handoff node.
type HumanConfig struct {
	Instruction string `json:"instruction"`
}

// IsTrigger reports whether the node is a flow entry point.
func (n *Node) IsTrigger() bool {
	return n.Kind == NodeKindTrigger
}

// Suspends reports whether executing the node yields control instead of
// advancing synchronously.
func (n *Node) Suspends() bool {
	return n.Kind == NodeKindWait || n.Kind == NodeKindHuman
}

// Ports returns the output port keys of the node: one port per option for
// condition nodes, the default port for everything else.
func (n *Node) Ports() []string {
	if n.Kind == NodeKindCondition && n.Config.Condition != nil {
		ports := make([]string, 0, len(n.Config.Condition.Options))
		for _, opt := range n.Config.Condition.Options {
			ports = append(ports, opt.ID)
		}

		return ports
	}

	return []string{DefaultPort}
}

// HasPort reports whether key is a valid output port for the node. The empty
// key is treated as the default port.
func (n *Node) HasPort(key string) bool {
	if key == "" {
		key = DefaultPort
	}

	for _, port := range n.Ports() {
		if port == key {
			return true
		}
	}

	return false
}
