// Package testutil provides graph builders shared by tests across packages.
package testutil

import (
	"github.com/flowzap/flowzap/pkg/models"
)

// TriggerNode builds a trigger node. An empty keyword matches any inbound text.
func TriggerNode(id, keyword string) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindTrigger,
		Config: models.NodeConfig{Trigger: &models.TriggerConfig{Keyword: keyword}},
	}
}

func MessageNode(id, text string) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindMessage,
		Config: models.NodeConfig{Message: &models.MessageConfig{Text: text}},
	}
}

func MediaNode(id, url string) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindMedia,
		Config: models.NodeConfig{Media: &models.MediaConfig{URL: url}},
	}
}

func ConditionNode(id string, options ...models.ConditionOption) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindCondition,
		Config: models.NodeConfig{Condition: &models.ConditionConfig{Options: options}},
	}
}

func WaitNode(id string, seconds int) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindWait,
		Config: models.NodeConfig{Wait: &models.WaitConfig{Seconds: seconds}},
	}
}

func HumanNode(id, instruction string) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindHuman,
		Config: models.NodeConfig{Human: &models.HumanConfig{Instruction: instruction}},
	}
}

func VariableNode(id, name, value string) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindVariable,
		Config: models.NodeConfig{Variable: &models.VariableConfig{Name: name, Value: value}},
	}
}

// Edge connects source's port to target.
func Edge(id, source, port, target string) *models.Edge {
	return &models.Edge{ID: id, SourceNode: source, SourcePort: port, TargetNode: target}
}

// Graph assembles nodes and edges into a graph.
func Graph(nodes []*models.Node, edges []*models.Edge) *models.Graph {
	return &models.Graph{Nodes: nodes, Edges: edges}
}

// LinearGraph chains the given nodes with default-port edges, in order.
func LinearGraph(nodes ...*models.Node) *models.Graph {
	graph := &models.Graph{Nodes: nodes}
	for i := 0; i+1 < len(nodes); i++ {
		graph.Edges = append(graph.Edges, &models.Edge{
			ID:         "e" + nodes[i].ID + nodes[i+1].ID,
			SourceNode: nodes[i].ID,
			SourcePort: models.DefaultPort,
			TargetNode: nodes[i+1].ID,
		})
	}

	return graph
}
