package models

import "fmt"

// Edge is a directed connection from a source node's output port to a target
// node. Non-condition nodes have the single implicit port "main"; condition
// nodes have one port per configured option, keyed by option id.
type Edge struct {
	ID         string `json:"id"`
	SourceNode string `json:"source_node" validate:"required"`
	SourcePort string `json:"source_port"`
	TargetNode string `json:"target_node" validate:"required"`
}

// Graph is the node/edge set of one flow version. Graphs embedded in a
// FlowVersion are immutable; mutation helpers return a copy.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// GraphErrorCode classifies structural graph defects.
type GraphErrorCode string

const (
	GraphDuplicateNodeID  GraphErrorCode = "duplicate_node_id"
	GraphDanglingEdge     GraphErrorCode = "dangling_edge"
	GraphUnknownPort      GraphErrorCode = "unknown_port"
	GraphMissingTrigger   GraphErrorCode = "missing_trigger"
	GraphMultipleOutgoing GraphErrorCode = "multiple_outgoing"
	GraphUnsafeCycle      GraphErrorCode = "unsafe_cycle"
)

// GraphError describes a structural defect that makes a graph unfit for
// activation. Structural errors are rejected before persistence.
type GraphError struct {
	Code   GraphErrorCode
	NodeID string
	EdgeID string
	Detail string
}

func (e *GraphError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("invalid graph (%s) at node %s: %s", e.Code, e.NodeID, e.Detail)
	case e.EdgeID != "":
		return fmt.Sprintf("invalid graph (%s) at edge %s: %s", e.Code, e.EdgeID, e.Detail)
	default:
		return fmt.Sprintf("invalid graph (%s): %s", e.Code, e.Detail)
	}
}

// AddNode returns a new graph with the node appended. The receiver is not
// modified.
func (g *Graph) AddNode(node *Node) *Graph {
	next := g.clone()
	next.Nodes = append(next.Nodes, node)

	return next
}

// AddEdge returns a new graph with the edge appended. The receiver is not
// modified.
func (g *Graph) AddEdge(edge *Edge) *Graph {
	next := g.clone()
	next.Edges = append(next.Edges, edge)

	return next
}

func (g *Graph) clone() *Graph {
	next := &Graph{
		Nodes: make([]*Node, len(g.Nodes)),
		Edges: make([]*Edge, len(g.Edges)),
	}
	copy(next.Nodes, g.Nodes)
	copy(next.Edges, g.Edges)

	return next
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// Triggers returns all trigger nodes in insertion order.
func (g *Graph) Triggers() []*Node {
	triggers := make([]*Node, 0)

	for _, node := range g.Nodes {
		if node.IsTrigger() {
			triggers = append(triggers, node)
		}
	}

	return triggers
}

// Outgoing returns the target node ids reachable from the given node through
// the given output port. The empty port key means the default port.
func (g *Graph) Outgoing(nodeID, port string) []string {
	if port == "" {
		port = DefaultPort
	}

	targets := make([]string, 0, 1)

	for _, edge := range g.Edges {
		edgePort := edge.SourcePort
		if edgePort == "" {
			edgePort = DefaultPort
		}

		if edge.SourceNode == nodeID && edgePort == port {
			targets = append(targets, edge.TargetNode)
		}
	}

	return targets
}

// Validate checks the structural invariants of the graph: unique node ids,
// no dangling edges, valid source ports, single outgoing edge per port, at
// least one trigger node, and no unbounded cycles. Node configuration
// payloads are validated separately by the catalog.
func (g *Graph) Validate() error {
	seen := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		if seen[node.ID] {
			return &GraphError{Code: GraphDuplicateNodeID, NodeID: node.ID, Detail: "node id used more than once"}
		}

		seen[node.ID] = true
	}

	if len(g.Triggers()) == 0 {
		return &GraphError{Code: GraphMissingTrigger, Detail: "graph has no trigger node"}
	}

	if err := g.validateEdges(); err != nil {
		return err
	}

	return g.validateCycles()
}

func (g *Graph) validateEdges() error {
	// port usage per source node, to reject fan-out outside condition options
	used := make(map[string]string)

	for _, edge := range g.Edges {
		source := g.Node(edge.SourceNode)
		if source == nil {
			return &GraphError{Code: GraphDanglingEdge, EdgeID: edge.ID, Detail: "source node " + edge.SourceNode + " does not exist"}
		}

		if g.Node(edge.TargetNode) == nil {
			return &GraphError{Code: GraphDanglingEdge, EdgeID: edge.ID, Detail: "target node " + edge.TargetNode + " does not exist"}
		}

		if !source.HasPort(edge.SourcePort) {
			return &GraphError{Code: GraphUnknownPort, EdgeID: edge.ID, Detail: fmt.Sprintf("node %s has no output port %q", edge.SourceNode, edge.SourcePort)}
		}

		port := edge.SourcePort
		if port == "" {
			port = DefaultPort
		}

		key := edge.SourceNode + ":" + port
		if used[key] != "" {
			return &GraphError{Code: GraphMultipleOutgoing, NodeID: edge.SourceNode, Detail: "port " + port + " has more than one outgoing edge"}
		}

		used[key] = edge.ID
	}

	return nil
}

// validateCycles rejects cycles that an interpreter could loop through
// without bound. A cycle is accepted only when it contains a suspending node
// (wait or human) or a condition node with a branch leaving the cycle.
func (g *Graph) validateCycles() error {
	for _, component := range g.stronglyConnected() {
		if len(component) == 1 && !g.hasSelfLoop(component[0]) {
			continue
		}

		if g.cycleIsSafe(component) {
			continue
		}

		return &GraphError{
			Code:   GraphUnsafeCycle,
			NodeID: component[0],
			Detail: "cycle contains no wait, human, or exiting condition branch",
		}
	}

	return nil
}

func (g *Graph) hasSelfLoop(nodeID string) bool {
	for _, edge := range g.Edges {
		if edge.SourceNode == nodeID && edge.TargetNode == nodeID {
			return true
		}
	}

	return false
}

func (g *Graph) cycleIsSafe(component []string) bool {
	inCycle := make(map[string]bool, len(component))
	for _, id := range component {
		inCycle[id] = true
	}

	for _, id := range component {
		node := g.Node(id)
		if node.Suspends() {
			return true
		}

		if node.Kind == NodeKindCondition {
			for _, port := range node.Ports() {
				for _, target := range g.Outgoing(id, port) {
					if !inCycle[target] {
						return true
					}
				}
			}
		}
	}

	return false
}

// stronglyConnected returns the strongly connected components of the graph
// (Tarjan), used for cycle detection.
func (g *Graph) stronglyConnected() [][]string {
	index := 0
	indices := make(map[string]int, len(g.Nodes))
	lowlink := make(map[string]int, len(g.Nodes))
	onStack := make(map[string]bool, len(g.Nodes))
	stack := make([]string, 0, len(g.Nodes))

	var components [][]string

	adjacency := make(map[string][]string, len(g.Nodes))
	for _, edge := range g.Edges {
		adjacency[edge.SourceNode] = append(adjacency[edge.SourceNode], edge.TargetNode)
	}

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++

		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adjacency[v] {
			if _, visited := indices[w]; !visited {
				strongconnect(w)

				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indices[w] < lowlink[v] {
				lowlink[v] = indices[w]
			}
		}

		if lowlink[v] == indices[v] {
			var component []string

			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)

				if w == v {
					break
				}
			}

			components = append(components, component)
		}
	}

	for _, node := range g.Nodes {
		if _, visited := indices[node.ID]; !visited {
			strongconnect(node.ID)
		}
	}

	return components
}
