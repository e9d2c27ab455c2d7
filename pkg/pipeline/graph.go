package pipeline

import (
	"github.com/scrabsha/tremor-runtime/pkg/op"
)

// GraphOutput marks a Target that leaves the graph through a declared
// output port instead of reaching another operator.
const GraphOutput = -1

// Target is one resolved destination of a connection: either an
// operator node (by arena index) and the input port it listens on, or a
// graph output port.
type Target struct {
	Node int
	Port string
}

// IsOutput reports whether the target is a graph output port.
func (t Target) IsOutput() bool {
	return t.Node == GraphOutput
}

type node struct {
	id       string
	operator op.Operator
	// targets per output port, in connection declaration order.
	targets map[string][]Target
	// upstream holds the reverse adjacency: the arena indices of nodes
	// feeding this one, deduplicated, in declaration order.
	upstream []int
}

// Graph is a compiled, executable topology: an arena of operator nodes
// with a fixed topological order and precomputed forward and reverse
// adjacency. A Graph is owned by exactly one pipeline instance and is
// never shared.
type Graph struct {
	spec    *Spec
	nodes   []*node
	index   map[string]int
	entries map[string][]Target
	order   []int
	reverse []int
}

// ID returns the graph's declared identifier.
func (g *Graph) ID() string {
	return g.spec.ID
}

// Inputs returns the declared graph-level input port names.
func (g *Graph) Inputs() []string {
	return g.spec.Inputs
}

// Outputs returns the declared graph-level output port names.
func (g *Graph) Outputs() []string {
	return g.spec.Outputs
}

// Entries resolves a graph input port to its bound targets.
func (g *Graph) Entries(port string) ([]Target, bool) {
	targets, ok := g.entries[port]
	return targets, ok
}

// NumNodes returns the arena size.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// Operator returns the operator at the given arena index.
func (g *Graph) Operator(i int) op.Operator {
	return g.nodes[i].operator
}

// NodeID returns the declared id of the node at the given arena index.
func (g *Graph) NodeID(i int) string {
	return g.nodes[i].id
}

// Targets resolves a node's output port to its downstream targets in
// declaration order. Unconnected ports resolve to nothing: events
// emitted there are dropped.
func (g *Graph) Targets(i int, port string) []Target {
	return g.nodes[i].targets[port]
}

// Upstream returns the reverse adjacency of a node.
func (g *Graph) Upstream(i int) []int {
	return g.nodes[i].upstream
}

// Order returns the arena indices in topological order.
func (g *Graph) Order() []int {
	return g.order
}

// ReverseOrder returns the arena indices in reverse topological order,
// the traversal used by contraflow.
func (g *Graph) ReverseOrder() []int {
	return g.reverse
}
