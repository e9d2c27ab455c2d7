package pipeline

import (
	"fmt"

	"github.com/scrabsha/tremor-runtime/pkg/op"
)

// Build validates the spec against the instantiated operators and
// compiles the executable graph. Operators must be supplied in spec
// declaration order, one per OperatorSpec, already configured.
//
// Build fails with a *TopologyError when a connection references a port
// that does not exist, a node is unreachable from every graph input, or
// the operator-to-operator edges contain a cycle.
func Build(spec *Spec, operators []op.Operator) (*Graph, error) {
	if len(operators) != len(spec.Operators) {
		return nil, fmt.Errorf("build graph %q: %d operators supplied for %d declarations", spec.ID, len(operators), len(spec.Operators))
	}

	g := &Graph{
		spec:    spec,
		index:   make(map[string]int, len(operators)),
		entries: make(map[string][]Target),
	}

	for i, operator := range operators {
		declared := spec.Operators[i].ID
		if operator.ID() != declared {
			return nil, fmt.Errorf("build graph %q: operator %d is %q, declaration says %q", spec.ID, i, operator.ID(), declared)
		}
		if _, dup := g.index[declared]; dup {
			return nil, &TopologyError{Kind: "duplicate-id", Node: declared}
		}
		g.index[declared] = len(g.nodes)
		g.nodes = append(g.nodes, &node{
			id:       declared,
			operator: operator,
			targets:  make(map[string][]Target),
		})
	}

	inputs := stringSet(spec.Inputs)
	outputs := stringSet(spec.Outputs)

	for _, conn := range spec.Connections {
		if err := g.wire(conn, inputs, outputs); err != nil {
			return nil, err
		}
	}

	if err := g.checkReachable(); err != nil {
		return nil, err
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, &TopologyError{Kind: "cycle", Cycle: cycle}
	}
	g.sort()

	return g, nil
}

func (g *Graph) wire(conn Connection, inputs, outputs map[string]struct{}) error {
	target, err := g.resolveTo(conn.To, outputs)
	if err != nil {
		return err
	}

	if conn.From.IsGraphPort() {
		if _, ok := inputs[conn.From.Port]; !ok {
			return &TopologyError{Kind: "unknown-port", Port: conn.From.Port}
		}
		g.entries[conn.From.Port] = append(g.entries[conn.From.Port], target)
		return nil
	}

	from, ok := g.index[conn.From.Node]
	if !ok {
		return &TopologyError{Kind: "unknown-node", Node: conn.From.Node}
	}
	if !hasPort(g.nodes[from].operator.OutPorts(), conn.From.Port) {
		return &TopologyError{Kind: "dangling-port", Node: conn.From.Node, Port: conn.From.Port}
	}

	g.nodes[from].targets[conn.From.Port] = append(g.nodes[from].targets[conn.From.Port], target)
	if !target.IsOutput() {
		addUpstream(g.nodes[target.Node], from)
	}
	return nil
}

func (g *Graph) resolveTo(to PortAddr, outputs map[string]struct{}) (Target, error) {
	if to.IsGraphPort() {
		if _, ok := outputs[to.Port]; !ok {
			return Target{}, &TopologyError{Kind: "unknown-port", Port: to.Port}
		}
		return Target{Node: GraphOutput, Port: to.Port}, nil
	}

	idx, ok := g.index[to.Node]
	if !ok {
		return Target{}, &TopologyError{Kind: "unknown-node", Node: to.Node}
	}
	if !hasPort(g.nodes[idx].operator.InPorts(), to.Port) {
		return Target{}, &TopologyError{Kind: "dangling-port", Node: to.Node, Port: to.Port}
	}
	return Target{Node: idx, Port: to.Port}, nil
}

func (g *Graph) checkReachable() error {
	reached := make([]bool, len(g.nodes))
	var queue []int
	for _, targets := range g.entries {
		for _, t := range targets {
			if !t.IsOutput() && !reached[t.Node] {
				reached[t.Node] = true
				queue = append(queue, t.Node)
			}
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, targets := range g.nodes[current].targets {
			for _, t := range targets {
				if !t.IsOutput() && !reached[t.Node] {
					reached[t.Node] = true
					queue = append(queue, t.Node)
				}
			}
		}
	}

	for i, ok := range reached {
		if !ok {
			return &TopologyError{Kind: "unreachable", Node: g.nodes[i].id}
		}
	}
	return nil
}

// findCycle runs a DFS over operator-to-operator edges and returns the
// offending node path, first node repeated at the end, or nil.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)

	// Out-edges come from the declaration-ordered connection list, not
	// the per-node target maps, so the reported path is the same on
	// every build of the same spec.
	edges := make([][]int, len(g.nodes))
	for _, conn := range g.spec.Connections {
		if conn.From.IsGraphPort() || conn.To.IsGraphPort() {
			continue
		}
		from := g.index[conn.From.Node]
		edges[from] = append(edges[from], g.index[conn.To.Node])
	}

	state := make([]int, len(g.nodes))
	var stack []int
	var cycle []string

	var dfs func(int) bool
	dfs = func(i int) bool {
		state[i] = visiting
		stack = append(stack, i)

		for _, next := range edges[i] {
			switch state[next] {
			case visiting:
				for j, s := range stack {
					if s == next {
						for _, idx := range stack[j:] {
							cycle = append(cycle, g.nodes[idx].id)
						}
						cycle = append(cycle, g.nodes[next].id)
						break
					}
				}
				return true
			case unvisited:
				if dfs(next) {
					return true
				}
			}
		}

		state[i] = done
		stack = stack[:len(stack)-1]
		return false
	}

	for i := range g.nodes {
		if state[i] == unvisited && dfs(i) {
			return cycle
		}
	}
	return nil
}

// sort computes the topological order with Kahn's algorithm, breaking
// ties by declaration order so the result is stable across runs.
func (g *Graph) sort() {
	indegree := make([]int, len(g.nodes))
	for _, n := range g.nodes {
		for _, targets := range n.targets {
			for _, t := range targets {
				if !t.IsOutput() {
					indegree[t.Node]++
				}
			}
		}
	}

	var ready []int
	for i := range g.nodes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(g.nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		// Decrement each downstream edge once per connection; a node
		// becomes ready when its last inbound edge is consumed. Ports
		// are walked via the declaration-ordered connection list to
		// keep tie-breaking stable.
		for _, conn := range g.spec.Connections {
			if conn.From.IsGraphPort() || g.index[conn.From.Node] != current {
				continue
			}
			if conn.To.IsGraphPort() {
				continue
			}
			to := g.index[conn.To.Node]
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}

	g.order = order
	g.reverse = make([]int, len(order))
	for i, idx := range order {
		g.reverse[len(order)-1-i] = idx
	}
}

func stringSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func hasPort(ports []string, want string) bool {
	for _, p := range ports {
		if p == want {
			return true
		}
	}
	return false
}

func addUpstream(n *node, from int) {
	for _, existing := range n.upstream {
		if existing == from {
			return
		}
	}
	n.upstream = append(n.upstream, from)
}
