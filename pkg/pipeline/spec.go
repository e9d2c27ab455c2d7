// Package pipeline compiles a declared graph of operators and
// port-qualified connections into an executable topology: an arena of
// operator nodes with a fixed topological order, per-port forward
// targets, and the reverse adjacency used by contraflow.
package pipeline

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// PortAddr names one end of a connection. A zero Node refers to a
// graph-level port (an input when used as a connection source, an
// output when used as a destination).
type PortAddr struct {
	Node string `yaml:"node,omitempty"`
	Port string `yaml:"port"`
}

// IsGraphPort reports whether the address names a graph-level port
// rather than an operator port.
func (a PortAddr) IsGraphPort() bool {
	return a.Node == ""
}

func (a PortAddr) String() string {
	if a.IsGraphPort() {
		return a.Port
	}
	return a.Node + "/" + a.Port
}

// ParsePortAddr reads the "node/port" shorthand used by deployment
// files; a bare name addresses a graph-level port.
func ParsePortAddr(s string) (PortAddr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortAddr{}, fmt.Errorf("empty port address")
	}
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		return PortAddr{Port: parts[0]}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return PortAddr{}, fmt.Errorf("malformed port address %q", s)
		}
		return PortAddr{Node: parts[0], Port: parts[1]}, nil
	default:
		return PortAddr{}, fmt.Errorf("malformed port address %q", s)
	}
}

// UnmarshalYAML accepts either the "node/port" shorthand as a scalar or
// the explicit node/port mapping form.
func (a *PortAddr) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParsePortAddr(value.Value)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	type plain PortAddr
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = PortAddr(p)
	return nil
}

// Connection is a directed edge between two ports. Order of declaration
// is significant: the router visits fan-out targets in this order.
type Connection struct {
	From PortAddr `yaml:"from"`
	To   PortAddr `yaml:"to"`
}

// OperatorSpec declares one operator vertex: its id, kind tag, and the
// kind-specific configuration captured at graph-build time.
type OperatorSpec struct {
	ID     string         `yaml:"id" validate:"required"`
	Kind   string         `yaml:"kind" validate:"required"`
	Config map[string]any `yaml:"config"`
}

// Spec is the declarative description of a graph consumed by Build.
type Spec struct {
	ID          string         `yaml:"id" validate:"required"`
	Inputs      []string       `yaml:"inputs" validate:"required,min=1"`
	Outputs     []string       `yaml:"outputs" validate:"required,min=1"`
	Operators   []OperatorSpec `yaml:"operators" validate:"required,min=1,dive"`
	Connections []Connection   `yaml:"connections" validate:"required,min=1"`
}
