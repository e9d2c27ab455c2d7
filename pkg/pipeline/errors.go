package pipeline

import (
	"fmt"
	"strings"
)

// TopologyError reports the specific constraint a graph declaration
// violated. Build-time errors are non-recoverable: no partial graph is
// ever made executable.
type TopologyError struct {
	// Kind is one of "duplicate-id", "unknown-node", "dangling-port",
	// "unreachable", "cycle", "unknown-port".
	Kind string
	// Node and Port identify the offending location when applicable.
	Node string
	Port string
	// Cycle lists the node ids forming a cycle, first node repeated at
	// the end.
	Cycle []string
}

func (e *TopologyError) Error() string {
	switch e.Kind {
	case "cycle":
		return fmt.Sprintf("topology: cycle through %s", strings.Join(e.Cycle, " -> "))
	case "duplicate-id":
		return fmt.Sprintf("topology: duplicate operator id %q", e.Node)
	case "unknown-node":
		return fmt.Sprintf("topology: connection references unknown operator %q", e.Node)
	case "unreachable":
		return fmt.Sprintf("topology: operator %q is not reachable from any graph input", e.Node)
	case "unknown-port":
		return fmt.Sprintf("topology: graph has no port %q", e.Port)
	default:
		if e.Node != "" {
			return fmt.Sprintf("topology: dangling port %q on operator %q", e.Port, e.Node)
		}
		return fmt.Sprintf("topology: dangling port %q", e.Port)
	}
}
