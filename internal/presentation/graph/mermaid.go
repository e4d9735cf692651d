package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
	flow "github.com/aretw0/espalier/pkg/graph"
)

// GraphOverlay contains dynamic session data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []domain.NodeID
	CurrentNode  domain.NodeID
}

// OverlayFor builds the overlay of a session state.
func OverlayFor(state *domain.WorkflowState) *GraphOverlay {
	if state == nil {
		return nil
	}
	return &GraphOverlay{VisitedNodes: state.History, CurrentNode: state.CurrentNode}
}

type conditional interface {
	Conditions() map[domain.NodeID][]string
}

// GenerateMermaid produces a Mermaid flowchart syntax string from a graph definition.
// It applies semantic styling:
// - Entry: ((Circle))
// - Interactive (suspends for review): [/Parallelogram/]
// - Error node: {{Hexagon}}
// - Default: [Rectangle]
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(def *flow.Definition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, spec := range def.Nodes() {
		id := string(spec.ID)

		opener, closer := "[", "]"
		switch {
		case spec.ID == def.Entry():
			opener, closer = "((", "))"
		case spec.ID == def.ErrorNode():
			opener, closer = "{{", "}}"
		case spec.Interactive:
			opener, closer = "[/", "/]"
		}
		label := id
		if spec.Policy.MaxRetries > 0 {
			label = fmt.Sprintf("%s <br/> retries: %d", id, spec.Policy.MaxRetries)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", id, opener, label, closer))

		var conds map[domain.NodeID][]string
		if c, ok := spec.Router.(conditional); ok {
			conds = c.Conditions()
		}
		for _, succ := range spec.Successors {
			whens := conds[succ]
			if len(whens) == 0 {
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", id, succ))
				continue
			}
			sort.Strings(whens)
			for _, when := range whens {
				// Escape double quotes in condition for Mermaid label
				safe := strings.ReplaceAll(when, "\"", "'")
				sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", id, safe, succ))
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visited := make(map[domain.NodeID]bool)
		for _, id := range overlay.VisitedNodes {
			if _, ok := def.Lookup(id); !ok || visited[id] {
				continue
			}
			visited[id] = true
			sb.WriteString(fmt.Sprintf("    class %s visited;\n", id))
		}
		if overlay.CurrentNode != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", overlay.CurrentNode))
		}
	}

	return sb.String()
}
