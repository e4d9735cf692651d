// Package pipeline wires the analytical-question graph: analysis, optional
// clarification, generation, execution, validation, human review,
// visualization and reporting, with a dedicated error node.
package pipeline

import (
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/graph"
	"github.com/aretw0/espalier/pkg/ports"
)

// Nodes are the implementations plugged into the graph.
type Nodes struct {
	Analyze   ports.Node
	Clarify   ports.Node
	Generate  ports.Node
	Execute   ports.Node
	Validate  ports.Node
	Review    ports.Node
	Visualize ports.Node
	Report    ports.Node
	Error     ports.Node
}

// Route labels written to WorkflowState.LastRoute.
const (
	RouteDirect     = "direct"
	RouteEnriched   = "enriched"
	RouteClarify    = "clarify"
	RouteRevised    = "revised"
	RouteRegenerate = "regenerate"
	RouteFailed     = "unrecoverable"
)

// Rerouting reports whether leaving id back to generation increments its
// retry count. Such nodes share the count between reroutes and in-place
// retries.
func Rerouting(id domain.NodeID) bool {
	switch id {
	case domain.NodeExecute, domain.NodeValidate, domain.NodeReview:
		return true
	}
	return false
}

// CheckPolicies validates per-node retry overrides. A rerouting node must
// allow at least params.MaxReroutes retries; a zero MaxRetries inherits the
// engine default.
func CheckPolicies(params graph.Params, policies map[domain.NodeID]graph.Policy) error {
	for id, p := range policies {
		if !id.Valid() {
			return fmt.Errorf("%w: retry policy for unknown node %q", domain.ErrInvalidGraph, id)
		}
		if p.MaxRetries < 0 || p.BreakerThreshold < 0 || p.Cooldown < 0 {
			return fmt.Errorf("%w: negative retry policy for node %q", domain.ErrInvalidGraph, id)
		}
		if Rerouting(id) && p.MaxRetries > 0 && p.MaxRetries < params.MaxReroutes {
			return fmt.Errorf("%w: node %q allows %d retries, fewer than the %d reroutes it may take",
				domain.ErrInvalidGraph, id, p.MaxRetries, params.MaxReroutes)
		}
	}
	return nil
}

// Build assembles the pipeline graph. policies overrides the retry policy of
// individual nodes; it may be nil.
func Build(params graph.Params, n Nodes, policies map[domain.NodeID]graph.Policy) (*graph.Definition, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if err := CheckPolicies(params, policies); err != nil {
		return nil, err
	}

	b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
	add := func(id domain.NodeID, node ports.Node) *graph.NodeBuilder {
		return b.Add(id, node).Retry(policies[id])
	}

	add(domain.NodeAnalyze, n.Analyze).Branch(params,
		graph.Rule{When: "confidence >= high", To: domain.NodeGenerate, Label: RouteDirect},
		graph.Rule{When: "confidence >= low && confidence < high", To: domain.NodeGenerate, Label: RouteEnriched},
		graph.Rule{When: "confidence < low", To: domain.NodeClarify, Label: RouteClarify},
	)

	add(domain.NodeClarify, n.Clarify).Interactive().Branch(params,
		graph.Rule{When: `decision == "revise"`, To: domain.NodeAnalyze, Label: RouteRevised},
		graph.Rule{When: `decision == "approve"`, To: domain.NodeGenerate, Label: RouteEnriched},
	)

	add(domain.NodeGenerate, n.Generate).Go(domain.NodeExecute)

	add(domain.NodeExecute, n.Execute).Branch(params,
		graph.Rule{When: "succeeded", To: domain.NodeValidate},
		graph.Rule{When: "!succeeded && recoverable && attempts < max_reroutes",
			To: domain.NodeGenerate, Label: RouteRegenerate, CountRetry: true},
		graph.Rule{When: "!succeeded && (!recoverable || attempts >= max_reroutes)",
			To: domain.NodeError, Label: RouteFailed},
	)

	add(domain.NodeValidate, n.Validate).Branch(params,
		graph.Rule{When: "passed", To: domain.NodeReview},
		graph.Rule{When: "!passed && attempts < max_reroutes",
			To: domain.NodeGenerate, Label: RouteRegenerate, CountRetry: true},
		graph.Rule{When: "!passed && attempts >= max_reroutes", To: domain.NodeError, Label: RouteFailed},
	)

	add(domain.NodeReview, n.Review).Interactive().Branch(params,
		graph.Rule{When: `decision == "approve"`, To: domain.NodeVisualize},
		graph.Rule{When: `decision == "revise" && attempts < max_reroutes`,
			To: domain.NodeGenerate, Label: RouteRevised, CountRetry: true},
		graph.Rule{When: `decision == "revise" && attempts >= max_reroutes`, To: domain.NodeError, Label: RouteFailed},
	)

	add(domain.NodeVisualize, n.Visualize).Go(domain.NodeReport)
	add(domain.NodeReport, n.Report).Terminal()
	add(domain.NodeError, n.Error).Terminal()

	return b.Build()
}
