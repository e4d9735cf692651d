package runtime

import (
	"fmt"
	"slices"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/graph"
)

// selectRoute asks the router of the node that just ran for its successor.
// The returned route is guaranteed to be a declared successor.
func selectRoute(spec *graph.NodeSpec, state *domain.WorkflowState) (graph.Route, error) {
	if spec.Router == nil {
		return graph.Route{}, fmt.Errorf("%w: node %q has no router", domain.ErrUndefinedRoute, spec.ID)
	}
	route, err := spec.Router.Route(state)
	if err != nil {
		return graph.Route{}, err
	}
	if !slices.Contains(spec.Successors, route.To) {
		return graph.Route{}, fmt.Errorf("%w: node %q routed to undeclared successor %q",
			domain.ErrUndefinedRoute, spec.ID, route.To)
	}
	return route, nil
}
