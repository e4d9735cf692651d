// Package graph holds the static description of the pipeline: which nodes
// exist, which successors each may route to and the predicate that picks one.
//
// A Definition is immutable once built. Every structural mistake (unknown
// node ids, dangling successors, rule targets that are not declared
// successors, expressions that do not compile) is reported by Build, never
// at execution time.
package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Route is the outcome of a routing decision.
type Route struct {
	To domain.NodeID
	// Label names the branch taken (e.g. "direct", "enriched"); nodes may read it
	// from WorkflowState.LastRoute.
	Label string
	// CountRetry asks the engine to increment RetryCounts of the node being
	// left, bounding reroute loops.
	CountRetry bool
}

// Router picks the next node from the state produced by a node.
// Implementations must be pure: no mutation of state, no I/O.
type Router interface {
	Route(state *domain.WorkflowState) (Route, error)
	// Targets lists every node the router can return, for build-time validation.
	Targets() []domain.NodeID
}

// Policy overrides the engine-wide retry settings for one node.
// Zero values mean "use the engine default".
type Policy struct {
	MaxRetries       int
	BreakerThreshold int
	Cooldown         time.Duration
}

// NodeSpec is one entry of the Definition.
type NodeSpec struct {
	ID         domain.NodeID
	Node       ports.Node
	Successors []domain.NodeID
	Router     Router
	Policy     Policy
	// Interactive marks nodes that may suspend for a human decision.
	Interactive bool
}

// Terminal reports whether the node ends the session when it continues.
func (s *NodeSpec) Terminal() bool { return len(s.Successors) == 0 }

// Definition is the immutable graph used by the engine.
type Definition struct {
	entry     domain.NodeID
	errorNode domain.NodeID
	nodes     map[domain.NodeID]*NodeSpec
}

// Entry returns the node every session starts at.
func (d *Definition) Entry() domain.NodeID { return d.entry }

// ErrorNode returns the node escalations are routed to.
func (d *Definition) ErrorNode() domain.NodeID { return d.errorNode }

// Lookup returns the spec of a node.
func (d *Definition) Lookup(id domain.NodeID) (*NodeSpec, bool) {
	spec, ok := d.nodes[id]
	return spec, ok
}

// Nodes returns every spec in pipeline order.
func (d *Definition) Nodes() []*NodeSpec {
	order := make(map[domain.NodeID]int)
	for i, id := range domain.KnownNodes() {
		order[id] = i
	}
	out := make([]*NodeSpec, 0, len(d.nodes))
	for _, spec := range d.nodes {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].ID] < order[out[j].ID] })
	return out
}

// Builder manages the graph construction.
type Builder struct {
	entry     domain.NodeID
	errorNode domain.NodeID
	nodes     map[domain.NodeID]*NodeBuilder
	order     []domain.NodeID
	errs      []error
}

// New creates a new graph builder starting at the given entry node.
func New(entry domain.NodeID) *Builder {
	return &Builder{
		entry: entry,
		nodes: make(map[domain.NodeID]*NodeBuilder),
	}
}

// Add registers a node implementation. Adding the same id twice is an error.
func (b *Builder) Add(id domain.NodeID, node ports.Node) *NodeBuilder {
	if _, exists := b.nodes[id]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %q registered twice", id))
	}
	nb := &NodeBuilder{spec: NodeSpec{ID: id, Node: node}}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Errors sets the dedicated error-handling node. It must also be added with Add.
func (b *Builder) Errors(id domain.NodeID) *Builder {
	b.errorNode = id
	return b
}

// Build validates the graph and freezes it into a Definition.
func (b *Builder) Build() (*Definition, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidGraph, b.errs[0])
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("%w: entry node %q is not defined", domain.ErrInvalidGraph, b.entry)
	}
	if b.errorNode == "" {
		return nil, fmt.Errorf("%w: no error node configured", domain.ErrInvalidGraph)
	}
	errSpec, ok := b.nodes[b.errorNode]
	if !ok {
		return nil, fmt.Errorf("%w: error node %q is not defined", domain.ErrInvalidGraph, b.errorNode)
	}
	if len(errSpec.spec.Successors) > 0 {
		return nil, fmt.Errorf("%w: error node %q must be terminal", domain.ErrInvalidGraph, b.errorNode)
	}

	def := &Definition{
		entry:     b.entry,
		errorNode: b.errorNode,
		nodes:     make(map[domain.NodeID]*NodeSpec, len(b.nodes)),
	}

	for _, id := range b.order {
		nb := b.nodes[id]
		if nb.err != nil {
			return nil, fmt.Errorf("%w: node %q: %v", domain.ErrInvalidGraph, id, nb.err)
		}
		spec := nb.spec
		if !spec.ID.Valid() {
			return nil, fmt.Errorf("%w: unknown node id %q", domain.ErrInvalidGraph, spec.ID)
		}
		if spec.Node == nil {
			return nil, fmt.Errorf("%w: node %q has no implementation", domain.ErrInvalidGraph, id)
		}

		declared := make(map[domain.NodeID]bool, len(spec.Successors))
		for _, succ := range spec.Successors {
			if _, ok := b.nodes[succ]; !ok {
				return nil, fmt.Errorf("%w: node %q lists undefined successor %q", domain.ErrInvalidGraph, id, succ)
			}
			declared[succ] = true
		}

		if spec.Terminal() {
			if spec.Router != nil {
				return nil, fmt.Errorf("%w: terminal node %q must not have a router", domain.ErrInvalidGraph, id)
			}
		} else {
			if spec.Router == nil {
				return nil, fmt.Errorf("%w: node %q has successors but no router", domain.ErrInvalidGraph, id)
			}
			for _, target := range spec.Router.Targets() {
				if !declared[target] {
					return nil, fmt.Errorf("%w: node %q routes to %q which is not a declared successor", domain.ErrInvalidGraph, id, target)
				}
			}
		}

		spec.Successors = append([]domain.NodeID(nil), spec.Successors...)
		def.nodes[id] = &spec
	}

	return def, nil
}

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	spec NodeSpec
	err  error
}

// Go adds an unconditional transition to the target node.
func (n *NodeBuilder) Go(target domain.NodeID) *NodeBuilder {
	n.spec.Successors = []domain.NodeID{target}
	n.spec.Router = Always(target)
	return n
}

// Branch declares the candidate successors and the rules choosing among them.
// The rules are compiled immediately; a compile error surfaces from Build.
func (n *NodeBuilder) Branch(params Params, rules ...Rule) *NodeBuilder {
	router, err := CompileRules(params, rules...)
	if err != nil {
		n.err = err
		return n
	}
	n.spec.Successors = router.Targets()
	n.spec.Router = router
	return n
}

// RouteWith sets a custom router and its candidate successors.
func (n *NodeBuilder) RouteWith(router Router, successors ...domain.NodeID) *NodeBuilder {
	n.spec.Successors = successors
	n.spec.Router = router
	return n
}

// Retry overrides the retry policy of the node.
func (n *NodeBuilder) Retry(p Policy) *NodeBuilder {
	n.spec.Policy = p
	return n
}

// Interactive marks the node as one that may suspend for human input.
func (n *NodeBuilder) Interactive() *NodeBuilder {
	n.spec.Interactive = true
	return n
}

// Terminal marks the node as a terminal node (end of the flow).
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.spec.Successors = nil
	n.spec.Router = nil
	return n
}

type always struct{ to domain.NodeID }

// Always returns a router with a single unconditional successor.
func Always(to domain.NodeID) Router { return always{to: to} }

func (a always) Route(*domain.WorkflowState) (Route, error) { return Route{To: a.to}, nil }

func (a always) Targets() []domain.NodeID { return []domain.NodeID{a.to} }
