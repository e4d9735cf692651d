package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/graph"
	"github.com/aretw0/espalier/pkg/pipeline"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop() ports.Node {
	return ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
		return domain.Continue(s)
	})
}

func allNodes() pipeline.Nodes {
	return pipeline.Nodes{
		Analyze: noop(), Clarify: noop(), Generate: noop(), Execute: noop(), Validate: noop(),
		Review: noop(), Visualize: noop(), Report: noop(), Error: noop(),
	}
}

func build(t *testing.T) *graph.Definition {
	t.Helper()
	def, err := pipeline.Build(graph.DefaultParams(), allNodes(), map[domain.NodeID]graph.Policy{
		domain.NodeExecute: {MaxRetries: 5, Cooldown: time.Second},
	})
	require.NoError(t, err)
	return def
}

func at(node domain.NodeID) *domain.WorkflowState {
	s := domain.NewState("s", "q", node, time.Time{})
	s.CurrentNode = node
	return s
}

func route(t *testing.T, def *graph.Definition, s *domain.WorkflowState) graph.Route {
	t.Helper()
	spec, ok := def.Lookup(s.CurrentNode)
	require.True(t, ok)
	r, err := spec.Router.Route(s)
	require.NoError(t, err)
	return r
}

func TestBuild_Shape(t *testing.T) {
	def := build(t)
	assert.Equal(t, domain.NodeAnalyze, def.Entry())
	assert.Equal(t, domain.NodeError, def.ErrorNode())
	assert.Len(t, def.Nodes(), len(domain.KnownNodes()))

	exec, _ := def.Lookup(domain.NodeExecute)
	assert.Equal(t, 5, exec.Policy.MaxRetries)

	review, _ := def.Lookup(domain.NodeReview)
	assert.True(t, review.Interactive)
	clarify, _ := def.Lookup(domain.NodeClarify)
	assert.True(t, clarify.Interactive)

	report, _ := def.Lookup(domain.NodeReport)
	assert.True(t, report.Terminal())
}

func TestBuild_Rejects(t *testing.T) {
	_, err := pipeline.Build(graph.Params{HighConfidence: 0.4, LowConfidence: 0.6}, allNodes(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)

	_, err = pipeline.Build(graph.DefaultParams(), allNodes(), map[domain.NodeID]graph.Policy{"summarize": {}})
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)

	_, err = pipeline.Build(graph.DefaultParams(), allNodes(), map[domain.NodeID]graph.Policy{domain.NodeExecute: {MaxRetries: -1}})
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)

	// execute reroutes up to MaxReroutes times on the same counter
	_, err = pipeline.Build(graph.DefaultParams(), allNodes(), map[domain.NodeID]graph.Policy{domain.NodeExecute: {MaxRetries: 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)

	_, err = pipeline.Build(graph.DefaultParams(), allNodes(), map[domain.NodeID]graph.Policy{
		domain.NodeExecute:  {BreakerThreshold: 2},
		domain.NodeGenerate: {MaxRetries: 1},
	})
	assert.NoError(t, err, "inherited retries and non-rerouting nodes are not bounded by reroutes")

	missing := allNodes()
	missing.Review = nil
	_, err = pipeline.Build(graph.DefaultParams(), missing, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
}

func TestRouting_Analyze(t *testing.T) {
	def := build(t)
	tests := []struct {
		confidence float64
		to         domain.NodeID
		label      string
	}{
		{0.95, domain.NodeGenerate, pipeline.RouteDirect},
		{0.8, domain.NodeGenerate, pipeline.RouteDirect},
		{0.65, domain.NodeGenerate, pipeline.RouteEnriched},
		{0.5, domain.NodeGenerate, pipeline.RouteEnriched},
		{0.2, domain.NodeClarify, pipeline.RouteClarify},
	}
	for _, tt := range tests {
		s := at(domain.NodeAnalyze)
		s.Confidence = tt.confidence
		r := route(t, def, s)
		assert.Equal(t, tt.to, r.To, "confidence %v", tt.confidence)
		assert.Equal(t, tt.label, r.Label, "confidence %v", tt.confidence)
	}
}

func TestRouting_Execute(t *testing.T) {
	def := build(t)

	s := at(domain.NodeExecute)
	s.ExecutionResult = &domain.ExecutionResult{Succeeded: true}
	assert.Equal(t, domain.NodeValidate, route(t, def, s).To)

	s.ExecutionResult = &domain.ExecutionResult{Recoverable: true}
	r := route(t, def, s)
	assert.Equal(t, domain.NodeGenerate, r.To)
	assert.True(t, r.CountRetry)

	s.RetryCounts[domain.NodeExecute] = 3
	assert.Equal(t, domain.NodeError, route(t, def, s).To, "reroutes exhausted")

	s.RetryCounts[domain.NodeExecute] = 0
	s.ExecutionResult = &domain.ExecutionResult{}
	assert.Equal(t, domain.NodeError, route(t, def, s).To, "unrecoverable")
}

func TestRouting_Review(t *testing.T) {
	def := build(t)
	s := at(domain.NodeReview)

	s.Reviews = []domain.HumanDecision{{Node: domain.NodeReview, Decision: domain.DecisionApprove}}
	assert.Equal(t, domain.NodeVisualize, route(t, def, s).To)

	s.Reviews = append(s.Reviews, domain.HumanDecision{Node: domain.NodeReview, Decision: domain.DecisionRevise})
	r := route(t, def, s)
	assert.Equal(t, domain.NodeGenerate, r.To)
	assert.Equal(t, pipeline.RouteRevised, r.Label)

	s.RetryCounts[domain.NodeReview] = 3
	assert.Equal(t, domain.NodeError, route(t, def, s).To)
}

func TestRouting_Clarify(t *testing.T) {
	def := build(t)
	s := at(domain.NodeClarify)

	s.Reviews = []domain.HumanDecision{{Node: domain.NodeClarify, Decision: domain.DecisionRevise}}
	assert.Equal(t, domain.NodeAnalyze, route(t, def, s).To)

	s.Reviews = []domain.HumanDecision{{Node: domain.NodeClarify, Decision: domain.DecisionApprove}}
	r := route(t, def, s)
	assert.Equal(t, domain.NodeGenerate, r.To)
	assert.Equal(t, pipeline.RouteEnriched, r.Label)

	s.Reviews = nil
	_, err := def.Nodes()[1].Router.Route(s)
	assert.ErrorIs(t, err, domain.ErrUndefinedRoute, "no decision matches no rule")
}
