package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/graph"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough() ports.Node {
	return ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
		return domain.Continue(s)
	})
}

func TestBuilder_Valid(t *testing.T) {
	b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
	b.Add(domain.NodeAnalyze, passthrough()).Go(domain.NodeReport)
	b.Add(domain.NodeReport, passthrough()).Terminal()
	b.Add(domain.NodeError, passthrough()).Terminal()

	def, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, domain.NodeAnalyze, def.Entry())
	assert.Equal(t, domain.NodeError, def.ErrorNode())

	spec, ok := def.Lookup(domain.NodeAnalyze)
	require.True(t, ok)
	assert.Equal(t, []domain.NodeID{domain.NodeReport}, spec.Successors)
	assert.False(t, spec.Terminal())

	var order []domain.NodeID
	for _, s := range def.Nodes() {
		order = append(order, s.ID)
	}
	assert.Equal(t, []domain.NodeID{domain.NodeAnalyze, domain.NodeReport, domain.NodeError}, order)
}

type fixedRouter struct{ targets []domain.NodeID }

func (f fixedRouter) Route(*domain.WorkflowState) (graph.Route, error) {
	return graph.Route{To: f.targets[0]}, nil
}
func (f fixedRouter) Targets() []domain.NodeID { return f.targets }

func TestBuilder_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		build func() *graph.Builder
	}{
		{
			name: "missing entry",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "missing error node",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze)
				b.Add(domain.NodeAnalyze, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "error node not terminal",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, passthrough()).Terminal()
				b.Add(domain.NodeError, passthrough()).Go(domain.NodeAnalyze)
				return b
			},
		},
		{
			name: "unknown node id",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, passthrough()).Go("summarize")
				b.Add("summarize", passthrough()).Terminal()
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "undefined successor",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, passthrough()).Go(domain.NodeGenerate)
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "duplicate node",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, passthrough()).Terminal()
				b.Add(domain.NodeAnalyze, passthrough()).Terminal()
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "nil implementation",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, nil).Terminal()
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "router target outside successors",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, passthrough()).
					RouteWith(fixedRouter{targets: []domain.NodeID{domain.NodeReport}}, domain.NodeError)
				b.Add(domain.NodeReport, passthrough()).Terminal()
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "successors without router",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, passthrough()).RouteWith(nil, domain.NodeError)
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "rule does not compile",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, passthrough()).Branch(graph.DefaultParams(),
					graph.Rule{When: "confidence >=", To: domain.NodeError})
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
		{
			name: "rule is not boolean",
			build: func() *graph.Builder {
				b := graph.New(domain.NodeAnalyze).Errors(domain.NodeError)
				b.Add(domain.NodeAnalyze, passthrough()).Branch(graph.DefaultParams(),
					graph.Rule{When: "confidence + 1", To: domain.NodeError})
				b.Add(domain.NodeError, passthrough()).Terminal()
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := tt.build().Build()
			assert.Nil(t, def)
			assert.ErrorIs(t, err, domain.ErrInvalidGraph)
		})
	}
}

func bandRules(t *testing.T) *graph.Rules {
	t.Helper()
	r, err := graph.CompileRules(graph.DefaultParams(),
		graph.Rule{When: "confidence >= high", To: domain.NodeGenerate, Label: "direct"},
		graph.Rule{When: "confidence >= low && confidence < high", To: domain.NodeGenerate, Label: "enriched"},
		graph.Rule{When: "confidence < low", To: domain.NodeClarify, Label: "clarify"},
	)
	require.NoError(t, err)
	return r
}

func TestRules_ConfidenceBands(t *testing.T) {
	rules := bandRules(t)

	tests := []struct {
		confidence float64
		to         domain.NodeID
		label      string
	}{
		{1.0, domain.NodeGenerate, "direct"},
		{0.8, domain.NodeGenerate, "direct"},
		{0.79, domain.NodeGenerate, "enriched"},
		{0.5, domain.NodeGenerate, "enriched"},
		{0.49, domain.NodeClarify, "clarify"},
		{0, domain.NodeClarify, "clarify"},
	}
	for _, tt := range tests {
		state := domain.NewState("s", "q", domain.NodeAnalyze, time.Now())
		state.Confidence = tt.confidence

		route, err := rules.Route(state)
		require.NoError(t, err, "confidence %.2f", tt.confidence)
		assert.Equal(t, tt.to, route.To, "confidence %.2f", tt.confidence)
		assert.Equal(t, tt.label, route.Label, "confidence %.2f", tt.confidence)
	}
}

func TestRules_UndefinedAndAmbiguous(t *testing.T) {
	state := domain.NewState("s", "q", domain.NodeAnalyze, time.Now())
	state.Confidence = 0.9

	gap, err := graph.CompileRules(graph.DefaultParams(),
		graph.Rule{When: "confidence < low", To: domain.NodeClarify})
	require.NoError(t, err)
	_, err = gap.Route(state)
	assert.ErrorIs(t, err, domain.ErrUndefinedRoute)

	overlap, err := graph.CompileRules(graph.DefaultParams(),
		graph.Rule{When: "confidence > 0.5", To: domain.NodeGenerate},
		graph.Rule{When: "confidence > 0.7", To: domain.NodeClarify})
	require.NoError(t, err)
	_, err = overlap.Route(state)
	assert.ErrorIs(t, err, domain.ErrAmbiguousRoute)
}

func TestRules_IsPure(t *testing.T) {
	rules := bandRules(t)
	state := domain.NewState("s", "q", domain.NodeAnalyze, time.Now())
	state.Confidence = 0.6
	before := state.Clone()

	first, err := rules.Route(state)
	require.NoError(t, err)
	second, err := rules.Route(state)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, state)
}

func TestNewEnv(t *testing.T) {
	state := domain.NewState("s", "q", domain.NodeAnalyze, time.Now())
	state.CurrentNode = domain.NodeReview
	state.RetryCounts[domain.NodeReview] = 1
	state.ExecutionResult = &domain.ExecutionResult{Succeeded: false, Recoverable: true}
	state.ValidationVerdict = &domain.ValidationVerdict{Passed: true}
	state.GeneratedQuery = &domain.GeneratedQuery{SQL: "SELECT 1"}
	state.Reviews = []domain.HumanDecision{
		{Decision: domain.DecisionApprove, Node: domain.NodeClarify},
		{Decision: domain.DecisionRevise, Node: domain.NodeReview},
	}

	env := graph.NewEnv(state, graph.DefaultParams())
	assert.True(t, env.HasQuery)
	assert.True(t, env.Executed)
	assert.False(t, env.Succeeded)
	assert.True(t, env.Recoverable)
	assert.True(t, env.Validated)
	assert.True(t, env.Passed)
	assert.Equal(t, "revise", env.Decision)
	assert.Equal(t, 1, env.Attempts)
	assert.Equal(t, 3, env.MaxReroutes)
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, graph.DefaultParams().Validate())
	assert.ErrorIs(t, graph.Params{HighConfidence: 0.4, LowConfidence: 0.5}.Validate(), domain.ErrInvalidGraph)
	assert.ErrorIs(t, graph.Params{HighConfidence: 1.2, LowConfidence: 0.5}.Validate(), domain.ErrInvalidGraph)
	assert.ErrorIs(t, graph.Params{HighConfidence: 0.8, LowConfidence: 0.5, MaxReroutes: -1}.Validate(), domain.ErrInvalidGraph)
}
