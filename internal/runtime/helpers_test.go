package runtime_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/graph"
	"github.com/aretw0/espalier/pkg/pipeline"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/session"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// counter records node invocations.
type counter struct {
	mu    sync.Mutex
	calls map[domain.NodeID]int
}

func (c *counter) wrap(id domain.NodeID, n ports.Node) ports.Node {
	return ports.NodeFunc(func(ctx context.Context, s *domain.WorkflowState) domain.NodeResult {
		c.mu.Lock()
		c.calls[id]++
		c.mu.Unlock()
		return n.Invoke(ctx, s)
	})
}

func (c *counter) count(id domain.NodeID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func withConfidence(v float64) ports.Node {
	return ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
		s.Confidence = v
		return domain.Continue(s)
	})
}

// interactive suspends until a decision is given, then applies it.
func interactive(onRevise func(*domain.WorkflowState) domain.NodeResult) ports.Node {
	return ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
		d := s.HumanDecision
		if d == nil {
			return domain.Suspend(s, "awaiting decision")
		}
		switch d.Decision {
		case domain.DecisionReject:
			return domain.Fail(s, domain.FailureRejected, "rejected by reviewer")
		case domain.DecisionRevise:
			return onRevise(s)
		default:
			return domain.Continue(s)
		}
	})
}

func fakeNodes() pipeline.Nodes {
	return pipeline.Nodes{
		Analyze: withConfidence(0.9),
		Clarify: interactive(func(s *domain.WorkflowState) domain.NodeResult {
			s.Question = s.HumanDecision.Notes
			return domain.Continue(s)
		}),
		Generate: ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
			s.GeneratedQuery = &domain.GeneratedQuery{SQL: "SELECT region, total FROM sales", Enriched: s.LastRoute == pipeline.RouteEnriched}
			s.ExecutionResult = nil
			s.ValidationVerdict = nil
			return domain.Continue(s)
		}),
		Execute: succeedExecution(),
		Validate: ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
			s.ValidationVerdict = &domain.ValidationVerdict{Passed: true}
			return domain.Continue(s)
		}),
		Review: interactive(func(s *domain.WorkflowState) domain.NodeResult {
			return domain.Unsuccessful(s, "revision requested")
		}),
		Visualize: ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
			s.VisualizationConfig = &domain.VisualizationConfig{ChartType: "bar", X: "region", Y: "total"}
			return domain.Continue(s)
		}),
		Report: ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
			s.Report = &domain.Report{Title: s.Question, Markdown: "# " + s.Question, Chart: s.VisualizationConfig}
			return domain.Continue(s)
		}),
		Error: ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
			s.Report = &domain.Report{Title: "failed", Markdown: fmt.Sprintf("%d errors", len(s.ErrorTrail))}
			return domain.Continue(s)
		}),
	}
}

func succeedExecution() ports.Node {
	return ports.NodeFunc(func(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
		s.ExecutionResult = &domain.ExecutionResult{
			Succeeded: true,
			Columns:   []string{"region", "total"},
			Rows:      [][]any{{"north", 10.0}},
			RowCount:  1,
		}
		return domain.Continue(s)
	})
}

type harness struct {
	engine *runtime.Engine
	store  ports.CheckpointStore
	calls  *counter
	clock  *fakeClock
}

func newHarness(t *testing.T, nodes pipeline.Nodes, opts ...runtime.Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.NewStore(), nodes, opts...)
}

func newHarnessWithStore(t *testing.T, store ports.CheckpointStore, nodes pipeline.Nodes, opts ...runtime.Option) *harness {
	t.Helper()
	calls := &counter{calls: make(map[domain.NodeID]int)}
	wrapped := pipeline.Nodes{
		Analyze:   calls.wrap(domain.NodeAnalyze, nodes.Analyze),
		Clarify:   calls.wrap(domain.NodeClarify, nodes.Clarify),
		Generate:  calls.wrap(domain.NodeGenerate, nodes.Generate),
		Execute:   calls.wrap(domain.NodeExecute, nodes.Execute),
		Validate:  calls.wrap(domain.NodeValidate, nodes.Validate),
		Review:    calls.wrap(domain.NodeReview, nodes.Review),
		Visualize: calls.wrap(domain.NodeVisualize, nodes.Visualize),
		Report:    calls.wrap(domain.NodeReport, nodes.Report),
		Error:     calls.wrap(domain.NodeError, nodes.Error),
	}
	def, err := pipeline.Build(graph.DefaultParams(), wrapped, nil)
	require.NoError(t, err)

	clock := newFakeClock()
	var seq atomic.Int64
	base := []runtime.Option{
		runtime.WithClock(clock.Now),
		runtime.WithIDGenerator(func() (string, error) {
			return fmt.Sprintf("sess_%03d", seq.Add(1)), nil
		}),
	}
	engine := runtime.NewEngine(def, session.NewManager(store), append(base, opts...)...)
	return &harness{engine: engine, store: store, calls: calls, clock: clock}
}

func (h *harness) state(t *testing.T, id string) *domain.WorkflowState {
	t.Helper()
	v, err := h.engine.Status(context.Background(), id)
	require.NoError(t, err)
	return v.State
}

func (h *harness) versions(t *testing.T, id string) int {
	t.Helper()
	history, err := h.store.History(context.Background(), id)
	require.NoError(t, err)
	return len(history)
}
