package espalier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/presentation/graph"
	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	flow "github.com/aretw0/espalier/pkg/graph"
	"github.com/aretw0/espalier/pkg/nodes"
	"github.com/aretw0/espalier/pkg/pipeline"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/session"
)

// Policy is the engine-wide retry and circuit-breaker configuration.
type Policy = runtime.Policy

// DefaultPolicy returns the retry policy used when none is configured.
func DefaultPolicy() Policy { return runtime.DefaultPolicy() }

// Engine is the high-level entry point of the library. It wires the
// analytical pipeline to a checkpoint store and drives sessions through it.
type Engine struct {
	runtime *runtime.Engine
	store   ports.CheckpointStore
	closers []func() error
	logger  *slog.Logger
}

type options struct {
	store        ports.CheckpointStore
	locker       ports.DistributedLocker
	lockTTL      time.Duration
	nodes        *pipeline.Nodes
	params       flow.Params
	policy       Policy
	nodePolicies map[domain.NodeID]flow.Policy
	maxSteps     int
	hooks        domain.LifecycleHooks
	logger       *slog.Logger
	clock        func() time.Time
	closers      []func() error
}

// Option defines a functional option for configuring the Engine.
type Option func(*options)

// WithStore sets the checkpoint store (default: in-memory).
func WithStore(store ports.CheckpointStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLocker coordinates session access across replicas sharing one store.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(o *options) {
		o.locker = locker
		o.lockTTL = ttl
	}
}

// WithNodes replaces the reference node implementations.
func WithNodes(n pipeline.Nodes) Option {
	return func(o *options) {
		o.nodes = &n
	}
}

// WithParams sets the routing thresholds.
func WithParams(p flow.Params) Option {
	return func(o *options) {
		o.params = p
	}
}

// WithPolicy sets the engine-wide retry policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithNodePolicies overrides the retry policy of individual nodes.
func WithNodePolicies(p map[domain.NodeID]flow.Policy) Option {
	return func(o *options) {
		o.nodePolicies = p
	}
}

// WithMaxSteps bounds the node invocations of one session. Zero disables it.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		o.maxSteps = n
	}
}

// WithLifecycleHooks registers observability hooks. It may be given more
// than once; hooks run in registration order.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *options) {
		o.hooks = domain.MergeHooks(o.hooks, hooks)
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source of the engine and the reference nodes.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithCloser registers a function run by Close, e.g. to release a database pool.
func WithCloser(fn func() error) Option {
	return func(o *options) {
		o.closers = append(o.closers, fn)
	}
}

// New builds an engine. Without options it runs the reference nodes over the
// bundled catalog and keeps checkpoints in memory.
func New(opts ...Option) (*Engine, error) {
	o := &options{
		params:   flow.DefaultParams(),
		policy:   runtime.DefaultPolicy(),
		maxSteps: runtime.DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.store == nil {
		o.store = memory.NewStore()
	}
	if o.nodes == nil {
		n := nodes.Pipeline(nodes.Config{Clock: o.clock})
		o.nodes = &n
	}

	def, err := pipeline.Build(o.params, *o.nodes, o.nodePolicies)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	managerOpts := []session.Option{session.WithLogger(o.logger)}
	if o.locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(o.locker), session.WithLockTTL(o.lockTTL))
	}
	manager := session.NewManager(o.store, managerOpts...)

	runtimeOpts := []runtime.Option{
		runtime.WithPolicy(o.policy),
		runtime.WithLifecycleHooks(o.hooks),
		runtime.WithLogger(o.logger),
		runtime.WithMaxSteps(o.maxSteps),
	}
	if o.clock != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithClock(o.clock))
	}

	return &Engine{
		runtime: runtime.NewEngine(def, manager, runtimeOpts...),
		store:   o.store,
		closers: o.closers,
		logger:  o.logger,
	}, nil
}

// Start creates a session for the question and drives it until it waits for
// a human decision or terminates.
func (e *Engine) Start(ctx context.Context, question string) (string, error) {
	return e.runtime.Start(ctx, question)
}

// Create persists a new session without running it.
func (e *Engine) Create(ctx context.Context, question string) (string, error) {
	return e.runtime.Create(ctx, question)
}

// Run drives a created or interrupted session.
func (e *Engine) Run(ctx context.Context, sessionID string) error {
	return e.runtime.Run(ctx, sessionID)
}

// Step runs exactly one node of the session.
func (e *Engine) Step(ctx context.Context, sessionID string) error {
	return e.runtime.Step(ctx, sessionID)
}

// Resume answers a pending clarification or review and drives the session on.
func (e *Engine) Resume(ctx context.Context, sessionID string, decision domain.HumanDecision) error {
	return e.runtime.Resume(ctx, sessionID, decision)
}

// Cancel stops a session; it ends FAILED with reason cancelled.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	return e.runtime.Cancel(ctx, sessionID)
}

// Status returns the current view of a session.
func (e *Engine) Status(ctx context.Context, sessionID string) (*domain.SessionView, error) {
	return e.runtime.Status(ctx, sessionID)
}

// Result returns the final report, or a *domain.FailedError for failed sessions.
func (e *Engine) Result(ctx context.Context, sessionID string) (*domain.Report, error) {
	return e.runtime.Result(ctx, sessionID)
}

// History returns every checkpoint of a session, oldest first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	return e.runtime.History(ctx, sessionID)
}

// Sessions lists the stored sessions, most recently updated first.
func (e *Engine) Sessions(ctx context.Context) ([]*domain.SessionView, error) {
	return e.runtime.Sessions(ctx)
}

// Recover re-drives sessions left in flight by a previous process.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	return e.runtime.Recover(ctx)
}

// Definition returns the pipeline graph.
func (e *Engine) Definition() *flow.Definition {
	return e.runtime.Definition()
}

// Mermaid renders the pipeline as a Mermaid flowchart. With a session id the
// visited and current nodes of that session are highlighted.
func (e *Engine) Mermaid(ctx context.Context, sessionID string) (string, error) {
	var overlay *graph.GraphOverlay
	if sessionID != "" {
		v, err := e.runtime.Status(ctx, sessionID)
		if err != nil {
			return "", err
		}
		overlay = graph.OverlayFor(v.State)
	}
	return graph.GenerateMermaid(e.runtime.Definition(), overlay), nil
}

// Store returns the checkpoint store the engine persists to.
func (e *Engine) Store() ports.CheckpointStore { return e.store }

// Close releases the resources registered with WithCloser.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
