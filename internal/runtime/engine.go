package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.jetify.com/typeid"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/graph"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/session"
)

// DefaultMaxSteps bounds the number of node invocations of one session.
const DefaultMaxSteps = 100

// Engine drives sessions through a graph definition.
type Engine struct {
	def      *graph.Definition
	sessions *session.Manager
	store    ports.CheckpointStore

	policy   Policy
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() (string, error)
	maxSteps int

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight tracks a session being driven by this process.
type flight struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Option configures the Engine.
type Option func(*Engine)

// WithPolicy sets the engine-wide retry and breaker defaults.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = domain.MergeHooks(e.hooks, hooks)
	}
}

// WithLogger configures the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithIDGenerator overrides how session ids are minted.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// WithMaxSteps bounds the node invocations of a session. Zero disables the limit.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// NewSessionID mints a sortable, prefixed session id.
func NewSessionID() (string, error) {
	id, err := typeid.WithPrefix("sess")
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewEngine creates an engine for the given graph. Sessions are persisted in
// the store of the session manager.
func NewEngine(def *graph.Definition, sessions *session.Manager, opts ...Option) *Engine {
	e := &Engine{
		def:      def,
		sessions: sessions,
		store:    sessions.Store(),
		policy:   DefaultPolicy(),
		logger:   logging.NewNop(),
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    NewSessionID,
		maxSteps: DefaultMaxSteps,
		inflight: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definition returns the graph the engine drives.
func (e *Engine) Definition() *graph.Definition { return e.def }

// run is the in-memory view of a session during one call.
type run struct {
	state   *domain.WorkflowState
	version int
	flight  *flight
}

// Create persists a new session positioned at the entry node without running it.
func (e *Engine) Create(ctx context.Context, question string) (string, error) {
	question, err := domain.SanitizeInput(strings.TrimSpace(question))
	if err != nil {
		return "", err
	}
	if question == "" {
		return "", domain.ErrEmptyQuestion
	}
	id, err := e.newID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	err = e.sessions.Exclusive(ctx, id, func(ctx context.Context) error {
		r := &run{state: domain.NewState(id, question, e.def.Entry(), e.clock())}
		return e.save(ctx, r, domain.CheckpointCreated)
	})
	if err != nil {
		return "", err
	}
	e.logger.Info("session created", "session_id", id)
	return id, nil
}

// Start creates a session and drives it until it suspends or terminates.
// A session that ends FAILED is not an error of Start; only infrastructure
// failures (storage, locking) are returned.
func (e *Engine) Start(ctx context.Context, question string) (string, error) {
	id, err := e.Create(ctx, question)
	if err != nil {
		return "", err
	}
	return id, e.Run(ctx, id)
}

// Run drives a CREATED, RUNNING or RETRYING session until it suspends or terminates.
func (e *Engine) Run(ctx context.Context, sessionID string) error {
	return e.exclusive(ctx, sessionID, func(ctx context.Context, f *flight) error {
		r, err := e.load(ctx, sessionID)
		if err != nil {
			return err
		}
		r.flight = f
		if r.state.Status.Terminal() || r.state.Status == domain.StatusWaitingForInput {
			return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidState, sessionID, r.state.Status)
		}
		return e.drive(ctx, r)
	})
}

// Step runs exactly one node of the session.
func (e *Engine) Step(ctx context.Context, sessionID string) error {
	return e.exclusive(ctx, sessionID, func(ctx context.Context, f *flight) error {
		r, err := e.load(ctx, sessionID)
		if err != nil {
			return err
		}
		r.flight = f
		if r.state.Status.Terminal() || r.state.Status == domain.StatusWaitingForInput {
			return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidState, sessionID, r.state.Status)
		}
		return e.step(ctx, r)
	})
}

// Resume injects a human decision into a waiting session and drives it on,
// re-invoking the node that suspended. Any other status is rejected with
// domain.ErrInvalidState and leaves the session untouched.
func (e *Engine) Resume(ctx context.Context, sessionID string, decision domain.HumanDecision) error {
	return e.exclusive(ctx, sessionID, func(ctx context.Context, f *flight) error {
		r, err := e.load(ctx, sessionID)
		if err != nil {
			return err
		}
		r.flight = f
		if !r.state.Status.Resumable() {
			return fmt.Errorf("%w: session %s is %s, not %s",
				domain.ErrInvalidState, sessionID, r.state.Status, domain.StatusWaitingForInput)
		}

		decision.DecidedAt = e.clock()
		if err := applyDecision(r.state, decision); err != nil {
			return err
		}
		r.state.Status = domain.StatusRunning
		if err := e.save(ctx, r, domain.CheckpointResume); err != nil {
			return err
		}
		e.emitSession(ctx, domain.EventResume, r.state, string(decision.Decision))
		e.logger.Info("session resumed",
			"session_id", sessionID, "node", r.state.CurrentNode, "decision", decision.Decision)

		return e.drive(ctx, r)
	})
}

// Cancel stops a session. A session held by a call in this process is
// signalled and ends FAILED once its current node returns, whatever that node
// returned; an idle session is moved to the error node immediately. Terminal
// sessions yield domain.ErrInvalidState. The signal lives in process memory:
// a session held by another replica yields domain.ErrSessionBusy.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	if e.signalCancel(sessionID) {
		e.logger.Info("cancellation requested", "session_id", sessionID)
		return nil
	}

	err := e.sessions.Exclusive(ctx, sessionID, func(ctx context.Context) error {
		r, err := e.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if r.state.Status.Terminal() {
			return fmt.Errorf("%w: session %s is already %s", domain.ErrInvalidState, sessionID, r.state.Status)
		}
		return e.cancelRun(ctx, r, "cancelled by caller")
	})
	if errors.Is(err, domain.ErrSessionBusy) && e.signalCancel(sessionID) {
		return nil
	}
	return err
}

// Status returns the current view of a session.
func (e *Engine) Status(ctx context.Context, sessionID string) (*domain.SessionView, error) {
	cp, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return view(cp), nil
}

// Result returns the report of a COMPLETED session, a *domain.FailedError for a
// FAILED one and domain.ErrNotFinished otherwise.
func (e *Engine) Result(ctx context.Context, sessionID string) (*domain.Report, error) {
	cp, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state := cp.State
	switch state.Status {
	case domain.StatusCompleted:
		if state.Report == nil {
			return nil, fmt.Errorf("%w: session %s completed without a report", domain.ErrInvalidState, sessionID)
		}
		report := *state.Report
		return &report, nil
	case domain.StatusFailed:
		failed := &domain.FailedError{SessionID: sessionID, Code: domain.FailureFatal, Message: "session failed"}
		if last, ok := state.LastError(); ok {
			failed.Code = last.Kind
			failed.Message = last.Message
		}
		return nil, failed
	default:
		return nil, fmt.Errorf("%w: session %s is %s", domain.ErrNotFinished, sessionID, state.Status)
	}
}

// History returns every checkpoint of a session, oldest first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	return e.sessions.History(ctx, sessionID)
}

// Sessions lists every stored session, most recently updated first.
func (e *Engine) Sessions(ctx context.Context) ([]*domain.SessionView, error) {
	ids, err := e.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.SessionView, 0, len(ids))
	for _, id := range ids {
		cp, err := e.sessions.Load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue // deleted concurrently
		}
		if err != nil {
			return nil, err
		}
		out = append(out, view(cp))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].State.UpdatedAt.After(out[j].State.UpdatedAt)
	})
	return out, nil
}

// Recover re-drives every session that was left CREATED, RUNNING or RETRYING,
// e.g. by a crashed process. Sessions busy elsewhere are skipped.
// It returns the number of sessions driven.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	ids, err := e.sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, id := range ids {
		cp, err := e.sessions.Load(ctx, id)
		if err != nil {
			if !errors.Is(err, domain.ErrSessionNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		switch cp.State.Status {
		case domain.StatusCreated, domain.StatusRunning, domain.StatusRetrying:
		default:
			continue
		}
		err = e.Run(ctx, id)
		switch {
		case errors.Is(err, domain.ErrSessionBusy), errors.Is(err, domain.ErrInvalidState):
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("recover %s: %w", id, err))
		default:
			n++
			e.logger.Info("session recovered", "session_id", id)
		}
	}
	return n, errors.Join(errs...)
}

func view(cp *domain.Checkpoint) *domain.SessionView {
	v := &domain.SessionView{State: cp.State, Version: cp.Version}
	if req, ok := Pending(cp.State); ok {
		v.Interrupt = req
	}
	return v
}

func (e *Engine) load(ctx context.Context, sessionID string) (*run, error) {
	cp, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cp.State == nil {
		return nil, fmt.Errorf("checkpoint %d of session %s has no state", cp.Version, sessionID)
	}
	return &run{state: cp.State, version: cp.Version}, nil
}

// save writes the next checkpoint version. Saving is not cancellable: a
// cancelled call must still record where the session stopped.
func (e *Engine) save(ctx context.Context, r *run, reason domain.CheckpointReason) error {
	now := e.clock()
	r.state.UpdatedAt = now
	cp := &domain.Checkpoint{
		SessionID: r.state.SessionID,
		Version:   r.version + 1,
		Node:      r.state.CurrentNode,
		Reason:    reason,
		State:     r.state.Clone(),
		CreatedAt: now,
	}
	if err := e.store.Save(context.WithoutCancel(ctx), r.state.SessionID, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint %d of session %s: %w", cp.Version, r.state.SessionID, err)
	}
	r.version = cp.Version
	return nil
}

// exclusive runs fn while holding the session and registers the call so that
// Cancel can reach it. A cancellation acknowledged during fn is honoured once
// fn returns unless the session already ended.
func (e *Engine) exclusive(ctx context.Context, sessionID string, fn func(ctx context.Context, f *flight) error) error {
	return e.sessions.Exclusive(ctx, sessionID, func(ctx context.Context) error {
		runCtx, cancel := context.WithCancel(ctx)
		f := e.track(sessionID, cancel)
		err := fn(runCtx, f)
		e.untrack(sessionID)
		if !e.isCancelled(f) {
			return err
		}
		return errors.Join(err, e.honourCancel(context.WithoutCancel(ctx), sessionID))
	})
}

// honourCancel fails a session whose cancellation was acknowledged while a
// call that did not reach it held the session.
func (e *Engine) honourCancel(ctx context.Context, sessionID string) error {
	r, err := e.load(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.state.Status.Terminal() {
		return nil
	}
	return e.cancelRun(ctx, r, "cancelled while running")
}

// cancelRequested reports whether the call driving r was cancelled.
func (e *Engine) cancelRequested(ctx context.Context, r *run) bool {
	if ctx.Err() != nil {
		return true
	}
	return r.flight != nil && e.isCancelled(r.flight)
}

// drive steps the session until it suspends, terminates or fails to persist.
func (e *Engine) drive(ctx context.Context, r *run) error {
	for {
		if r.state.Status.Terminal() || r.state.Status == domain.StatusWaitingForInput {
			return nil
		}
		if r.state.CurrentNode != e.def.ErrorNode() && e.cancelRequested(ctx, r) {
			return e.cancelRun(ctx, r, "cancelled while running")
		}
		if err := e.step(ctx, r); err != nil {
			return err
		}
	}
}

// step invokes the current node once (with in-place retries) and applies the
// outcome: suspend, route onwards, complete or escalate.
func (e *Engine) step(ctx context.Context, r *run) error {
	state := r.state
	spec, ok := e.def.Lookup(state.CurrentNode)
	if !ok {
		return fmt.Errorf("%w: session %s is positioned at unknown node %q",
			domain.ErrInvalidGraph, state.SessionID, state.CurrentNode)
	}
	if state.Status == domain.StatusCreated || state.Status == domain.StatusRetrying {
		state.Status = domain.StatusRunning
	}

	if spec.ID == e.def.ErrorNode() {
		return e.finishFailed(ctx, r, spec)
	}

	if e.maxSteps > 0 && state.Steps >= e.maxSteps {
		state.RecordError(spec.ID, domain.FailureStepLimit,
			fmt.Sprintf("session exceeded %d steps", e.maxSteps), 0, e.clock())
		return e.escalate(ctx, r)
	}
	state.Steps++

	given := state.HumanDecision
	out, err := e.invoke(ctx, spec, state, func(ctx context.Context, s *domain.WorkflowState, _ int, _ domain.NodeResult) error {
		s.Status = domain.StatusRetrying
		return e.save(ctx, r, domain.CheckpointRetry)
	})
	if err != nil {
		return err
	}

	res := out.result
	if out.escalate {
		consumeDecision(state, given)
		e.logger.Warn("node failed",
			"session_id", state.SessionID, "node", spec.ID,
			"failure", res.Failure, "attempts", out.attempts, "reason", res.Reason)
		return e.escalate(ctx, r)
	}

	next := adopt(res.State, state)
	consumeDecision(next, given)
	r.state = next

	// A cancel acknowledged while the node ran wins over its outcome.
	if e.cancelRequested(ctx, r) {
		return e.cancelRun(ctx, r, "cancelled while running")
	}

	if res.Signal == domain.SignalSuspend {
		next.Status = domain.StatusWaitingForInput
		if err := e.save(ctx, r, domain.CheckpointSuspend); err != nil {
			return err
		}
		e.emitSession(ctx, domain.EventSuspend, next, res.Reason)
		e.logger.Info("session suspended", "session_id", next.SessionID, "node", spec.ID, "reason", res.Reason)
		return nil
	}

	next.Status = domain.StatusRunning
	if spec.Terminal() {
		next.Status = domain.StatusCompleted
		if err := e.save(ctx, r, domain.CheckpointTerminal); err != nil {
			return err
		}
		e.emitSession(ctx, domain.EventTerminal, next, "completed")
		e.logger.Info("session completed", "session_id", next.SessionID, "steps", next.Steps)
		return nil
	}

	route, err := selectRoute(spec, next)
	if err != nil {
		next.RecordError(spec.ID, domain.FailureRouting, err.Error(), 0, e.clock())
		e.logger.Error("routing failed", "session_id", next.SessionID, "node", spec.ID, "err", err)
		return e.escalate(ctx, r)
	}
	if route.CountRetry {
		next.RetryCounts[spec.ID]++
	}
	if route.To == e.def.ErrorNode() {
		msg := res.Reason
		if msg == "" {
			msg = fmt.Sprintf("node %s gave up", spec.ID)
		}
		next.RecordError(spec.ID, domain.FailureRecoverable, msg, next.RetryCounts[spec.ID], e.clock())
	}
	moveTo(next, route.To, route.Label)
	e.logger.Debug("routed", "session_id", next.SessionID, "from", spec.ID, "to", route.To, "label", route.Label)
	return e.save(ctx, r, domain.CheckpointStep)
}

// escalate positions the session at the error node.
func (e *Engine) escalate(ctx context.Context, r *run) error {
	r.state.Status = domain.StatusRunning
	moveTo(r.state, e.def.ErrorNode(), "escalated")
	return e.save(ctx, r, domain.CheckpointStep)
}

// cancelRun records the cancellation and runs the error node to completion.
func (e *Engine) cancelRun(ctx context.Context, r *run, reason string) error {
	r.state.RecordError(r.state.CurrentNode, domain.FailureCancelled, reason, 0, e.clock())
	r.state.HumanDecision = nil
	if err := e.escalate(ctx, r); err != nil {
		return err
	}
	spec, _ := e.def.Lookup(e.def.ErrorNode())
	return e.finishFailed(ctx, r, spec)
}

// finishFailed invokes the error node exactly once and marks the session FAILED
// whatever the node returns.
func (e *Engine) finishFailed(ctx context.Context, r *run, spec *graph.NodeSpec) error {
	ctx = context.WithoutCancel(ctx)
	state := r.state
	state.Steps++

	res := e.call(ctx, spec.Node, spec.ID, state, 1)
	if res.Signal == domain.SignalContinue && res.State != nil {
		r.state = adopt(res.State, state)
	} else {
		e.logger.Error("error node did not complete", "session_id", state.SessionID, "signal", res.Signal, "reason", res.Reason)
	}
	r.state.Status = domain.StatusFailed
	r.state.HumanDecision = nil

	if err := e.save(ctx, r, domain.CheckpointTerminal); err != nil {
		return err
	}
	reason := "failed"
	if last, ok := r.state.LastError(); ok {
		reason = string(last.Kind)
	}
	e.emitSession(ctx, domain.EventTerminal, r.state, reason)
	e.logger.Info("session failed", "session_id", r.state.SessionID, "reason", reason)
	return nil
}

// adopt takes the domain output of a node and restores the fields owned by
// the engine from the state the node was given.
func adopt(out, in *domain.WorkflowState) *domain.WorkflowState {
	out.SessionID = in.SessionID
	out.Status = in.Status
	out.CurrentNode = in.CurrentNode
	out.LastRoute = in.LastRoute
	out.RetryCounts = in.RetryCounts
	out.Breakers = in.Breakers
	out.ErrorTrail = in.ErrorTrail
	out.HumanDecision = in.HumanDecision
	out.Reviews = in.Reviews
	out.History = in.History
	out.Steps = in.Steps
	out.CreatedAt = in.CreatedAt
	if out.RetryCounts == nil {
		out.RetryCounts = make(map[domain.NodeID]int)
	}
	return out
}

func moveTo(state *domain.WorkflowState, to domain.NodeID, label string) {
	state.CurrentNode = to
	state.LastRoute = label
	state.History = append(state.History, to)
}

func (e *Engine) track(id string, cancel context.CancelFunc) *flight {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := &flight{cancel: cancel}
	e.inflight[id] = f
	return f
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.inflight[id]; ok {
		f.cancel()
		delete(e.inflight, id)
	}
}

func (e *Engine) signalCancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.inflight[id]
	if !ok {
		return false
	}
	f.cancelled = true
	f.cancel()
	return true
}

func (e *Engine) isCancelled(f *flight) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return f.cancelled
}
