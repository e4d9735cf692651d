package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/graph"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/retry"
)

// Policy holds the engine-wide retry and circuit-breaker defaults.
type Policy struct {
	// MaxRetries is the number of in-place re-invocations after a transient failure.
	MaxRetries int
	// BreakerThreshold is the number of consecutive failures that opens the
	// breaker of a (session, node) pair. Zero means MaxRetries.
	BreakerThreshold int
	// Cooldown is how long an open breaker rejects entries before a single
	// half-open trial is allowed.
	Cooldown time.Duration
	// Backoff is the pause between in-place retries.
	Backoff retry.Backoff
}

// DefaultPolicy returns the defaults used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, Cooldown: time.Minute}
}

// resolve merges a per-node override into the defaults.
func (p Policy) resolve(override graph.Policy) Policy {
	out := p
	if override.MaxRetries > 0 {
		out.MaxRetries = override.MaxRetries
	}
	if override.BreakerThreshold > 0 {
		out.BreakerThreshold = override.BreakerThreshold
	}
	if override.Cooldown > 0 {
		out.Cooldown = override.Cooldown
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = out.MaxRetries
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 1
	}
	return out
}

// outcome is what the policy hands back to the engine for one step.
type outcome struct {
	result   domain.NodeResult
	attempts int
	// escalate is set when the failure must be routed to the error node.
	escalate bool
}

// attemptHook is notified before every in-place retry so the engine can
// checkpoint the RETRYING position.
type attemptHook func(ctx context.Context, state *domain.WorkflowState, attempt int, failure domain.NodeResult) error

// invoke runs one node through the retry and breaker policy.
// state is owned by the engine: it receives the bookkeeping (retry counts,
// breaker, error trail) but never the node's own mutations, which only
// arrive through outcome.result.State.
func (e *Engine) invoke(ctx context.Context, spec *graph.NodeSpec, state *domain.WorkflowState, onRetry attemptHook) (outcome, error) {
	pol := e.policy.resolve(spec.Policy)
	node := spec.ID
	breaker := state.Breaker(node)
	now := e.clock()

	halfOpen := false
	if breaker.Open {
		if now.Before(breaker.OpenUntil) {
			msg := fmt.Sprintf("circuit open for %s until %s", node, breaker.OpenUntil.Format(time.RFC3339))
			state.RecordError(node, domain.FailureBreakerOpen, msg, 0, now)
			return outcome{result: domain.Fail(state, domain.FailureBreakerOpen, msg), escalate: true}, nil
		}
		// Cooldown elapsed: allow one trial without retries.
		halfOpen = true
		breaker.Open = false
		e.logger.Debug("breaker half-open", "session_id", state.SessionID, "node", node)
	}

	for attempt := 1; ; attempt++ {
		res := e.call(ctx, spec.Node, node, state, attempt)

		if res.Signal != domain.SignalFail {
			if res.Succeeded {
				delete(state.RetryCounts, node)
				*breaker = domain.BreakerState{}
			}
			return outcome{result: res, attempts: attempt}, nil
		}

		kind := res.Failure
		if ctx.Err() != nil {
			kind = domain.FailureCancelled
		}
		if kind == "" {
			kind = domain.FailureFatal
		}
		res.Failure = kind
		now = e.clock()
		state.RecordError(node, kind, res.Reason, attempt, now)

		if kind.CountsTowardBreaker() {
			breaker.Failures++
			if !breaker.Open && (halfOpen || breaker.Failures >= pol.BreakerThreshold) {
				breaker.Open = true
				breaker.OpenedAt = now
				breaker.OpenUntil = now.Add(pol.Cooldown)
				e.emitNode(ctx, domain.EventBreakerOpen, state.SessionID, node, res, attempt, 0)
				e.logger.Warn("circuit breaker opened",
					"session_id", state.SessionID, "node", node, "failures", breaker.Failures)
			}
		}

		if !kind.Retryable() || halfOpen || state.RetryCounts[node] >= pol.MaxRetries || ctx.Err() != nil {
			return outcome{result: res, attempts: attempt, escalate: true}, nil
		}

		state.RetryCounts[node]++
		e.emitNode(ctx, domain.EventRetry, state.SessionID, node, res, attempt, 0)
		e.logger.Info("retrying node",
			"session_id", state.SessionID, "node", node,
			"attempt", attempt+1, "reason", res.Reason)
		if onRetry != nil {
			if err := onRetry(ctx, state, attempt, res); err != nil {
				return outcome{}, err
			}
		}
		if err := pol.Backoff.Wait(ctx, state.RetryCounts[node]); err != nil {
			res.Failure = domain.FailureCancelled
			return outcome{result: res, attempts: attempt, escalate: true}, nil
		}
	}
}

// call invokes a node on a private copy of the state, converting panics and
// malformed results into fatal failures.
func (e *Engine) call(ctx context.Context, impl ports.Node, node domain.NodeID, state *domain.WorkflowState, attempt int) (res domain.NodeResult) {
	start := e.clock()
	e.emitNode(ctx, domain.EventNodeEnter, state.SessionID, node, domain.NodeResult{}, attempt, 0)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("node panicked", "session_id", state.SessionID, "node", node, "panic", r)
			res = domain.Fail(nil, domain.FailureFatal, fmt.Sprintf("node %s panicked: %v", node, r))
		}
		e.emitNode(ctx, domain.EventNodeLeave, state.SessionID, node, res, attempt, e.clock().Sub(start))
	}()

	res = impl.Invoke(ctx, state.Clone())
	switch {
	case res.Signal == domain.SignalFail:
	case res.State == nil:
		return domain.Fail(nil, domain.FailureFatal, fmt.Sprintf("node %s returned no state", node))
	case res.State.SessionID != state.SessionID:
		return domain.Fail(nil, domain.FailureFatal, fmt.Sprintf("node %s changed the session id", node))
	case res.Signal != domain.SignalContinue && res.Signal != domain.SignalSuspend:
		return domain.Fail(nil, domain.FailureFatal, fmt.Sprintf("node %s returned unknown signal %q", node, res.Signal))
	}
	return res
}
