package domain

import "fmt"

// NodeID identifies a step of the analytical pipeline.
// The set of ids is closed: graphs can only be built from the constants below.
type NodeID string

const (
	// NodeAnalyze scores the question against known queries and sets Confidence.
	NodeAnalyze NodeID = "analyze"
	// NodeClarify suspends to ask the user to rephrase a low-confidence question.
	NodeClarify NodeID = "clarify"
	// NodeGenerate writes the query to execute.
	NodeGenerate NodeID = "generate"
	// NodeExecute dry-runs and then executes the generated query.
	NodeExecute NodeID = "execute"
	// NodeValidate checks the execution result.
	NodeValidate NodeID = "validate"
	// NodeReview suspends for human approval of the validated result.
	NodeReview NodeID = "review"
	// NodeVisualize picks a chart for the result.
	NodeVisualize NodeID = "visualize"
	// NodeReport renders the final report.
	NodeReport NodeID = "report"
	// NodeError produces the terminal failure summary.
	NodeError NodeID = "error"
)

var knownNodes = []NodeID{
	NodeAnalyze,
	NodeClarify,
	NodeGenerate,
	NodeExecute,
	NodeValidate,
	NodeReview,
	NodeVisualize,
	NodeReport,
	NodeError,
}

// KnownNodes returns every valid node id in pipeline order.
func KnownNodes() []NodeID {
	out := make([]NodeID, len(knownNodes))
	copy(out, knownNodes)
	return out
}

// Valid reports whether id belongs to the closed set of node ids.
func (id NodeID) Valid() bool {
	for _, n := range knownNodes {
		if n == id {
			return true
		}
	}
	return false
}

func (id NodeID) String() string { return string(id) }

// ParseNodeID converts a raw string into a NodeID, rejecting unknown ids.
func ParseNodeID(raw string) (NodeID, error) {
	id := NodeID(raw)
	if !id.Valid() {
		return "", fmt.Errorf("%w: unknown node id %q", ErrInvalidGraph, raw)
	}
	return id, nil
}

// Signal tells the engine what to do after a node invocation.
type Signal string

const (
	SignalContinue Signal = "CONTINUE"
	SignalSuspend  Signal = "SUSPEND"
	SignalFail     Signal = "FAIL"
)

// FailureKind classifies a FAIL signal (or a recorded error) for the retry policy.
type FailureKind string

const (
	// FailureTransient failures (timeouts, rate limits) are retried in place.
	FailureTransient FailureKind = "transient"
	// FailureRecoverable failures are routed back to an earlier node.
	// Nodes report them as data (CONTINUE with Succeeded=false), never as FAIL.
	FailureRecoverable FailureKind = "recoverable"
	// FailureFatal failures escalate to the error node immediately.
	FailureFatal FailureKind = "fatal"
	// FailureBreakerOpen is produced by the policy when the circuit is open.
	FailureBreakerOpen FailureKind = "breaker_open"
	// FailureCancelled marks a cooperative cancellation.
	FailureCancelled FailureKind = "cancelled"
	// FailureRejected marks a human "reject" decision.
	FailureRejected FailureKind = "rejected"
	// FailureRouting marks an undefined or ambiguous routing case.
	FailureRouting FailureKind = "route_undefined"
	// FailureStepLimit marks a session that exceeded the configured step budget.
	FailureStepLimit FailureKind = "step_limit"
)

// Retryable reports whether the policy may re-invoke the node in place.
func (k FailureKind) Retryable() bool { return k == FailureTransient }

// CountsTowardBreaker reports whether a failure of this kind trips the circuit breaker.
func (k FailureKind) CountsTowardBreaker() bool {
	return k == FailureTransient || k == FailureFatal
}

// NodeResult is returned by every node invocation.
type NodeResult struct {
	// Succeeded is false when the node did its job but the outcome is negative
	// (e.g. a query that failed validation). The policy only resets retry and
	// breaker bookkeeping on Succeeded results.
	Succeeded bool
	State     *WorkflowState
	Signal    Signal
	Failure   FailureKind
	Reason    string
}

// Continue returns a successful result that lets the engine route onwards.
func Continue(state *WorkflowState) NodeResult {
	return NodeResult{Succeeded: true, State: state, Signal: SignalContinue}
}

// Unsuccessful returns a CONTINUE result carrying a negative outcome for routing.
func Unsuccessful(state *WorkflowState, reason string) NodeResult {
	return NodeResult{Succeeded: false, State: state, Signal: SignalContinue, Reason: reason}
}

// Suspend asks the engine to checkpoint and wait for a human decision.
func Suspend(state *WorkflowState, reason string) NodeResult {
	return NodeResult{Succeeded: true, State: state, Signal: SignalSuspend, Reason: reason}
}

// Fail reports a failed invocation of the given kind.
func Fail(state *WorkflowState, kind FailureKind, reason string) NodeResult {
	return NodeResult{Succeeded: false, State: state, Signal: SignalFail, Failure: kind, Reason: reason}
}
