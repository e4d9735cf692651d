package runtime

import (
	"fmt"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// previewRows bounds the result rows echoed back in a review request.
const previewRows = 5

// Pending derives the interrupt request of a suspended session from its state.
// It returns false when the session is not waiting for input.
func Pending(state *domain.WorkflowState) (*domain.InterruptRequest, bool) {
	if state == nil || state.Status != domain.StatusWaitingForInput {
		return nil, false
	}

	req := &domain.InterruptRequest{
		SessionID: state.SessionID,
		Node:      state.CurrentNode,
		Options:   []domain.Decision{domain.DecisionApprove, domain.DecisionRevise, domain.DecisionReject},
		Payload:   map[string]any{"question": state.Question},
	}

	switch state.CurrentNode {
	case domain.NodeClarify:
		req.Kind = domain.InterruptClarification
		req.Prompt = fmt.Sprintf(
			"The question %q could not be matched confidently (confidence %.2f). "+
				"Revise it with a clearer question in the notes, approve to continue anyway, or reject to stop.",
			state.Question, state.Confidence)
		req.Payload["confidence"] = state.Confidence
		if state.Analysis != nil && len(state.Analysis.Matches) > 0 {
			var suggestions []string
			for _, m := range state.Analysis.Matches {
				suggestions = append(suggestions, m.Question)
			}
			req.Payload["suggestions"] = suggestions
		}
	default:
		req.Kind = domain.InterruptReview
		req.Prompt = "Review the generated query and its result. Approve to build the report, " +
			"revise with notes to regenerate the query, or reject to stop."
		if q := state.GeneratedQuery; q != nil {
			req.Payload["sql"] = q.SQL
		}
		if r := state.ExecutionResult; r != nil {
			req.Payload["columns"] = r.Columns
			req.Payload["row_count"] = r.RowCount
			rows := r.Rows
			if len(rows) > previewRows {
				rows = rows[:previewRows]
			}
			req.Payload["preview"] = rows
		}
		if v := state.ValidationVerdict; v != nil && len(v.Reasons) > 0 {
			req.Payload["validation"] = strings.Join(v.Reasons, "; ")
		}
	}
	return req, true
}

// applyDecision validates a human decision and injects it into the state of a
// waiting session. The caller must have checked the session status.
func applyDecision(state *domain.WorkflowState, decision domain.HumanDecision) error {
	d, err := domain.ParseDecision(string(decision.Decision))
	if err != nil {
		return err
	}
	decision.Decision = d
	if decision.Notes, err = domain.SanitizeInput(strings.TrimSpace(decision.Notes)); err != nil {
		return err
	}
	decision.Node = state.CurrentNode
	state.HumanDecision = &decision
	return nil
}

// consumeDecision moves the decision a node was invoked with into the review
// log, so that it is used exactly once and stays visible to routing.
func consumeDecision(state *domain.WorkflowState, given *domain.HumanDecision) {
	if given == nil {
		return
	}
	state.Reviews = append(state.Reviews, *given)
	state.HumanDecision = nil
}
