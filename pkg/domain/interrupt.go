package domain

import (
	"fmt"
	"strings"
	"time"
)

// Decision is the outcome of a human review.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRevise  Decision = "revise"
	DecisionReject  Decision = "reject"
)

// ParseDecision normalizes raw input into a Decision.
func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(raw))); d {
	case DecisionApprove, DecisionRevise, DecisionReject:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q (want approve, revise or reject)", ErrInvalidDecision, raw)
	}
}

// HumanDecision is injected into the state by Resume.
type HumanDecision struct {
	Decision Decision `json:"decision"`
	Notes    string   `json:"notes,omitempty"`
	// Chart optionally overrides the chart type picked by the visualizer.
	Chart string `json:"chart,omitempty"`
	// Node is the node the decision answered; filled by the engine.
	Node      NodeID    `json:"node,omitempty"`
	DecidedAt time.Time `json:"decided_at,omitzero"`
}

// InterruptKind tells the caller what kind of input is awaited.
type InterruptKind string

const (
	InterruptClarification InterruptKind = "clarification"
	InterruptReview        InterruptKind = "review"
)

// InterruptRequest describes what the human must decide. It is derived from
// the checkpointed state on demand and never stored on its own.
type InterruptRequest struct {
	SessionID string         `json:"session_id"`
	Node      NodeID         `json:"node"`
	Kind      InterruptKind  `json:"kind"`
	Prompt    string         `json:"prompt"`
	Options   []Decision     `json:"options"`
	Payload   map[string]any `json:"payload,omitempty"`
}
