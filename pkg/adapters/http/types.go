package http

import (
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// StartRequest is the body of POST /sessions.
type StartRequest struct {
	Question string `json:"question"`
}

// ResumeRequest is the body of POST /sessions/{id}/resume.
type ResumeRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
	Chart    string `json:"chart,omitempty"`
}

// Session is the caller-facing view of a session.
type Session struct {
	SessionID     string                   `json:"session_id"`
	Status        domain.Status            `json:"status"`
	CurrentNode   domain.NodeID            `json:"current_node"`
	Question      string                   `json:"question,omitempty"`
	Version       int                      `json:"version,omitempty"`
	LastRoute     string                   `json:"last_route,omitempty"`
	RetryCounts   map[domain.NodeID]int    `json:"retry_counts,omitempty"`
	UpdatedAt     time.Time                `json:"updated_at,omitzero"`
	PendingReview *domain.InterruptRequest `json:"pending_review,omitempty"`
}

// Result is the terminal outcome of a session.
type Result struct {
	SessionID string         `json:"session_id"`
	Status    domain.Status  `json:"status"`
	Report    *domain.Report `json:"report,omitempty"`
	Error     *ErrorBody     `json:"error,omitempty"`
}

// CheckpointSummary is one entry of GET /sessions/{id}/history.
type CheckpointSummary struct {
	Version   int                     `json:"version"`
	Node      domain.NodeID           `json:"node"`
	Reason    domain.CheckpointReason `json:"reason"`
	Status    domain.Status           `json:"status,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// ErrorBody is the machine-readable part of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps every non-2xx body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func sessionFromView(v *domain.SessionView) Session {
	s := v.State
	return Session{
		SessionID:     s.SessionID,
		Status:        s.Status,
		CurrentNode:   s.CurrentNode,
		Question:      s.Question,
		Version:       v.Version,
		LastRoute:     s.LastRoute,
		RetryCounts:   s.RetryCounts,
		UpdatedAt:     s.UpdatedAt,
		PendingReview: v.Interrupt,
	}
}

func summarize(cp *domain.Checkpoint) CheckpointSummary {
	out := CheckpointSummary{
		Version:   cp.Version,
		Node:      cp.Node,
		Reason:    cp.Reason,
		CreatedAt: cp.CreatedAt,
	}
	if cp.State != nil {
		out.Status = cp.State.Status
	}
	return out
}
