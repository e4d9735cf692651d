package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// UserMessage is the user-facing explanation of a failure kind.
type UserMessage struct {
	Title   string
	Message string
	Actions []string
}

var userMessages = map[domain.FailureKind]UserMessage{
	domain.FailureTransient: {
		Title:   "Service Temporarily Unavailable",
		Message: "A service needed to answer your question kept failing.",
		Actions: []string{"Wait a few minutes and try again"},
	},
	domain.FailureBreakerOpen: {
		Title:   "Processing Paused",
		Message: "A step failed repeatedly and was paused to protect the system.",
		Actions: []string{"Wait a minute before trying again", "Contact support if the issue persists"},
	},
	domain.FailureRejected: {
		Title:   "Stopped by Reviewer",
		Message: "The analysis was rejected during review.",
		Actions: []string{"Ask a more specific question", "Mention the metric and the time period you need"},
	},
	domain.FailureCancelled: {
		Title:   "Cancelled",
		Message: "The analysis was cancelled before it finished.",
		Actions: []string{"Start a new question when you are ready"},
	},
	domain.FailureStepLimit: {
		Title:   "Analysis Took Too Many Steps",
		Message: "The analysis went back and forth too often without converging.",
		Actions: []string{"Break the question into smaller parts"},
	},
	domain.FailureRouting: {
		Title:   "System Error",
		Message: "The system could not decide how to continue with your request.",
		Actions: []string{"Please try again in a few minutes", "Contact support if the issue persists"},
	},
}

var (
	dataTooLarge = UserMessage{
		Title:   "Dataset Too Large",
		Message: "The requested analysis covers a very large dataset.",
		Actions: []string{
			"Narrow your date range (e.g., last quarter instead of last year)",
			"Focus on specific categories or channels",
			"Request summary statistics instead of detailed data",
		},
	}
	queryFailed = UserMessage{
		Title:   "Query Generation Issue",
		Message: "No working query could be produced for your question.",
		Actions: []string{"Try rephrasing your question", "Use more specific business terms"},
	}
	validationFailed = UserMessage{
		Title:   "Analysis Quality Check Failed",
		Message: "The result did not pass the quality checks.",
		Actions: []string{"Expand your date range", "Remove restrictive filters", "Try a broader version of your question"},
	}
	processingIssue = UserMessage{
		Title:   "Processing Issue",
		Message: "There was an issue processing your request.",
		Actions: []string{"Try rephrasing your question", "Check that your question is about business data"},
	}
)

// MessageFor picks the user-facing message of a failed session.
func MessageFor(s *domain.WorkflowState) UserMessage {
	if last, ok := s.LastError(); ok {
		if m, ok := userMessages[last.Kind]; ok {
			return m
		}
	}
	if r := s.ExecutionResult; r != nil && !r.Succeeded {
		if strings.Contains(r.Error, ErrTooExpensive.Error()) {
			return dataTooLarge
		}
		return queryFailed
	}
	if v := s.ValidationVerdict; v != nil && !v.Passed {
		return validationFailed
	}
	return processingIssue
}

// ErrorHandler writes the failure summary as the session report. It never fails.
type ErrorHandler struct {
	Clock func() time.Time
}

func (h *ErrorHandler) Invoke(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
	now := time.Now
	if h.Clock != nil {
		now = h.Clock
	}
	m := MessageFor(s)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", m.Title, m.Message)
	if n := len(s.ErrorTrail); n > 0 {
		fmt.Fprintf(&b, "\n_Attempts that failed: %d._\n", n)
	}
	if r := s.ExecutionResult; r != nil && r.Error != "" {
		fmt.Fprintf(&b, "\n> %s\n", r.Error)
	}
	if v := s.ValidationVerdict; v != nil && len(v.Reasons) > 0 {
		fmt.Fprintf(&b, "\n> %s\n", strings.Join(v.Reasons, "; "))
	}
	b.WriteString("\n## What you can do\n\n")
	for _, a := range m.Actions {
		fmt.Fprintf(&b, "- %s\n", a)
	}

	s.Report = &domain.Report{
		Title:       m.Title,
		Markdown:    b.String(),
		GeneratedAt: now().UTC(),
	}
	return domain.Continue(s)
}
