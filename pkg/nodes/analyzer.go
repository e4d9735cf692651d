package nodes

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultCandidates is how many catalog matches the analyzer keeps.
const DefaultCandidates = 3

// Analyzer scores the question against the catalog and sets Confidence to the
// best match score.
type Analyzer struct {
	Catalog    *Catalog
	Candidates int
}

func (a *Analyzer) Invoke(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
	n := a.Candidates
	if n <= 0 {
		n = DefaultCandidates
	}
	matches := a.Catalog.Match(s.Question, n)

	analysis := &domain.Analysis{Matches: matches}
	s.Confidence = 0
	if len(matches) > 0 {
		s.Confidence = matches[0].Score
		if e, ok := a.Catalog.Lookup(matches[0].ID); ok {
			analysis.Tables = append([]string(nil), e.Tables...)
		}
	}
	s.Analysis = analysis
	return domain.Continue(s)
}

// Clarifier suspends a low-confidence session until the user rephrases the
// question (revise), accepts the best guess (approve) or gives up (reject).
// Notes given with revise or approve replace the question.
type Clarifier struct{}

func (Clarifier) Invoke(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
	d := s.HumanDecision
	if d == nil {
		return domain.Suspend(s, "question needs clarification")
	}
	switch d.Decision {
	case domain.DecisionReject:
		return domain.Fail(s, domain.FailureRejected, "question rejected during clarification")
	case domain.DecisionRevise:
		if d.Notes == "" {
			return domain.Suspend(s, "a revised question is required")
		}
		s.Question = d.Notes
	default:
		if d.Notes != "" {
			s.Question = d.Notes
		}
	}
	return domain.Continue(s)
}
