package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultRowLimit caps the rows returned by generated queries.
const DefaultRowLimit = 1000

// Generator reuses the SQL of the best catalog match. Each reroute back to the
// generator moves on to the next candidate so that a failing query is not
// simply executed again.
type Generator struct {
	RowLimit int
}

// Route labels the generator reacts to. They mirror pipeline's labels; the
// nodes package does not depend on the graph wiring.
const (
	labelEnriched = "enriched"
	labelRevised  = "revised"
)

func (g *Generator) Invoke(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
	if s.Analysis == nil || len(s.Analysis.Matches) == 0 {
		return domain.Fail(s, domain.FailureFatal, fmt.Sprintf("no known query answers %q", s.Question))
	}
	limit := g.RowLimit
	if limit == 0 {
		limit = DefaultRowLimit
	}

	reroutes := s.RetryCounts[domain.NodeExecute] + s.RetryCounts[domain.NodeValidate] + s.RetryCounts[domain.NodeReview]
	matches := s.Analysis.Matches
	m := matches[reroutes%len(matches)]

	q := &domain.GeneratedQuery{
		SQL:      EnsureLimit(m.SQL, limit),
		Source:   "catalog:" + m.ID,
		Enriched: s.LastRoute == labelEnriched,
	}
	var notes []string
	if q.Enriched && len(s.Analysis.Tables) > 0 {
		notes = append(notes, "tables: "+strings.Join(s.Analysis.Tables, ", "))
	}
	if s.LastRoute == labelRevised {
		if r, ok := lastReview(s, domain.NodeReview); ok && r.Notes != "" {
			notes = append(notes, "reviewer: "+r.Notes)
		}
	}
	q.Notes = strings.Join(notes, "; ")

	s.GeneratedQuery = q
	s.ExecutionResult = nil
	s.ValidationVerdict = nil
	return domain.Continue(s)
}

func lastReview(s *domain.WorkflowState, node domain.NodeID) (domain.HumanDecision, bool) {
	for i := len(s.Reviews) - 1; i >= 0; i-- {
		if s.Reviews[i].Node == node {
			return s.Reviews[i], true
		}
	}
	return domain.HumanDecision{}, false
}
