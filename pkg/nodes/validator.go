package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// Validator applies rule-based quality checks to the execution result.
type Validator struct {
	// MaxNullRatio is the share of empty values above which a column fails.
	MaxNullRatio float64
}

func (v *Validator) Invoke(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
	r := s.ExecutionResult
	if r == nil || !r.Succeeded {
		return domain.Fail(s, domain.FailureFatal, "nothing to validate: the query did not execute")
	}
	maxNull := v.MaxNullRatio
	if maxNull == 0 {
		maxNull = 0.5
	}

	verdict := &domain.ValidationVerdict{Passed: true}
	if r.RowCount == 0 || len(r.Rows) == 0 {
		verdict.Passed = false
		verdict.Reasons = append(verdict.Reasons, "no data returned, check the query filters")
	}
	if sparse := sparseColumns(r, maxNull); len(sparse) > 0 {
		verdict.Passed = false
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("mostly empty columns: %s", strings.Join(sparse, ", ")))
	}
	if dup := duplicates(r.Rows); dup*10 > len(r.Rows) && dup > 0 {
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("%d duplicate rows out of %d", dup, len(r.Rows)))
	}

	s.ValidationVerdict = verdict
	if !verdict.Passed {
		return domain.Unsuccessful(s, strings.Join(verdict.Reasons, "; "))
	}
	return domain.Continue(s)
}

func sparseColumns(r *domain.ExecutionResult, maxRatio float64) []string {
	if len(r.Rows) == 0 {
		return nil
	}
	var out []string
	for i, col := range r.Columns {
		empty := 0
		for _, row := range r.Rows {
			if i >= len(row) || row[i] == nil || row[i] == "" {
				empty++
			}
		}
		if float64(empty)/float64(len(r.Rows)) > maxRatio {
			out = append(out, col)
		}
	}
	return out
}

func duplicates(rows [][]any) int {
	seen := make(map[string]bool, len(rows))
	dup := 0
	for _, row := range rows {
		key := fmt.Sprint(row...)
		if seen[key] {
			dup++
		}
		seen[key] = true
	}
	return dup
}

// Reviewer suspends until a human approves, revises or rejects the result.
// Revise is reported as an unsuccessful outcome so the reroute counter of the
// review node survives until the query is approved.
type Reviewer struct{}

func (Reviewer) Invoke(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
	d := s.HumanDecision
	if d == nil {
		return domain.Suspend(s, "awaiting review")
	}
	switch d.Decision {
	case domain.DecisionReject:
		return domain.Fail(s, domain.FailureRejected, "result rejected by reviewer")
	case domain.DecisionRevise:
		return domain.Unsuccessful(s, "revision requested")
	default:
		return domain.Continue(s)
	}
}
