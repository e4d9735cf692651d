package nodes

import (
	"context"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// Chart types picked by the visualizer.
const (
	ChartTable = "table"
	ChartBar   = "bar"
	ChartLine  = "line"
	ChartPie   = "pie"
)

var timeColumns = []string{"date", "day", "week", "month", "quarter", "year", "time", "period"}

// Visualizer picks a chart for the result: the reviewer's preference first,
// then the catalog hint, then shape heuristics.
type Visualizer struct{}

func (Visualizer) Invoke(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
	r := s.ExecutionResult
	if r == nil {
		return domain.Fail(s, domain.FailureFatal, "nothing to visualize")
	}
	cfg := &domain.VisualizationConfig{Title: s.Question}
	if len(r.Columns) > 0 {
		cfg.X = r.Columns[0]
	}
	if y, ok := numericColumn(r); ok {
		cfg.Y = y
	}

	if d, ok := lastReview(s, domain.NodeReview); ok && d.Chart != "" {
		cfg.ChartType = strings.ToLower(d.Chart)
	} else if hint := catalogHint(s); hint != "" {
		cfg.ChartType = hint
	} else {
		cfg.ChartType = pickChart(s.Question, r, cfg.Y != "")
	}

	s.VisualizationConfig = cfg
	return domain.Continue(s)
}

func catalogHint(s *domain.WorkflowState) string {
	if s.Analysis == nil || s.GeneratedQuery == nil {
		return ""
	}
	for _, m := range s.Analysis.Matches {
		if "catalog:"+m.ID == s.GeneratedQuery.Source {
			return m.Chart
		}
	}
	return ""
}

func pickChart(question string, r *domain.ExecutionResult, hasMeasure bool) string {
	if !hasMeasure || len(r.Columns) < 2 || len(r.Rows) < 2 {
		return ChartTable
	}
	x := strings.ToLower(r.Columns[0])
	for _, t := range timeColumns {
		if strings.Contains(x, t) {
			return ChartLine
		}
	}
	q := strings.ToLower(question)
	if len(r.Rows) <= 6 && (strings.Contains(q, "share") || strings.Contains(q, "proportion") || strings.Contains(q, "breakdown")) {
		return ChartPie
	}
	return ChartBar
}

// numericColumn returns the first column after the first whose values are numbers.
func numericColumn(r *domain.ExecutionResult) (string, bool) {
	for i := 1; i < len(r.Columns); i++ {
		numeric := len(r.Rows) > 0
		for _, row := range r.Rows {
			if i >= len(row) {
				numeric = false
				break
			}
			switch row[i].(type) {
			case int, int32, int64, float32, float64:
			default:
				numeric = false
			}
		}
		if numeric {
			return r.Columns[i], true
		}
	}
	return "", false
}
