package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultReportRows is how many result rows the markdown table shows.
const DefaultReportRows = 20

// Reporter renders the final markdown report.
type Reporter struct {
	MaxRows int
	Clock   func() time.Time
}

func (p *Reporter) Invoke(_ context.Context, s *domain.WorkflowState) domain.NodeResult {
	r := s.ExecutionResult
	if r == nil {
		return domain.Fail(s, domain.FailureFatal, "nothing to report")
	}
	maxRows := p.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultReportRows
	}
	now := time.Now
	if p.Clock != nil {
		now = p.Clock
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Question)
	if c := s.VisualizationConfig; c != nil {
		fmt.Fprintf(&b, "**Chart:** %s", c.ChartType)
		if c.X != "" && c.Y != "" {
			fmt.Fprintf(&b, " of `%s` by `%s`", c.Y, c.X)
		}
		b.WriteString("\n\n")
	}

	b.WriteString("## Result\n\n")
	writeTable(&b, r.Columns, r.Rows, maxRows)
	if r.RowCount > maxRows {
		fmt.Fprintf(&b, "\n_%d of %d rows shown._\n", maxRows, r.RowCount)
	}

	if v := s.ValidationVerdict; v != nil && len(v.Reasons) > 0 {
		b.WriteString("\n## Notes\n\n")
		for _, reason := range v.Reasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
	}

	if q := s.GeneratedQuery; q != nil {
		fmt.Fprintf(&b, "\n## Query\n\n```sql\n%s\n```\n", q.SQL)
	}

	s.Report = &domain.Report{
		Title:       s.Question,
		Markdown:    b.String(),
		Chart:       s.VisualizationConfig,
		GeneratedAt: now().UTC(),
	}
	return domain.Continue(s)
}

func writeTable(b *strings.Builder, cols []string, rows [][]any, maxRows int) {
	if len(cols) == 0 {
		b.WriteString("_No columns._\n")
		return
	}
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for i, row := range rows {
		if i >= maxRows {
			break
		}
		cells := make([]string, len(cols))
		for j := range cols {
			if j < len(row) && row[j] != nil {
				cells[j] = strings.ReplaceAll(fmt.Sprint(row[j]), "|", `\|`)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
}
