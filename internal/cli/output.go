package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/aretw0/espalier/pkg/domain"
)

var (
	okColor      = color.New(color.FgGreen, color.Bold)
	waitColor    = color.New(color.FgYellow, color.Bold)
	failColor    = color.New(color.FgRed, color.Bold)
	runningColor = color.New(color.FgCyan)
	faint        = color.New(color.Faint)
)

func statusColor(s domain.Status) *color.Color {
	switch s {
	case domain.StatusCompleted:
		return okColor
	case domain.StatusFailed:
		return failColor
	case domain.StatusWaitingForInput:
		return waitColor
	default:
		return runningColor
	}
}

// PrintSession writes a human-readable summary of a session, including the
// pending decision when the session waits for input.
func PrintSession(w io.Writer, v *domain.SessionView) {
	s := v.State
	fmt.Fprintf(w, "Session  %s\n", s.SessionID)
	fmt.Fprintf(w, "Status   %s\n", statusColor(s.Status).Sprint(s.Status))
	fmt.Fprintf(w, "Node     %s\n", s.CurrentNode)
	fmt.Fprintf(w, "Question %s\n", s.Question)
	if s.Confidence > 0 {
		fmt.Fprintf(w, "Confidence %.2f\n", s.Confidence)
	}
	if len(s.RetryCounts) > 0 {
		fmt.Fprintf(w, "Retries  %s\n", formatCounts(s.RetryCounts))
	}
	if last, ok := s.LastError(); ok && s.Status == domain.StatusFailed {
		fmt.Fprintf(w, "Reason   %s\n", failColor.Sprintf("%s: %s", last.Kind, last.Message))
	}

	req := v.Interrupt
	if req == nil {
		return
	}
	fmt.Fprintf(w, "\n%s\n", waitColor.Sprintf("Waiting for %s", req.Kind))
	fmt.Fprintf(w, "%s\n", req.Prompt)
	if sql, ok := req.Payload["sql"].(string); ok {
		fmt.Fprintf(w, "\n%s\n", faint.Sprint(strings.TrimSpace(sql)))
	}
	if rows, ok := req.Payload["row_count"].(int); ok {
		fmt.Fprintf(w, "%d row(s) returned\n", rows)
	}
	if reasons, ok := req.Payload["validation"].(string); ok {
		fmt.Fprintf(w, "Validation notes: %s\n", reasons)
	}
	if suggestions, ok := req.Payload["suggestions"].([]string); ok {
		fmt.Fprintln(w, "Did you mean:")
		for _, q := range suggestions {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
	opts := make([]string, len(req.Options))
	for i, o := range req.Options {
		opts[i] = string(o)
	}
	fmt.Fprintf(w, "\nespalier resume %s --decision %s\n", s.SessionID, strings.Join(opts, "|"))
}

// PrintSessions writes one line per session.
func PrintSessions(w io.Writer, views []*domain.SessionView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tNODE\tUPDATED\tQUESTION")
	for _, v := range views {
		s := v.State
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.SessionID, statusColor(s.Status).Sprint(s.Status), s.CurrentNode,
			s.UpdatedAt.Local().Format(time.DateTime), truncate(s.Question, 60))
	}
	_ = tw.Flush()
}

// PrintResult renders the report of a completed session, or the failure
// reason of a failed one. Other errors are returned.
func PrintResult(w io.Writer, report *domain.Report, err error, render func(string) (string, error)) error {
	var failed *domain.FailedError
	switch {
	case errors.As(err, &failed):
		fmt.Fprintf(w, "%s %s\n", failColor.Sprint("FAILED"), failed.Code)
		fmt.Fprintln(w, failed.Message)
		return nil
	case err != nil:
		return err
	}
	out, rerr := render(report.Markdown)
	if rerr != nil {
		out = report.Markdown
	}
	fmt.Fprint(w, out)
	return nil
}

func formatCounts(counts map[domain.NodeID]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[domain.NodeID(k)])
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
