package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/retry"
)

// DefaultMaxBytes is the dry-run estimate above which a query is refused (200 GiB).
const DefaultMaxBytes int64 = 200 << 30

// Rows is a tabular query result.
type Rows struct {
	Columns []string
	Rows    [][]any
	// BytesProcessed is reported by runners that know it; zero otherwise.
	BytesProcessed int64
}

// Runner executes read-only statements.
type Runner interface {
	// DryRun estimates the bytes the statement would process without running it.
	DryRun(ctx context.Context, sql string) (int64, error)
	Query(ctx context.Context, sql string) (*Rows, error)
}

// ErrTooExpensive is recorded when the dry run exceeds the byte limit.
var ErrTooExpensive = errors.New("query exceeds the processing limit")

// Executor guards and runs the generated query.
//
// Statement errors become a recoverable ExecutionResult (the generator may
// produce a better query); infrastructure errors become FAIL signals
// classified by retry.Classify so the engine retries transient ones.
type Executor struct {
	Runner   Runner
	MaxBytes int64
}

func (x *Executor) Invoke(ctx context.Context, s *domain.WorkflowState) domain.NodeResult {
	if s.GeneratedQuery == nil {
		return domain.Fail(s, domain.FailureFatal, "no query to execute")
	}
	sql := s.GeneratedQuery.SQL
	limit := x.MaxBytes
	if limit == 0 {
		limit = DefaultMaxBytes
	}

	if err := CheckReadOnly(sql); err != nil {
		return failed(s, &domain.ExecutionResult{Recoverable: true, Error: err.Error()})
	}

	estimate, err := x.Runner.DryRun(ctx, sql)
	if err != nil {
		if res, ok := infrastructure(s, err); ok {
			return res
		}
		return failed(s, &domain.ExecutionResult{Recoverable: true, Error: "dry run: " + err.Error()})
	}
	if estimate > limit {
		return failed(s, &domain.ExecutionResult{
			EstimatedBytes: estimate,
			Error: fmt.Sprintf("%v: estimated %.2f GiB, limit %.2f GiB",
				ErrTooExpensive, gib(estimate), gib(limit)),
		})
	}

	rows, err := x.Runner.Query(ctx, sql)
	if err != nil {
		if res, ok := infrastructure(s, err); ok {
			return res
		}
		return failed(s, &domain.ExecutionResult{EstimatedBytes: estimate, Recoverable: true, Error: err.Error()})
	}

	s.ExecutionResult = &domain.ExecutionResult{
		Succeeded:      true,
		Columns:        rows.Columns,
		Rows:           rows.Rows,
		RowCount:       len(rows.Rows),
		BytesProcessed: rows.BytesProcessed,
		EstimatedBytes: estimate,
	}
	return domain.Continue(s)
}

func failed(s *domain.WorkflowState, r *domain.ExecutionResult) domain.NodeResult {
	r.Succeeded = false
	s.ExecutionResult = r
	return domain.Unsuccessful(s, r.Error)
}

// infrastructure turns cancellations, transient and permanent errors into FAIL
// results. Anything else is blamed on the statement.
func infrastructure(s *domain.WorkflowState, err error) (domain.NodeResult, bool) {
	var permanent *retry.PermanentError
	if errors.As(err, &permanent) {
		return retry.Fail(s, err), true
	}
	switch retry.Classify(err) {
	case domain.FailureTransient, domain.FailureCancelled:
		return retry.Fail(s, err), true
	}
	return domain.NodeResult{}, false
}

func gib(b int64) float64 { return float64(b) / (1 << 30) }
