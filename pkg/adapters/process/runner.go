// Package process runs generated statements through an external command,
// for warehouses that are reached through a CLI rather than a Go driver.
//
// The command receives the statement in ESPALIER_SQL and the mode
// ("query" or "dryrun") in ESPALIER_MODE. It never sees the statement as a
// command-line argument. On success it prints one JSON document on stdout:
//
//	{"columns": ["region", "total"], "rows": [["north", 10]], "bytes_processed": 1024}
//
// A dry run only needs bytes_processed.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/nodes"
	"github.com/aretw0/espalier/pkg/retry"
)

const (
	envPrefix = "ESPALIER_"

	ModeQuery  = "query"
	ModeDryRun = "dryrun"

	// exTempFail is the sysexits.h code for temporary failures.
	exTempFail = 75

	maxStderr = 2048
)

// Runner implements nodes.Runner by executing an allow-listed command.
type Runner struct {
	cfg     Config
	timeout time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithTimeout bounds each invocation; zero means no timeout besides ctx.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// NewRunner creates a Runner for cfg.
func NewRunner(cfg Config, opts ...RunnerOption) (*Runner, error) {
	if !cfg.Enabled() {
		return nil, errors.New("process runner requires a command")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.TransientExitCodes) == 0 {
		cfg.TransientExitCodes = []int{exTempFail}
	}
	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

var _ nodes.Runner = (*Runner)(nil)

type output struct {
	Columns        []string `json:"columns"`
	Rows           [][]any  `json:"rows"`
	BytesProcessed int64    `json:"bytes_processed"`
}

// DryRun asks the command for the bytes the statement would process.
func (r *Runner) DryRun(ctx context.Context, sql string) (int64, error) {
	out, err := r.exec(ctx, ModeDryRun, sql)
	if err != nil {
		return 0, err
	}
	return out.BytesProcessed, nil
}

// Query runs the statement and decodes the rows.
func (r *Runner) Query(ctx context.Context, sql string) (*nodes.Rows, error) {
	out, err := r.exec(ctx, ModeQuery, sql)
	if err != nil {
		return nil, err
	}
	for i, row := range out.Rows {
		if len(row) != len(out.Columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(out.Columns))
		}
	}
	return &nodes.Rows{Columns: out.Columns, Rows: out.Rows, BytesProcessed: out.BytesProcessed}, nil
}

func (r *Runner) exec(ctx context.Context, mode, sql string) (*output, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command, r.cfg.Args...)
	cmd.Dir = r.cfg.Dir
	env := cmd.Environ()
	for k, v := range r.cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = append(env, envPrefix+"MODE="+mode, envPrefix+"SQL="+sql)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, r.classify(ctx, err, stderr.String())
	}

	var out output
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("command %s printed invalid output: %w", r.cfg.Command, err))
	}
	return &out, nil
}

// classify maps a failed invocation onto the retry policy: timeouts and the
// configured exit codes are transient, a missing binary is permanent, any
// other exit is a statement error the generator may fix.
func (r *Runner) classify(ctx context.Context, err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if len(msg) > maxStderr {
		msg = msg[:maxStderr]
	}
	if ctx.Err() != nil {
		return retry.Transient(fmt.Errorf("command %s: %w", r.cfg.Command, ctx.Err()))
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return retry.Permanent(fmt.Errorf("command %s: %w", r.cfg.Command, err))
	}
	wrapped := fmt.Errorf("command %s exited with %d: %s", r.cfg.Command, exitErr.ExitCode(), msg)
	if slices.Contains(r.cfg.TransientExitCodes, exitErr.ExitCode()) {
		return retry.Transient(wrapped)
	}
	return wrapped
}
