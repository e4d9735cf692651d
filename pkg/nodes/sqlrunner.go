package nodes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/aretw0/espalier/pkg/retry"
)

// SQLRunner runs statements against a Postgres database.
// Dry runs use EXPLAIN; queries run in a read-only transaction.
type SQLRunner struct {
	DB *sql.DB
	// Timeout bounds each query; zero means no timeout besides ctx.
	Timeout time.Duration
}

// OpenPostgres opens a lib/pq connection pool and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", classifyPQ(err))
	}
	return db, nil
}

type explainPlan struct {
	Plan struct {
		Rows  float64 `json:"Plan Rows"`
		Width float64 `json:"Plan Width"`
	} `json:"Plan"`
}

func (r *SQLRunner) DryRun(ctx context.Context, query string) (int64, error) {
	var raw []byte
	if err := r.DB.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+query).Scan(&raw); err != nil {
		return 0, classifyPQ(err)
	}
	var plans []explainPlan
	if err := json.Unmarshal(raw, &plans); err != nil {
		return 0, fmt.Errorf("failed to decode query plan: %w", err)
	}
	if len(plans) == 0 {
		return 0, errors.New("empty query plan")
	}
	p := plans[0].Plan
	return int64(p.Rows * p.Width), nil
}

func (r *SQLRunner) Query(ctx context.Context, query string) (*Rows, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classifyPQ(err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyPQ(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifyPQ(err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPQ(err)
	}
	return out, nil
}

// maxExactInt is the largest magnitude a float64 holds without rounding.
const maxExactInt = 1 << 53

// normalizeValue converts driver values into JSON-friendly ones. Integers a
// float64 cannot hold exactly become decimal strings.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case int64:
		if x > maxExactInt || x < -maxExactInt {
			return strconv.FormatInt(x, 10)
		}
		return float64(x)
	default:
		return v
	}
}

// classifyPQ marks Postgres errors for the retry policy: connection problems,
// serialization failures and statement timeouts are transient, auth and
// privilege problems are permanent, the rest (syntax, unknown columns) are
// left to the caller as statement errors.
func classifyPQ(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch {
	case pqErr.Code == "42501": // insufficient_privilege
		return retry.Permanent(err)
	case pqErr.Code.Class() == "28":
		return retry.Permanent(err)
	case pqErr.Code.Class() == "08", pqErr.Code.Class() == "40",
		pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
		return retry.Transient(err)
	}
	return err
}
