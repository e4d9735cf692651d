package nodes

import (
	"context"
	"fmt"
)

// CatalogRunner serves the sample rows stored in the catalog. It lets the
// pipeline run without a database.
type CatalogRunner struct {
	Catalog *Catalog
}

func (r *CatalogRunner) DryRun(ctx context.Context, sql string) (int64, error) {
	e, err := r.entry(ctx, sql)
	if err != nil {
		return 0, err
	}
	return e.EstimatedBytes, nil
}

func (r *CatalogRunner) Query(ctx context.Context, sql string) (*Rows, error) {
	e, err := r.entry(ctx, sql)
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: append([]string(nil), e.Columns...), BytesProcessed: e.EstimatedBytes}
	for _, row := range e.Rows {
		out.Rows = append(out.Rows, append([]any(nil), row...))
	}
	return out, nil
}

func (r *CatalogRunner) entry(ctx context.Context, sql string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := r.Catalog.BySQL(sql)
	if !ok {
		return nil, fmt.Errorf("no sample data for statement %q", sql)
	}
	return e, nil
}
