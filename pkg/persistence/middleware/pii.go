package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Mask replaces values of sensitive result columns.
const Mask = "***"

type piiMiddleware struct {
	next     ports.CheckpointStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the values of result
// columns whose name matches one of the patterns before they are persisted.
// The in-memory state of the running session is left untouched.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns[i] = re
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, sessionID string, cp *domain.Checkpoint) error {
	if cp.State == nil || cp.State.ExecutionResult == nil {
		return m.next.Save(ctx, sessionID, cp)
	}

	// Deep clone to avoid side effects on the state used by the engine.
	cloned := cp.Clone()
	maskRows(cloned.State.ExecutionResult, m.patterns)
	return m.next.Save(ctx, sessionID, cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	return m.next.History(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func maskRows(r *domain.ExecutionResult, patterns []*regexp.Regexp) {
	for i, col := range r.Columns {
		if !matchesAny(col, patterns) {
			continue
		}
		for _, row := range r.Rows {
			if i < len(row) && row[i] != nil {
				row[i] = Mask
			}
		}
	}
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
