package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// Node is a unit of work of the pipeline.
//
// Invoke receives a private copy of the session state and returns the updated
// state inside the result. It must be idempotent with respect to
// re-invocation after a transient failure: the retry policy may call it more
// than once with the same input. Long-running nodes must honor ctx
// cancellation.
type Node interface {
	Invoke(ctx context.Context, state *domain.WorkflowState) domain.NodeResult
}

// NodeFunc adapts an ordinary function to the Node interface.
type NodeFunc func(ctx context.Context, state *domain.WorkflowState) domain.NodeResult

// Invoke calls f(ctx, state).
func (f NodeFunc) Invoke(ctx context.Context, state *domain.WorkflowState) domain.NodeResult {
	return f(ctx, state)
}
