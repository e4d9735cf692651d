package runtime

import (
	"context"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

func (e *Engine) emitNode(ctx context.Context, typ domain.EventType, sessionID string, node domain.NodeID, res domain.NodeResult, attempt int, d time.Duration) {
	var hook func(context.Context, *domain.NodeEvent)
	switch typ {
	case domain.EventNodeEnter:
		hook = e.hooks.OnNodeEnter
	case domain.EventNodeLeave:
		hook = e.hooks.OnNodeLeave
	case domain.EventRetry:
		hook = e.hooks.OnRetry
	case domain.EventBreakerOpen:
		hook = e.hooks.OnBreakerOpen
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: e.clock(), Type: typ, SessionID: sessionID},
		NodeID:    node,
		Signal:    res.Signal,
		Failure:   res.Failure,
		Attempt:   attempt,
		Duration:  d,
	})
}

func (e *Engine) emitSession(ctx context.Context, typ domain.EventType, state *domain.WorkflowState, reason string) {
	var hook func(context.Context, *domain.SessionEvent)
	switch typ {
	case domain.EventSuspend:
		hook = e.hooks.OnSuspend
	case domain.EventResume:
		hook = e.hooks.OnResume
	case domain.EventTerminal:
		hook = e.hooks.OnTerminal
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.SessionEvent{
		EventBase: domain.EventBase{Timestamp: e.clock(), Type: typ, SessionID: state.SessionID},
		NodeID:    state.CurrentNode,
		Status:    state.Status,
		Reason:    reason,
	})
}
