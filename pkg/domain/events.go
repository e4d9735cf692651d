package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter   EventType = "node_enter"
	EventNodeLeave   EventType = "node_leave"
	EventRetry       EventType = "retry"
	EventBreakerOpen EventType = "breaker_open"
	EventSuspend     EventType = "suspend"
	EventResume      EventType = "resume"
	EventTerminal    EventType = "terminal"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// NodeEvent represents entry into or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID   NodeID        `json:"node_id"`
	Signal   Signal        `json:"signal,omitempty"`
	Failure  FailureKind   `json:"failure,omitempty"`
	Attempt  int           `json:"attempt,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// SessionEvent represents a session-level transition.
type SessionEvent struct {
	EventBase
	NodeID NodeID `json:"node_id"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional.
type LifecycleHooks struct {
	OnNodeEnter   func(context.Context, *NodeEvent)
	OnNodeLeave   func(context.Context, *NodeEvent)
	OnRetry       func(context.Context, *NodeEvent)
	OnBreakerOpen func(context.Context, *NodeEvent)
	OnSuspend     func(context.Context, *SessionEvent)
	OnResume      func(context.Context, *SessionEvent)
	OnTerminal    func(context.Context, *SessionEvent)
}

// MergeHooks combines several hook sets; callbacks run in argument order.
func MergeHooks(sets ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range sets {
		out.OnNodeEnter = chainNode(out.OnNodeEnter, h.OnNodeEnter)
		out.OnNodeLeave = chainNode(out.OnNodeLeave, h.OnNodeLeave)
		out.OnRetry = chainNode(out.OnRetry, h.OnRetry)
		out.OnBreakerOpen = chainNode(out.OnBreakerOpen, h.OnBreakerOpen)
		out.OnSuspend = chainSession(out.OnSuspend, h.OnSuspend)
		out.OnResume = chainSession(out.OnResume, h.OnResume)
		out.OnTerminal = chainSession(out.OnTerminal, h.OnTerminal)
	}
	return out
}

func chainNode(a, b func(context.Context, *NodeEvent)) func(context.Context, *NodeEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *NodeEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}

func chainSession(a, b func(context.Context, *SessionEvent)) func(context.Context, *SessionEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *SessionEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}
