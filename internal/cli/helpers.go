package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
)

// SignalContext is a context cancelled by SIGINT or SIGTERM that remembers
// which signal arrived.
type SignalContext struct {
	context.Context
	Cancel context.CancelFunc

	mu  sync.Mutex
	sig os.Signal
}

// NewSignalContext starts watching for termination signals. The watch ends
// when the returned context is done, whatever the cause.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{Context: ctx, Cancel: cancel}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			sc.mu.Lock()
			sc.sig = sig
			sc.mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()
	return sc
}

// Signal returns the signal that cancelled the context, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sig
}

// NewLogger builds the process logger from the log section of the config.
// Logs go to stderr so that stdout stays free for reports and JSON-RPC.
func NewLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(level, cfg.Format)
}

// debugHooks logs every engine event at debug level.
func debugHooks(logger *slog.Logger) domain.LifecycleHooks {
	node := func(msg string) func(context.Context, *domain.NodeEvent) {
		return func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, msg,
				"session_id", e.SessionID, "node_id", e.NodeID,
				"attempt", e.Attempt, "signal", e.Signal, "failure", e.Failure)
		}
	}
	sess := func(msg string) func(context.Context, *domain.SessionEvent) {
		return func(ctx context.Context, e *domain.SessionEvent) {
			logger.DebugContext(ctx, msg,
				"session_id", e.SessionID, "node_id", e.NodeID, "status", e.Status, "reason", e.Reason)
		}
	}
	return domain.LifecycleHooks{
		OnNodeEnter:   node("enter node"),
		OnNodeLeave:   node("leave node"),
		OnRetry:       node("retry node"),
		OnBreakerOpen: node("breaker open"),
		OnSuspend:     sess("session suspended"),
		OnResume:      sess("session resumed"),
		OnTerminal:    sess("session finished"),
	}
}
