// Package retry classifies errors raised inside nodes into the failure kinds
// understood by the engine's retry policy, and computes the pause between
// in-place retries.
package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// TransientError marks an error as worth retrying in place.
type TransientError interface {
	error
	IsTransient() bool
}

// IsTransient checks if an error can be retried in place.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check if error explicitly implements TransientError interface
	var transient TransientError
	if errors.As(err, &transient) {
		return transient.IsTransient()
	}

	return isTransientByType(err)
}

// isTransientByType applies heuristics to determine if an error is transient.
func isTransientByType(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false // Cancellation is intentional, don't retry
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isTransientByType(urlErr.Err)
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"rate limit",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"deadlock detected",
}

type transientError struct {
	err error
}

func (e *transientError) Error() string     { return e.err.Error() }
func (e *transientError) IsTransient() bool { return true }
func (e *transientError) Unwrap() error     { return e.err }

// Transient wraps err so that it is always retried in place.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// PermanentError represents an error that must never be retried.
type PermanentError struct {
	err error
}

func (e *PermanentError) Error() string     { return e.err.Error() }
func (e *PermanentError) IsTransient() bool { return false }
func (e *PermanentError) Unwrap() error     { return e.err }

// Permanent wraps err so that it escalates without retry.
func Permanent(err error) *PermanentError {
	return &PermanentError{err: err}
}

// Classify maps an error to the failure kind used by the engine.
func Classify(err error) domain.FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return domain.FailureCancelled
	case IsTransient(err):
		return domain.FailureTransient
	default:
		return domain.FailureFatal
	}
}

// Fail builds the FAIL result of a node from an error.
func Fail(state *domain.WorkflowState, err error) domain.NodeResult {
	return domain.Fail(state, Classify(err), err.Error())
}
