package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidState is returned when an operation is not allowed in the session's current status.
var ErrInvalidState = errors.New("invalid session state")

// ErrSessionBusy is returned when another call is already operating on the session.
var ErrSessionBusy = errors.New("session busy")

// ErrStaleCheckpoint is returned when a checkpoint does not supersede the stored one.
var ErrStaleCheckpoint = errors.New("stale checkpoint version")

// ErrInvalidGraph is returned when a graph definition is inconsistent.
var ErrInvalidGraph = errors.New("invalid graph definition")

// ErrUndefinedRoute is returned when no routing rule matches the state.
var ErrUndefinedRoute = errors.New("undefined route")

// ErrAmbiguousRoute is returned when more than one routing rule matches the state.
var ErrAmbiguousRoute = errors.New("ambiguous route")

// ErrInvalidDecision is returned for review decisions outside approve/revise/reject.
var ErrInvalidDecision = errors.New("invalid decision")

// ErrNotFinished is returned when asking for the result of a session that is still active.
var ErrNotFinished = errors.New("session not finished")

// FailedError carries the user-facing reason of a failed session.
type FailedError struct {
	SessionID string
	Code      FailureKind
	Message   string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("session %s failed (%s): %s", e.SessionID, e.Code, e.Message)
}

// ErrEmptyQuestion is returned when a session is started without a question.
var ErrEmptyQuestion = errors.New("question must not be empty")
