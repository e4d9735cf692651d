package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// CheckpointStore defines the interface for persisting session checkpoints.
// This allows for durable execution: a suspended session can be resumed
// after the process that suspended it is gone.
type CheckpointStore interface {
	// Save persists a checkpoint for a given session ID.
	// The checkpoint's Version must be greater than the current one,
	// otherwise domain.ErrStaleCheckpoint is returned and nothing is written.
	// Save must only return once the checkpoint is durable.
	Save(ctx context.Context, sessionID string, cp *domain.Checkpoint) error

	// Load retrieves the current (newest) checkpoint for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error)

	// History returns every retained checkpoint of the session, oldest first.
	History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error)

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)

	// Delete removes the session and its history.
	Delete(ctx context.Context, sessionID string) error
}
