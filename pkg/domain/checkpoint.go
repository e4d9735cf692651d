package domain

import "time"

// CheckpointReason records why a checkpoint was written.
type CheckpointReason string

const (
	CheckpointCreated  CheckpointReason = "created"
	CheckpointStep     CheckpointReason = "step"
	CheckpointRetry    CheckpointReason = "retry"
	CheckpointSuspend  CheckpointReason = "suspend"
	CheckpointResume   CheckpointReason = "resume"
	CheckpointTerminal CheckpointReason = "terminal"
)

// Checkpoint is an immutable, versioned snapshot of a session.
// A newer version for the same session supersedes older ones; only the
// newest is used to resume, the rest are kept for audit.
type Checkpoint struct {
	SessionID string           `json:"session_id"`
	Version   int              `json:"version"`
	Node      NodeID           `json:"node"`
	Reason    CheckpointReason `json:"reason"`
	State     *WorkflowState   `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	// Sealed holds the encrypted state when an encryption layer wraps the
	// store; State then only carries the non-sensitive control fields.
	Sealed []byte `json:"sealed,omitempty"`
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = c.State.Clone()
	out.Sealed = append([]byte(nil), c.Sealed...)
	return &out
}

// SessionView is the read model of a session returned to callers.
type SessionView struct {
	State   *WorkflowState `json:"state"`
	Version int            `json:"version"`
	// Interrupt is set while the session waits for a human decision.
	Interrupt *InterruptRequest `json:"interrupt,omitempty"`
}
