package ports

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ContractCheckpoint builds a fully populated checkpoint used by the contract suite.
// Row values are strings and float64 so that JSON-backed stores reproduce them exactly.
func ContractCheckpoint(sessionID string, version int) *domain.Checkpoint {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	state := domain.NewState(sessionID, "What were the sales per region last month?", domain.NodeAnalyze, now)
	state.Status = domain.StatusWaitingForInput
	state.CurrentNode = domain.NodeReview
	state.Confidence = 0.87
	state.LastRoute = "direct"
	state.Analysis = &domain.Analysis{
		Matches: []domain.Match{{ID: "sales_by_region", Question: "sales per region", SQL: "SELECT 1", Score: 0.87}},
		Tables:  []string{"sales"},
	}
	state.GeneratedQuery = &domain.GeneratedQuery{SQL: "SELECT region, SUM(amount) FROM sales GROUP BY region", Source: "catalog"}
	state.ExecutionResult = &domain.ExecutionResult{
		Succeeded:      true,
		Columns:        []string{"region", "total"},
		Rows:           [][]any{{"north", 120.5}, {"south", 99.0}},
		RowCount:       2,
		BytesProcessed: 2048,
		EstimatedBytes: 4096,
	}
	state.ValidationVerdict = &domain.ValidationVerdict{Passed: true}
	state.RetryCounts[domain.NodeExecute] = 2
	state.Breaker(domain.NodeExecute).Failures = 1
	state.RecordError(domain.NodeExecute, domain.FailureTransient, "timeout", 1, now)
	state.History = append(state.History, domain.NodeGenerate, domain.NodeExecute, domain.NodeValidate, domain.NodeReview)
	state.Steps = 5

	return &domain.Checkpoint{
		SessionID: sessionID,
		Version:   version,
		Node:      state.CurrentNode,
		Reason:    domain.CheckpointSuspend,
		State:     state,
		CreatedAt: now,
	}
}

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore
// implementation adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000000")

	t.Run("Save and Load round trip", func(t *testing.T) {
		id := prefix + "-roundtrip"
		cp := ContractCheckpoint(id, 1)

		require.NoError(t, store.Save(ctx, id, cp))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		if diff := cmp.Diff(cp, loaded, cmpopts.EquateEmpty(), cmpopts.EquateApproxTime(0)); diff != "" {
			t.Errorf("checkpoint mismatch after round trip (-want +got):\n%s", diff)
		}
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, prefix+"-missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Newer version supersedes", func(t *testing.T) {
		id := prefix + "-versions"
		require.NoError(t, store.Save(ctx, id, ContractCheckpoint(id, 1)))

		next := ContractCheckpoint(id, 2)
		next.State.Status = domain.StatusCompleted
		next.Reason = domain.CheckpointTerminal
		require.NoError(t, store.Save(ctx, id, next))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Version)
		assert.Equal(t, domain.StatusCompleted, loaded.State.Status)

		history, err := store.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 1, history[0].Version)
		assert.Equal(t, 2, history[1].Version)
	})

	t.Run("Stale version rejected", func(t *testing.T) {
		id := prefix + "-stale"
		require.NoError(t, store.Save(ctx, id, ContractCheckpoint(id, 3)))

		stale := ContractCheckpoint(id, 3)
		stale.State.Question = "overwritten"
		err := store.Save(ctx, id, stale)
		assert.ErrorIs(t, err, domain.ErrStaleCheckpoint)

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, "overwritten", loaded.State.Question, "stale save must not change the current checkpoint")
	})

	t.Run("Loaded checkpoint is isolated", func(t *testing.T) {
		id := prefix + "-isolation"
		require.NoError(t, store.Save(ctx, id, ContractCheckpoint(id, 1)))

		first, err := store.Load(ctx, id)
		require.NoError(t, err)
		first.State.RetryCounts[domain.NodeExecute] = 99

		second, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, second.State.RetryCounts[domain.NodeExecute])
	})

	t.Run("Delete", func(t *testing.T) {
		id := prefix + "-delete"
		require.NoError(t, store.Save(ctx, id, ContractCheckpoint(id, 1)))

		require.NoError(t, store.Delete(ctx, id))

		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		// A deleted session can start over from version 1.
		require.NoError(t, store.Save(ctx, id, ContractCheckpoint(id, 1)))
		require.NoError(t, store.Delete(ctx, id))
	})

	t.Run("List", func(t *testing.T) {
		a, b := prefix+"-list-a", prefix+"-list-b"
		require.NoError(t, store.Save(ctx, a, ContractCheckpoint(a, 1)))
		require.NoError(t, store.Save(ctx, b, ContractCheckpoint(b, 1)))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Contains(t, ids, a)
		assert.Contains(t, ids, b)
	})
}
