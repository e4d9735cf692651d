package espalier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/domain"
)

const salesQuestion = "What were total sales per region last month?"

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...espalier.Option) *espalier.Engine {
	t.Helper()
	opts = append([]espalier.Option{espalier.WithClock(func() time.Time { return fixedNow })}, opts...)
	eng, err := espalier.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestEngine_ReviewApproveCompletes(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	id, err := eng.Start(ctx, salesQuestion)
	require.NoError(t, err)

	view, err := eng.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaitingForInput, view.State.Status)
	require.Equal(t, domain.NodeReview, view.State.CurrentNode)
	require.NotNil(t, view.Interrupt)
	assert.Equal(t, domain.InterruptReview, view.Interrupt.Kind)

	_, err = eng.Result(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFinished)

	require.NoError(t, eng.Resume(ctx, id, domain.HumanDecision{Decision: domain.DecisionApprove}))

	report, err := eng.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, salesQuestion, report.Title)
	assert.Contains(t, report.Markdown, "north")
	assert.Equal(t, fixedNow, report.GeneratedAt)

	chart, err := eng.Mermaid(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, chart, "class report current;")
	assert.Contains(t, chart, "class review visited;")

	history, err := eng.History(ctx, id)
	require.NoError(t, err)
	for i, cp := range history {
		assert.Equal(t, i+1, cp.Version)
	}

	sessions, err := eng.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.StatusCompleted, sessions[0].State.Status)
}

func TestEngine_RejectFails(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	id, err := eng.Start(ctx, salesQuestion)
	require.NoError(t, err)
	require.NoError(t, eng.Resume(ctx, id, domain.HumanDecision{Decision: domain.DecisionReject}))

	_, err = eng.Result(ctx, id)
	var failed *domain.FailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, domain.FailureRejected, failed.Code)
}

func TestEngine_CancelWaiting(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	id, err := eng.Start(ctx, salesQuestion)
	require.NoError(t, err)
	require.NoError(t, eng.Cancel(ctx, id))

	view, err := eng.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.State.Status)

	err = eng.Resume(ctx, id, domain.HumanDecision{Decision: domain.DecisionApprove})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = eng.Result(ctx, id)
	var failed *domain.FailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, domain.FailureCancelled, failed.Code)
}

func TestEngine_UnknownQuestionAsksForClarification(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	id, err := eng.Start(ctx, "weather forecast tomorrow")
	require.NoError(t, err)

	view, err := eng.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeClarify, view.State.CurrentNode)
	require.NotNil(t, view.Interrupt)
	assert.Equal(t, domain.InterruptClarification, view.Interrupt.Kind)

	require.NoError(t, eng.Resume(ctx, id, domain.HumanDecision{
		Decision: domain.DecisionRevise,
		Notes:    salesQuestion,
	}))
	view, err = eng.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeReview, view.State.CurrentNode)
	assert.Equal(t, salesQuestion, view.State.Question)
}

func TestEngine_EmptyQuestion(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.Start(context.Background(), "  ")
	require.ErrorIs(t, err, domain.ErrEmptyQuestion)
}

func TestEngine_CloseRunsClosersInReverse(t *testing.T) {
	var order []int
	eng, err := espalier.New(
		espalier.WithCloser(func() error { order = append(order, 1); return nil }),
		espalier.WithCloser(func() error { order = append(order, 2); return errors.New("boom") }),
	)
	require.NoError(t, err)

	err = eng.Close()
	require.ErrorContains(t, err, "boom")
	assert.Equal(t, []int{2, 1}, order)
	require.NoError(t, eng.Close(), "closers run once")
}
