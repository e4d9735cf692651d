package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/domain"
)

const salesQuestion = "What were total sales per region last month?"

func newServer(t *testing.T) *Server {
	t.Helper()
	eng, err := espalier.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return NewServer(eng, "0.0.0-test\n")
}

func TestTools_ReviewFlow(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	started, err := s.handleStart(ctx, mcp.CallToolRequest{}, StartArgs{Question: salesQuestion})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusWaitingForInput), started.Status)
	assert.Equal(t, string(domain.NodeReview), started.CurrentNode)
	assert.NotEmpty(t, started.Prompt)
	assert.Equal(t, []string{"approve", "revise", "reject"}, started.Options)

	res, err := s.handleResult(ctx, mcp.CallToolRequest{}, SessionArgs{SessionID: started.SessionID})
	require.ErrorIs(t, err, domain.ErrNotFinished)
	assert.Empty(t, res.Status)

	resumed, err := s.handleResume(ctx, mcp.CallToolRequest{}, ResumeArgs{
		SessionID: started.SessionID,
		Decision:  "approve",
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), resumed.Status)

	res, err = s.handleResult(ctx, mcp.CallToolRequest{}, SessionArgs{SessionID: started.SessionID})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), res.Status)
	assert.Contains(t, res.Report, "north")

	list, err := s.handleList(ctx, mcp.CallToolRequest{}, struct{}{})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, started.SessionID, list.Sessions[0].SessionID)
}

func TestTools_CancelReportsReason(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	started, err := s.handleStart(ctx, mcp.CallToolRequest{}, StartArgs{Question: salesQuestion})
	require.NoError(t, err)

	cancelled, err := s.handleCancel(ctx, mcp.CallToolRequest{}, SessionArgs{SessionID: started.SessionID})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusFailed), cancelled.Status)

	res, err := s.handleResult(ctx, mcp.CallToolRequest{}, SessionArgs{SessionID: started.SessionID})
	require.NoError(t, err)
	assert.Equal(t, string(domain.FailureCancelled), res.ErrorCode)
}

func TestTools_ArgumentsAreBound(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	req := mcp.CallToolRequest{}
	req.Params.Name = "start_session"
	req.Params.Arguments = map[string]any{"question": salesQuestion}
	out, err := mcp.NewStructuredToolHandler(s.handleStart)(ctx, req)
	require.NoError(t, err)
	require.False(t, out.IsError)
	started, ok := out.StructuredContent.(SessionOutput)
	require.True(t, ok)

	req = mcp.CallToolRequest{}
	req.Params.Name = "resume_session"
	req.Params.Arguments = map[string]any{"session_id": started.SessionID, "decision": "maybe"}
	out, err = mcp.NewStructuredToolHandler(s.handleResume)(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.IsError)
}

func TestTools_UnknownSession(t *testing.T) {
	s := newServer(t)
	_, err := s.handleStatus(context.Background(), mcp.CallToolRequest{}, SessionArgs{SessionID: "sess_missing"})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}
