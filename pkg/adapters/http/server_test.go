package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier"
	api "github.com/aretw0/espalier/pkg/adapters/http"
	"github.com/aretw0/espalier/pkg/domain"
)

const salesQuestion = "What were total sales per region last month?"

func newHandler(t *testing.T, opts ...api.Option) http.Handler {
	t.Helper()
	eng, err := espalier.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	h, err := api.NewHandler(eng, opts...)
	require.NoError(t, err)
	return h
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSpec(t *testing.T) {
	doc, err := api.Spec(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, doc.Paths.Find("/sessions/{id}/resume"))
}

func TestSessionLifecycle(t *testing.T) {
	h := newHandler(t)

	rec := do(t, h, http.MethodPost, "/sessions", api.StartRequest{Question: salesQuestion})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode[api.Session](t, rec)
	assert.Equal(t, domain.StatusWaitingForInput, started.Status)
	assert.Equal(t, domain.NodeReview, started.CurrentNode)
	require.NotNil(t, started.PendingReview)
	assert.Equal(t, domain.InterruptReview, started.PendingReview.Kind)

	id := started.SessionID
	rec = do(t, h, http.MethodGet, "/sessions/"+id+"/result", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_finished", decode[api.ErrorResponse](t, rec).Error.Code)

	rec = do(t, h, http.MethodPost, "/sessions/"+id+"/resume", api.ResumeRequest{Decision: "approve", Chart: "pie"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusCompleted, decode[api.Session](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/sessions/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[api.Result](t, rec)
	require.NotNil(t, result.Report)
	assert.Equal(t, salesQuestion, result.Report.Title)
	require.NotNil(t, result.Report.Chart)
	assert.Equal(t, "pie", result.Report.Chart.ChartType)

	rec = do(t, h, http.MethodPost, "/sessions/"+id+"/resume", api.ResumeRequest{Decision: "approve"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decode[api.ErrorResponse](t, rec).Error.Code)

	rec = do(t, h, http.MethodGet, "/sessions/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Checkpoints []api.CheckpointSummary `json:"checkpoints"`
	}](t, rec)
	require.NotEmpty(t, history.Checkpoints)
	assert.Equal(t, domain.CheckpointCreated, history.Checkpoints[0].Reason)
	assert.Equal(t, domain.StatusCompleted, history.Checkpoints[len(history.Checkpoints)-1].Status)

	rec = do(t, h, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Sessions []api.Session `json:"sessions"`
	}](t, rec)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, id, list.Sessions[0].SessionID)

	rec = do(t, h, http.MethodGet, "/graph?session_id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "graph TD"))
	assert.Contains(t, rec.Body.String(), "class report current;")
}

func TestCancelAndFailedResult(t *testing.T) {
	h := newHandler(t)

	rec := do(t, h, http.MethodPost, "/sessions", api.StartRequest{Question: salesQuestion})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[api.Session](t, rec).SessionID

	rec = do(t, h, http.MethodPost, "/sessions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusFailed, decode[api.Session](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/sessions/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[api.Result](t, rec)
	assert.Equal(t, domain.StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(domain.FailureCancelled), result.Error.Code)

	rec = do(t, h, http.MethodPost, "/sessions/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	h := newHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing question", http.MethodPost, "/sessions", map[string]any{}, http.StatusBadRequest},
		{"empty question", http.MethodPost, "/sessions", api.StartRequest{}, http.StatusBadRequest},
		{"unknown decision", http.MethodPost, "/sessions/sess_x/resume", map[string]any{"decision": "maybe"}, http.StatusBadRequest},
		{"unknown chart", http.MethodPost, "/sessions/sess_x/resume", api.ResumeRequest{Decision: "approve", Chart: "radar"}, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/sessions/sess_missing", nil, http.StatusNotFound},
		{"unknown session result", http.MethodGet, "/sessions/sess_missing/result", nil, http.StatusNotFound},
		{"unknown session resume", http.MethodPost, "/sessions/sess_missing/resume", api.ResumeRequest{Decision: "approve"}, http.StatusNotFound},
		{"unknown session graph", http.MethodGet, "/graph?session_id=sess_missing", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error.Code)
		})
	}
}

type brokenEngine struct{ api.Engine }

func (brokenEngine) Sessions(context.Context) ([]*domain.SessionView, error) {
	return nil, errors.New("dial tcp 10.0.0.7:6379: connection refused")
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	h, err := api.NewHandler(brokenEngine{})
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "internal", body.Error.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
}

func TestHealthSpecAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("espalier_up 1\n"))
	})
	h := newHandler(t, api.WithVersion("1.2.3\n"), api.WithMetrics(metrics))

	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok", "version": "1.2.3"}, decode[map[string]string](t, rec))

	rec = do(t, h, http.MethodGet, "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "espalier_up 1")
}
