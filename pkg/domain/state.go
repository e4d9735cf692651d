package domain

import "time"

// Status is the lifecycle position of a session.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusRunning         Status = "RUNNING"
	StatusRetrying        Status = "RETRYING"
	StatusWaitingForInput Status = "WAITING_FOR_INPUT"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
)

// Terminal reports whether no further step can run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resumable reports whether Resume is accepted in this status.
func (s Status) Resumable() bool {
	return s == StatusWaitingForInput
}

// Analysis holds what the analyzer learned about the question.
type Analysis struct {
	// Matches are candidate catalog entries, best first.
	Matches []Match `json:"matches,omitempty"`
	// Tables are the data sources the question seems to refer to.
	Tables []string `json:"tables,omitempty"`
}

// Match is a known question/query pair scored against the user's question.
type Match struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	SQL      string  `json:"sql"`
	Score    float64 `json:"score"`
	Chart    string  `json:"chart,omitempty"`
}

// GeneratedQuery is the statement produced by the generator.
type GeneratedQuery struct {
	SQL    string `json:"sql"`
	Source string `json:"source,omitempty"`
	// Enriched is set when the query was generated with extra context
	// because the analysis confidence fell in the middle band.
	Enriched bool   `json:"enriched,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ExecutionResult is the tabular payload and metrics of a query execution.
type ExecutionResult struct {
	Succeeded bool `json:"succeeded"`
	// Recoverable marks a failure that regenerating the query may fix.
	Recoverable    bool     `json:"recoverable,omitempty"`
	Columns        []string `json:"columns,omitempty"`
	// Rows hold JSON-friendly values: numbers are float64, and integers
	// beyond 2^53 in magnitude are decimal strings.
	Rows           [][]any  `json:"rows,omitempty"`
	RowCount       int      `json:"row_count"`
	BytesProcessed int64    `json:"bytes_processed"`
	EstimatedBytes int64    `json:"estimated_bytes"`
	Error          string   `json:"error,omitempty"`
}

// ValidationVerdict is the validator's pass/fail outcome.
type ValidationVerdict struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// VisualizationConfig describes the chart to render with the report.
type VisualizationConfig struct {
	ChartType string `json:"chart_type"`
	X         string `json:"x,omitempty"`
	Y         string `json:"y,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Report is the final artifact of a completed session.
type Report struct {
	Title       string               `json:"title"`
	Markdown    string               `json:"markdown"`
	Chart       *VisualizationConfig `json:"chart,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// ErrorRecord is one entry of the error trail.
type ErrorRecord struct {
	Node    NodeID      `json:"node"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Attempt int         `json:"attempt"`
	At      time.Time   `json:"at"`
}

// BreakerState is the circuit breaker of one node within one session.
type BreakerState struct {
	Failures  int       `json:"failures"`
	Open      bool      `json:"open"`
	OpenedAt  time.Time `json:"opened_at,omitzero"`
	OpenUntil time.Time `json:"open_until,omitzero"`
}

// WorkflowState is the record threaded through every node of one session.
type WorkflowState struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`

	Confidence          float64              `json:"confidence"`
	Analysis            *Analysis            `json:"analysis,omitempty"`
	GeneratedQuery      *GeneratedQuery      `json:"generated_query,omitempty"`
	ExecutionResult     *ExecutionResult     `json:"execution_result,omitempty"`
	ValidationVerdict   *ValidationVerdict   `json:"validation_verdict,omitempty"`
	VisualizationConfig *VisualizationConfig `json:"visualization_config,omitempty"`
	Report              *Report              `json:"report,omitempty"`

	Status      Status `json:"status"`
	CurrentNode NodeID `json:"current_node"`
	// LastRoute is the label of the route that selected CurrentNode.
	LastRoute string `json:"last_route,omitempty"`

	RetryCounts map[NodeID]int           `json:"retry_counts"`
	Breakers    map[NodeID]*BreakerState `json:"breakers,omitempty"`
	ErrorTrail  []ErrorRecord            `json:"error_trail,omitempty"`

	// HumanDecision is only set between Resume and the node consuming it.
	HumanDecision *HumanDecision  `json:"human_decision,omitempty"`
	Reviews       []HumanDecision `json:"reviews,omitempty"`

	History   []NodeID  `json:"history,omitempty"`
	Steps     int       `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates a session record positioned at the entry node.
func NewState(sessionID, question string, entry NodeID, now time.Time) *WorkflowState {
	return &WorkflowState{
		SessionID:   sessionID,
		Question:    question,
		Status:      StatusCreated,
		CurrentNode: entry,
		RetryCounts: make(map[NodeID]int),
		Breakers:    make(map[NodeID]*BreakerState),
		History:     []NodeID{entry},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RecordError appends a failure to the error trail.
func (s *WorkflowState) RecordError(node NodeID, kind FailureKind, message string, attempt int, at time.Time) {
	s.ErrorTrail = append(s.ErrorTrail, ErrorRecord{
		Node:    node,
		Kind:    kind,
		Message: message,
		Attempt: attempt,
		At:      at,
	})
}

// LastError returns the most recent error record, if any.
func (s *WorkflowState) LastError() (ErrorRecord, bool) {
	if len(s.ErrorTrail) == 0 {
		return ErrorRecord{}, false
	}
	return s.ErrorTrail[len(s.ErrorTrail)-1], true
}

// Breaker returns the breaker of a node, creating it if needed.
func (s *WorkflowState) Breaker(node NodeID) *BreakerState {
	if s.Breakers == nil {
		s.Breakers = make(map[NodeID]*BreakerState)
	}
	b, ok := s.Breakers[node]
	if !ok {
		b = &BreakerState{}
		s.Breakers[node] = b
	}
	return b
}

// Clone returns a deep copy so that callers (stores, retries) never share
// mutable structure with the original.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	c := *s

	if s.Analysis != nil {
		a := *s.Analysis
		a.Matches = append([]Match(nil), s.Analysis.Matches...)
		a.Tables = append([]string(nil), s.Analysis.Tables...)
		c.Analysis = &a
	}
	if s.GeneratedQuery != nil {
		q := *s.GeneratedQuery
		c.GeneratedQuery = &q
	}
	if s.ExecutionResult != nil {
		r := *s.ExecutionResult
		r.Columns = append([]string(nil), s.ExecutionResult.Columns...)
		if s.ExecutionResult.Rows != nil {
			r.Rows = make([][]any, len(s.ExecutionResult.Rows))
			for i, row := range s.ExecutionResult.Rows {
				r.Rows[i] = append([]any(nil), row...)
			}
		}
		c.ExecutionResult = &r
	}
	if s.ValidationVerdict != nil {
		v := *s.ValidationVerdict
		v.Reasons = append([]string(nil), s.ValidationVerdict.Reasons...)
		c.ValidationVerdict = &v
	}
	if s.VisualizationConfig != nil {
		v := *s.VisualizationConfig
		c.VisualizationConfig = &v
	}
	if s.Report != nil {
		r := *s.Report
		if s.Report.Chart != nil {
			ch := *s.Report.Chart
			r.Chart = &ch
		}
		c.Report = &r
	}

	if s.RetryCounts != nil {
		c.RetryCounts = make(map[NodeID]int, len(s.RetryCounts))
		for k, v := range s.RetryCounts {
			c.RetryCounts[k] = v
		}
	}
	if s.Breakers != nil {
		c.Breakers = make(map[NodeID]*BreakerState, len(s.Breakers))
		for k, v := range s.Breakers {
			if v == nil {
				continue
			}
			b := *v
			c.Breakers[k] = &b
		}
	}
	c.ErrorTrail = append([]ErrorRecord(nil), s.ErrorTrail...)
	if s.HumanDecision != nil {
		d := *s.HumanDecision
		c.HumanDecision = &d
	}
	c.Reviews = append([]HumanDecision(nil), s.Reviews...)
	c.History = append([]NodeID(nil), s.History...)
	return &c
}
