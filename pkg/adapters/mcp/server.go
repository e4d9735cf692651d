// Package mcp exposes the engine as Model Context Protocol tools, so an
// assistant can ask questions, answer reviews and fetch reports.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
)

// GraphURI is the resource holding the Mermaid rendering of the graph.
const GraphURI = "espalier://graph"

// Engine is the part of the espalier engine the tools drive.
type Engine interface {
	Start(ctx context.Context, question string) (string, error)
	Status(ctx context.Context, sessionID string) (*domain.SessionView, error)
	Resume(ctx context.Context, sessionID string, decision domain.HumanDecision) error
	Cancel(ctx context.Context, sessionID string) error
	Result(ctx context.Context, sessionID string) (*domain.Report, error)
	Sessions(ctx context.Context) ([]*domain.SessionView, error)
	Mermaid(ctx context.Context, sessionID string) (string, error)
}

// SessionArgs identifies a session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// StartArgs are the arguments of start_session.
type StartArgs struct {
	Question string `json:"question"`
}

// ResumeArgs are the arguments of resume_session.
type ResumeArgs struct {
	SessionID string `json:"session_id"`
	Decision  string `json:"decision"`
	Notes     string `json:"notes,omitempty"`
	Chart     string `json:"chart,omitempty"`
}

// SessionOutput is the structured result of the session tools.
type SessionOutput struct {
	SessionID   string   `json:"session_id" jsonschema_description:"Session identifier"`
	Status      string   `json:"status" jsonschema_description:"Lifecycle status of the session"`
	CurrentNode string   `json:"current_node" jsonschema_description:"Node the session is positioned at"`
	Question    string   `json:"question,omitempty"`
	Prompt      string   `json:"prompt,omitempty" jsonschema_description:"What the human must decide, when waiting for input"`
	Options     []string `json:"options,omitempty"`
}

// ListOutput is the structured result of list_sessions.
type ListOutput struct {
	Sessions []SessionOutput `json:"sessions"`
}

// ResultOutput is the structured result of get_result.
type ResultOutput struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Report    string `json:"report,omitempty" jsonschema_description:"Markdown report of a completed session"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Server wraps the engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP server for the engine.
func NewServer(engine Engine, version string, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("espalier", strings.TrimSpace(version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio serves JSON-RPC on the given streams until ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Ask an analytical question. The session runs until it needs a human decision or finishes."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The business question in natural language")),
		mcp.WithOutputSchema[SessionOutput](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get the status of a session, including the pending decision if any."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithOutputSchema[SessionOutput](),
	), mcp.NewStructuredToolHandler(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("resume_session",
		mcp.WithDescription("Answer the pending clarification or review of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("decision", mcp.Required(), mcp.Enum("approve", "revise", "reject")),
		mcp.WithString("notes", mcp.Description("Revised question or reviewer notes")),
		mcp.WithString("chart", mcp.Enum("table", "bar", "line", "pie"), mcp.Description("Preferred chart type")),
		mcp.WithOutputSchema[SessionOutput](),
	), mcp.NewStructuredToolHandler(s.handleResume))

	s.mcpServer.AddTool(mcp.NewTool("get_result",
		mcp.WithDescription("Get the report of a completed session or the reason a session failed."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithOutputSchema[ResultOutput](),
	), mcp.NewStructuredToolHandler(s.handleResult))

	s.mcpServer.AddTool(mcp.NewTool("cancel_session",
		mcp.WithDescription("Cancel a session. It ends FAILED with reason cancelled."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithOutputSchema[SessionOutput](),
	), mcp.NewStructuredToolHandler(s.handleCancel))

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List stored sessions, most recently updated first."),
		mcp.WithOutputSchema[ListOutput](),
	), mcp.NewStructuredToolHandler(s.handleList))
}

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args StartArgs) (SessionOutput, error) {
	id, err := s.engine.Start(ctx, args.Question)
	if err != nil {
		return SessionOutput{}, s.toolError("start", err)
	}
	return s.session(ctx, id)
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (SessionOutput, error) {
	return s.session(ctx, args.SessionID)
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest, args ResumeArgs) (SessionOutput, error) {
	decision, err := domain.ParseDecision(args.Decision)
	if err != nil {
		return SessionOutput{}, err
	}
	err = s.engine.Resume(ctx, args.SessionID, domain.HumanDecision{
		Decision: decision,
		Notes:    args.Notes,
		Chart:    args.Chart,
	})
	if err != nil {
		return SessionOutput{}, s.toolError("resume", err)
	}
	return s.session(ctx, args.SessionID)
}

func (s *Server) handleCancel(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (SessionOutput, error) {
	if err := s.engine.Cancel(ctx, args.SessionID); err != nil {
		return SessionOutput{}, s.toolError("cancel", err)
	}
	return s.session(ctx, args.SessionID)
}

func (s *Server) handleResult(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (ResultOutput, error) {
	report, err := s.engine.Result(ctx, args.SessionID)
	var failed *domain.FailedError
	switch {
	case err == nil:
		return ResultOutput{SessionID: args.SessionID, Status: string(domain.StatusCompleted), Report: report.Markdown}, nil
	case errors.As(err, &failed):
		return ResultOutput{
			SessionID: args.SessionID,
			Status:    string(domain.StatusFailed),
			ErrorCode: string(failed.Code),
			Message:   failed.Message,
		}, nil
	default:
		return ResultOutput{}, s.toolError("result", err)
	}
}

func (s *Server) handleList(ctx context.Context, _ mcp.CallToolRequest, _ struct{}) (ListOutput, error) {
	views, err := s.engine.Sessions(ctx)
	if err != nil {
		return ListOutput{}, s.toolError("list", err)
	}
	out := ListOutput{Sessions: make([]SessionOutput, len(views))}
	for i, v := range views {
		out.Sessions[i] = toOutput(v)
	}
	return out, nil
}

func (s *Server) session(ctx context.Context, id string) (SessionOutput, error) {
	v, err := s.engine.Status(ctx, id)
	if err != nil {
		return SessionOutput{}, s.toolError("status", err)
	}
	return toOutput(v), nil
}

// toolError keeps domain errors readable for the caller and hides the text of
// infrastructure failures.
func (s *Server) toolError(op string, err error) error {
	for _, known := range []error{
		domain.ErrSessionNotFound, domain.ErrInvalidState, domain.ErrSessionBusy,
		domain.ErrNotFinished, domain.ErrInvalidDecision, domain.ErrEmptyQuestion,
		domain.ErrInvalidInput,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	s.logger.Error("mcp tool failed", "op", op, "err", err)
	return fmt.Errorf("%s failed: internal error", op)
}

func toOutput(v *domain.SessionView) SessionOutput {
	out := SessionOutput{
		SessionID:   v.State.SessionID,
		Status:      string(v.State.Status),
		CurrentNode: string(v.State.CurrentNode),
		Question:    v.State.Question,
	}
	if req := v.Interrupt; req != nil {
		out.Prompt = req.Prompt
		for _, o := range req.Options {
			out.Options = append(out.Options, string(o))
		}
	}
	return out
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(GraphURI, "Workflow graph (Mermaid)",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		chart, err := s.engine.Mermaid(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to render graph: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: GraphURI, MIMEType: "text/plain", Text: chart},
		}, nil
	})
}
