// Package http exposes the engine as a JSON REST API. Requests are checked
// against the embedded OpenAPI document before they reach a handler.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
)

//go:embed openapi.yaml
var rawSpec []byte

// Engine is the part of the espalier engine the API drives.
type Engine interface {
	Start(ctx context.Context, question string) (string, error)
	Status(ctx context.Context, sessionID string) (*domain.SessionView, error)
	Resume(ctx context.Context, sessionID string, decision domain.HumanDecision) error
	Cancel(ctx context.Context, sessionID string) error
	Result(ctx context.Context, sessionID string) (*domain.Report, error)
	History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error)
	Sessions(ctx context.Context) ([]*domain.SessionView, error)
	Mermaid(ctx context.Context, sessionID string) (string, error)
}

// Server holds the handlers of the API.
type Server struct {
	engine  Engine
	logger  *slog.Logger
	router  routers.Router
	metrics http.Handler
	version string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts a Prometheus handler on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = strings.TrimSpace(v)
	}
}

// Spec loads and validates the embedded OpenAPI document.
func Spec(ctx context.Context) (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return doc, nil
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) (http.Handler, error) {
	s := &Server{engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	doc, err := Spec(context.Background())
	if err != nil {
		return nil, err
	}
	if s.router, err = legacy.NewRouter(doc); err != nil {
		return nil, fmt.Errorf("failed to build openapi router: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.logRequests)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(rawSpec)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.validate)
		r.Get("/health", s.GetHealth)
		r.Get("/graph", s.GetGraph)
		r.Get("/sessions", s.ListSessions)
		r.Post("/sessions", s.StartSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Post("/resume", s.ResumeSession)
			r.Post("/cancel", s.CancelSession)
			r.Get("/result", s.GetResult)
			r.Get("/history", s.GetHistory)
		})
	})
	return r, nil
}

// validate rejects requests that do not match the OpenAPI document. Paths the
// document does not describe fall through to the router.
func (s *Server) validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, params, err := s.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: params,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// StartSession handles POST /sessions.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	// The run outlives a client that hangs up: the session is checkpointed
	// either way and can be inspected later.
	ctx := context.WithoutCancel(r.Context())
	id, err := s.engine.Start(ctx, body.Question)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeSession(r.Context(), w, http.StatusCreated, id)
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	s.writeSession(r.Context(), w, http.StatusOK, id)
}

// ResumeSession handles POST /sessions/{id}/resume.
func (s *Server) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var body ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	decision, err := domain.ParseDecision(body.Decision)
	if err != nil {
		s.fail(w, err)
		return
	}

	err = s.engine.Resume(context.WithoutCancel(r.Context()), id, domain.HumanDecision{
		Decision: decision,
		Notes:    body.Notes,
		Chart:    body.Chart,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeSession(r.Context(), w, http.StatusOK, id)
}

// CancelSession handles POST /sessions/{id}/cancel.
func (s *Server) CancelSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.writeSession(r.Context(), w, http.StatusAccepted, id)
}

// GetResult handles GET /sessions/{id}/result.
func (s *Server) GetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	report, err := s.engine.Result(r.Context(), id)
	var failed *domain.FailedError
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, Result{SessionID: id, Status: domain.StatusCompleted, Report: report})
	case errors.As(err, &failed):
		s.writeJSON(w, http.StatusOK, Result{
			SessionID: id,
			Status:    domain.StatusFailed,
			Error:     &ErrorBody{Code: string(failed.Code), Message: failed.Message},
		})
	default:
		s.fail(w, err)
	}
}

// GetHistory handles GET /sessions/{id}/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	history, err := s.engine.History(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]CheckpointSummary, len(history))
	for i, cp := range history {
		out[i] = summarize(cp)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"checkpoints": out})
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	views, err := s.engine.Sessions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]Session, len(views))
	for i, v := range views {
		out[i] = sessionFromView(v)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// GetGraph handles GET /graph.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	var sessionID *string
	if err := runtime.BindQueryParameter("form", true, false, "session_id", r.URL.Query(), &sessionID); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := ""
	if sessionID != nil {
		id = *sessionID
	}
	chart, err := s.engine.Mermaid(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(chart))
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid session id: %v", err))
		return "", false
	}
	return id, true
}

func (s *Server) writeSession(ctx context.Context, w http.ResponseWriter, status int, id string) {
	v, err := s.engine.Status(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, status, sessionFromView(v))
}

// fail maps engine errors onto status codes. Unexpected errors are logged and
// reported without their text.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrSessionBusy):
		s.writeError(w, http.StatusConflict, "session_busy", err.Error())
	case errors.Is(err, domain.ErrNotFinished):
		s.writeError(w, http.StatusConflict, "not_finished", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		s.writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrInvalidDecision), errors.Is(err, domain.ErrEmptyQuestion),
		errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.Error("request failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}
