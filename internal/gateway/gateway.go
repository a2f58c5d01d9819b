// Package gateway is the HTTP surface: build and run control for clients,
// the command queue for tools, and a best-effort event stream on /ws.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/config"
	"github.com/basket/scenecrew/internal/coordinator"
	"github.com/basket/scenecrew/internal/memory"
	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/queue"
	"github.com/basket/scenecrew/internal/safety"
	"github.com/basket/scenecrew/internal/shared"
)

const (
	defaultHistoryLimit = 50
	maxBodyBytes        = 1 << 20
)

type Config struct {
	Orchestrator *coordinator.Orchestrator
	Queue        *queue.Queue
	Store        *persistence.Store
	Memory       *memory.Extractor
	Bus          *bus.Bus

	AuthToken string

	// AllowOrigins controls accepted Origin headers for browser requests and
	// WS connections. Empty list means same-origin only.
	AllowOrigins []string
	RateLimit    config.RateLimitConfig

	// ConfigFingerprint is the hash of the active config exposed on /healthz.
	ConfigFingerprint string

	Tracer  trace.Tracer
	Metrics *otelPkg.Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg     Config
	limiter *RateLimitMiddleware
	tracer  trace.Tracer
	metrics *otelPkg.Metrics
	logger  *slog.Logger
	started time.Time
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		limiter: NewRateLimitMiddleware(cfg.RateLimit),
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		started: time.Now(),
	}
	if s.tracer == nil {
		s.tracer = otelPkg.Noop().Tracer
	}
	if s.metrics == nil {
		s.metrics = otelPkg.NoopMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Limiter exposes the rate limiter so the caller can run bucket eviction.
func (s *Server) Limiter() *RateLimitMiddleware { return s.limiter }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("POST /api/projects/{id}/build", s.handleBuild)
	mux.HandleFunc("POST /api/projects/{id}/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/projects/{id}/run", s.handleRunStatus)
	mux.HandleFunc("POST /api/projects/{id}/run/control", s.handleRunControl)
	mux.HandleFunc("POST /api/projects/{id}/debug", s.handleDebug)
	mux.HandleFunc("GET /api/projects/{id}/memories", s.handleMemories)
	mux.HandleFunc("GET /api/projects/{id}/history", s.handleHistory)
	mux.HandleFunc("PUT /api/projects/{id}/settings", s.handleSettings)
	mux.HandleFunc("POST /api/commands", s.handleSubmitCommand)
	mux.HandleFunc("GET /api/commands/{id}", s.handleGetCommand)

	var h http.Handler = s.timeRoutes(mux)
	h = s.requireAuth(h)
	h = s.limiter.Wrap(h)
	h = RequestSizeLimitMiddleware(maxBodyBytes)(h)
	h = NewCORSMiddleware(s.cfg.AllowOrigins)(h)
	return s.trace(h)
}

// trace wraps every request in a server span with a fresh trace id.
func (s *Server) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.WithTraceID(r.Context(), shared.NewTraceID())
		ctx, span := otelPkg.StartServerSpan(ctx, s.tracer, r.Method+" "+r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// timeRoutes records request duration by matched pattern. It must wrap the
// mux directly: the mux sets Pattern on the request it is handed.
func (s *Server) timeRoutes(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mux.ServeHTTP(w, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestDuration.Record(r.Context(), time.Since(start).Seconds(),
			metric.WithAttributes(otelPkg.AttrRoute.String(route)))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	counts, err := s.cfg.Store.CommandCounts(r.Context())
	dbOK := err == nil
	payload := map[string]any{
		"healthy":            dbOK,
		"db_ok":              dbOK,
		"commands":           counts,
		"config_fingerprint": s.cfg.ConfigFingerprint,
		"uptime_seconds":     int(time.Since(s.started).Seconds()),
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.cfg.Orchestrator.Build(r.Context(), r.PathValue("id"), req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Mode == coordinator.ModeFull {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.cfg.Orchestrator.StartRun(r.Context(), r.PathValue("id"), req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := s.cfg.Orchestrator.GetRunStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRunControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.cfg.Orchestrator.ControlRun(r.Context(), r.PathValue("id"), req.Action); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "action": strings.ToLower(req.Action)})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string `json:"code"`
		Error     string `json:"error"`
		AgentName string `json:"agent_name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.cfg.Orchestrator.Debug(r.Context(), r.PathValue("id"), req.Code, req.Error, req.AgentName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"fixed":   out.Fixed,
		"outcome": out,
	})
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	limit := queryInt(r, "limit", 0)
	ctx := r.Context()

	var (
		mems []persistence.AgentMemory
		err  error
	)
	switch agentName, q := r.URL.Query().Get("agent"), r.URL.Query().Get("q"); {
	case q != "":
		mems, err = s.cfg.Memory.Search(ctx, projectID, q)
	case agentName != "":
		canonical := agent.Canonical(agentName)
		if canonical == "" {
			s.writeError(w, r, &shared.ValidationError{Field: "agent", Reason: "unknown agent " + strconv.Quote(agentName)})
			return
		}
		mems, err = s.cfg.Memory.Recall(ctx, projectID, canonical, limit)
	default:
		mems, err = s.cfg.Memory.TeamRecall(ctx, projectID, limit)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if mems == nil {
		mems = []persistence.AgentMemory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": mems})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	limit := queryInt(r, "limit", defaultHistoryLimit)
	chat, err := s.cfg.Store.ListChat(r.Context(), projectID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.cfg.Store.ListEvents(r.Context(), projectID, r.URL.Query().Get("event_type"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if chat == nil {
		chat = []persistence.ChatTurn{}
	}
	if events == nil {
		events = []persistence.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat, "events": events})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DebugModeAuto *bool `json:"debug_mode_auto"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.DebugModeAuto == nil {
		s.writeError(w, r, &shared.ValidationError{Field: "debug_mode_auto"})
		return
	}
	projectID := r.PathValue("id")
	if err := s.cfg.Store.SetDebugModeAuto(r.Context(), projectID, *req.DebugModeAuto); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "debug_mode_auto": *req.DebugModeAuto})
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   string `json:"project_id"`
		Code        string `json:"code"`
		SubmittedBy string `json:"submitted_by"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.SubmittedBy == "" {
		req.SubmittedBy = shared.SystemAgent
	}
	id, err := s.cfg.Queue.Submit(r.Context(), req.ProjectID, req.Code, req.SubmittedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"command_id": id})
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.cfg.Queue.PollStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// decode reads a JSON body. On failure it writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
	Rule  string `json:"rule,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *shared.ValidationError
		rej  *safety.RejectionError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), Code: "invalid", Field: verr.Field})
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: rej.Error(), Code: "rejected", Rule: rej.Rule})
	case errors.Is(err, coordinator.ErrRunActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "run_active"})
	case errors.Is(err, coordinator.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "illegal_transition"})
	case errors.Is(err, coordinator.ErrNoActiveRun), errors.Is(err, coordinator.ErrNoRun),
		errors.Is(err, queue.ErrCommandNotFound), errors.Is(err, persistence.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
