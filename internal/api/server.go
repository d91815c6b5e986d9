// Package api implements the opbridge HTTP front door: the webhook
// endpoint the browser extension posts to, plus health, introspection and
// metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opbridge/opbridge/internal/buildinfo"
	"github.com/opbridge/opbridge/internal/observe"
	"github.com/opbridge/opbridge/internal/tools"
	"github.com/opbridge/opbridge/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Sender delivers one message to the assistant and returns its reply.
// [*agent.Bridge] implements it.
type Sender interface {
	Send(ctx context.Context, message string) (string, error)
}

// ToolStats aggregates the tool call audit log. [*usage.Store]
// implements it.
type ToolStats interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByTool(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// Config holds the server's collaborators. Sender is required.
type Config struct {
	Address string
	Port    int

	Sender      Sender
	Descriptors []tools.Descriptor
	Stats       ToolStats // nil disables /v1/tools/stats

	// SessionReady reports whether the shared assistant thread exists.
	SessionReady func() bool

	AllowedOrigins []string
	// ReplyTimeout is how long the dispatch may take; the HTTP write
	// timeout is derived from it.
	ReplyTimeout time.Duration

	Metrics *observe.Metrics // nil disables the OTel middleware
	Logger  *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 120 * time.Second
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Handler returns the root handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Webhook
	mux.HandleFunc("POST /sendMessage", s.handleSendMessage)
	mux.HandleFunc("OPTIONS /sendMessage", s.handlePreflight)

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	// Introspection
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/tools/stats", s.handleToolStats)

	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	h = s.withCORS(h)
	h = s.withLogging(h)
	if s.cfg.Metrics != nil {
		h = observe.Middleware(s.cfg.Metrics)(h)
	}
	return h
}

// Start serves HTTP until Shutdown is called. It returns
// [http.ErrServerClosed] after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// The reply can take the full dispatch timeout.
		WriteTimeout: s.cfg.ReplyTimeout + 15*time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"correlation_id", observe.CorrelationID(r.Context()),
		)
	})
}

// errorResponse writes {"error": message} with the given status.
func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "opbridge",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ready := s.cfg.SessionReady != nil && s.cfg.SessionReady()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":        "healthy",
		"session_ready": ready,
		"uptime":        buildinfo.Uptime().Round(time.Second).String(),
	}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	descs := s.cfg.Descriptors
	if descs == nil {
		descs = []tools.Descriptor{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": descs, "count": len(descs)}, s.logger)
}

// handleToolStats reports tool call totals over the last `hours` hours
// (default 24).
func (s *Server) handleToolStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stats == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage store not configured")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := s.cfg.Stats.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("tool stats query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to query tool stats")
		return
	}
	byTool, err := s.cfg.Stats.SummaryByTool(r.Context(), start, end)
	if err != nil {
		s.logger.Error("tool stats query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to query tool stats")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"hours":   hours,
		"total":   total,
		"by_tool": byTool,
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
