// Package api implements the chattr HTTP API: turns on threads, stored
// transcripts, the tool catalog, and WebSocket streams of records and
// bus events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/chattr/internal/buildinfo"
	"github.com/nugget/chattr/internal/chat"
	"github.com/nugget/chattr/internal/connwatch"
	"github.com/nugget/chattr/internal/events"
	"github.com/nugget/chattr/internal/thread"
	"github.com/nugget/chattr/internal/tools"
	"github.com/nugget/chattr/internal/transcript"
)

// TurnRunner runs one turn. *chat.Service implements it.
type TurnRunner interface {
	Turn(ctx context.Context, req chat.TurnRequest, onRecord func(transcript.Record)) (*chat.TurnResult, error)
}

// ToolCatalog describes registered tools. *tools.Registry implements it.
type ToolCatalog interface {
	Descriptions() []tools.Description
	Unavailable() map[string]error
}

// HealthReporter lists watched services. *connwatch.Monitor implements it.
type HealthReporter interface {
	Status() []connwatch.Status
}

// Config wires a Server.
type Config struct {
	Address string
	Port    int

	Chat    TurnRunner
	Threads thread.Store
	Tools   ToolCatalog
	// Health feeds the services list of /health. Optional.
	Health HealthReporter
	// Usage feeds /v1/usage. When nil the usage endpoints report 503.
	Usage UsageReporter
	// Bus feeds /v1/events. When nil the endpoint reports 503.
	Bus    *events.Bus
	Logger *slog.Logger
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	chat    TurnRunner
	threads thread.Store
	tools   ToolCatalog
	health  HealthReporter
	usage   UsageReporter
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: cfg.Address,
		port:    cfg.Port,
		chat:    cfg.Chat,
		threads: cfg.Threads,
		tools:   cfg.Tools,
		health:  cfg.Health,
		usage:   cfg.Usage,
		bus:     cfg.Bus,
		logger:  logger.With("component", "api"),
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("GET /v1/tools", s.handleTools)

	mux.HandleFunc("GET /v1/threads", s.handleThreadList)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleThreadGet)
	mux.HandleFunc("POST /v1/threads/{id}/turns", s.handleTurn)
	mux.HandleFunc("GET /v1/threads/{id}/stream", s.handleThreadStream)
	mux.HandleFunc("GET /v1/threads/{id}/usage", s.handleThreadUsage)

	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until ctx is cancelled
// or the listener fails. Cancellation shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.address, strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Turns stream over long-lived connections; handlers reset
		// their own write deadlines.
		WriteTimeout: 0,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    buildinfo.Name,
		"version": buildinfo.Get().Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Get(), s.logger)
}

// healthResponse is the body of GET /health. Status is "degraded" when
// any watched service is unreachable; the server itself still answers.
type healthResponse struct {
	Status   string             `json:"status"`
	Services []connwatch.Status `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy"}
	if s.health != nil {
		resp.Services = s.health.Status()
		for _, svc := range resp.Services {
			if !svc.Ready {
				resp.Status = "degraded"
				break
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// toolsResponse is the body of GET /v1/tools.
type toolsResponse struct {
	Tools       []tools.Description `json:"tools"`
	Unavailable map[string]string   `json:"unavailable,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	resp := toolsResponse{Tools: s.tools.Descriptions()}
	if resp.Tools == nil {
		resp.Tools = []tools.Description{}
	}
	if down := s.tools.Unavailable(); len(down) > 0 {
		resp.Unavailable = make(map[string]string, len(down))
		for name, err := range down {
			resp.Unavailable[name] = err.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(code),
			"code":    code,
		},
	}, s.logger)
}

func errorType(code int) string {
	switch {
	case code == http.StatusNotFound:
		return "not_found_error"
	case code >= 500:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}
