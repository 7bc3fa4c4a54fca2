package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nugget/chattr/internal/usage"
)

// defaultUsageWindow applies when GET /v1/usage has no window parameter.
const defaultUsageWindow = 24 * time.Hour

// UsageReporter aggregates token usage. *usage.Store implements it.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	ThreadSummary(ctx context.Context, threadID string) (*usage.Summary, error)
}

// usageResponse is the body of GET /v1/usage.
type usageResponse struct {
	Start   time.Time                 `json:"start"`
	End     time.Time                 `json:"end"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model"`
}

// threadUsageResponse is the body of GET /v1/threads/{id}/usage.
type threadUsageResponse struct {
	ThreadID string `json:"thread_id"`
	*usage.Summary
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage not configured")
		return
	}
	window := defaultUsageWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid window: "+v)
			return
		}
		window = d
	}

	end := time.Now()
	start := end.Add(-window)
	total, err := s.usage.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	byModel, err := s.usage.SummaryByModel(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage by model failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load usage")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, usageResponse{Start: start, End: end, Total: total, ByModel: byModel}, s.logger)
}

func (s *Server) handleThreadUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage not configured")
		return
	}
	id := r.PathValue("id")
	sum, err := s.usage.ThreadSummary(r.Context(), id)
	if err != nil {
		s.logger.Error("thread usage failed", "thread_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, threadUsageResponse{ThreadID: id, Summary: sum}, s.logger)
}
