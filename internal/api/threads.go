package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/chattr/internal/agent"
	"github.com/nugget/chattr/internal/chat"
	"github.com/nugget/chattr/internal/thread"
	"github.com/nugget/chattr/internal/transcript"
)

// TurnRequest is the body of POST /v1/threads/{id}/turns and of each
// client frame on the thread stream.
type TurnRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
	// Stream switches the POST response to server-sent events, one
	// record per event.
	Stream bool `json:"stream,omitempty"`
}

// TurnResponse reports a finished turn. Error is set when the turn
// failed; Records then holds the transcript produced before the failure.
type TurnResponse struct {
	ThreadID  string              `json:"thread_id"`
	UserID    string              `json:"user_id"`
	State     agent.State         `json:"state"`
	Content   string              `json:"content"`
	Records   []transcript.Record `json:"records"`
	Hops      int                 `json:"hops"`
	ToolCalls int                 `json:"tool_calls"`
	ElapsedMS int64               `json:"elapsed_ms"`
	Error     string              `json:"error,omitempty"`
}

func newTurnResponse(res *chat.TurnResult, err error) TurnResponse {
	out := TurnResponse{
		ThreadID:  res.ThreadID,
		UserID:    res.UserID,
		State:     res.State,
		Content:   res.Content,
		Records:   res.Records,
		Hops:      res.Hops,
		ToolCalls: res.ToolCalls,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if out.Records == nil {
		out.Records = []transcript.Record{}
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// streamFrame is one server message on a stream: a record as it is
// produced, then a final done or error frame carrying the result.
type streamFrame struct {
	Type   string             `json:"type"`
	Record *transcript.Record `json:"record,omitempty"`
	Result *TurnResponse      `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

const (
	frameRecord = "record"
	frameDone   = "done"
	frameError  = "error"
)

func finalFrame(res *chat.TurnResult, err error) streamFrame {
	if res == nil {
		return streamFrame{Type: frameError, Error: err.Error()}
	}
	resp := newTurnResponse(res, err)
	if err != nil {
		return streamFrame{Type: frameError, Result: &resp, Error: err.Error()}
	}
	return streamFrame{Type: frameDone, Result: &resp}
}

// turnStatus maps a turn that never started to an HTTP status.
func turnStatus(err error) int {
	if errors.Is(err, agent.ErrEmptyMessage) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	turn := chat.TurnRequest{
		ThreadID: r.PathValue("id"),
		UserID:   req.UserID,
		Message:  req.Message,
	}
	if req.Stream {
		s.handleStreamingTurn(w, r, turn)
		return
	}

	res, err := s.chat.Turn(r.Context(), turn, nil)
	if res == nil {
		s.logger.Error("turn rejected", "thread_id", turn.ThreadID, "error", err)
		s.errorResponse(w, turnStatus(err), err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("turn failed", "thread_id", res.ThreadID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, newTurnResponse(res, err), s.logger)
}

func (s *Server) handleStreamingTurn(w http.ResponseWriter, r *http.Request, turn chat.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	send := func(f streamFrame) {
		s.writeSSE(w, f)
		flusher.Flush()
		// Long tool hops would otherwise trip the write deadline.
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	res, err := s.chat.Turn(r.Context(), turn, func(rec transcript.Record) {
		send(streamFrame{Type: frameRecord, Record: &rec})
	})
	if err != nil {
		s.logger.Warn("streamed turn failed", "thread_id", turn.ThreadID, "error", err)
	}
	send(finalFrame(res, err))
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeSSE(w http.ResponseWriter, f streamFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		s.logger.Debug("failed to marshal SSE frame", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE frame", "error", err)
	}
}

func (s *Server) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	if s.threads == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "thread store not configured")
		return
	}
	id := r.PathValue("id")
	th, err := s.threads.Get(r.Context(), id)
	if errors.Is(err, thread.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "thread not found: "+id)
		return
	}
	if err != nil {
		s.logger.Error("load thread failed", "thread_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, th, s.logger)
}

func (s *Server) handleThreadList(w http.ResponseWriter, r *http.Request) {
	if s.threads == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "thread store not configured")
		return
	}
	list, err := s.threads.List(r.Context())
	if err != nil {
		s.logger.Error("list threads failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	if list == nil {
		list = []thread.Summary{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"threads": list,
		"count":   len(list),
	}, s.logger)
}
