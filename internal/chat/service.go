// Package chat runs user turns against stored threads. It joins the
// turn controller, the transcript projector and the thread store: each
// controller event is projected as it arrives, forwarded to the caller,
// and the appended messages and records are persisted when the turn
// ends, whether it succeeded or not.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/chattr/internal/agent"
	"github.com/nugget/chattr/internal/events"
	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/memory"
	"github.com/nugget/chattr/internal/thread"
	"github.com/nugget/chattr/internal/transcript"
)

// DefaultPersistTimeout bounds the store write at the end of a turn.
const DefaultPersistTimeout = 10 * time.Second

// ErrNoTerminalText is returned when the agent reports success but the
// transcript does not end in assistant text.
var ErrNoTerminalText = errors.New("turn ended without assistant text")

// Runner executes one turn. *agent.Controller implements it.
type Runner interface {
	Run(ctx context.Context, req *agent.Request, emit func(agent.Event)) (*agent.Result, error)
}

// Localizer rewrites media records to local copies. *media.Localizer
// implements it.
type Localizer interface {
	Localize(ctx context.Context, rec transcript.Record) transcript.Record
}

// Config wires a Service.
type Config struct {
	Agent   Runner
	Threads thread.Store
	Kinds   transcript.KindResolver

	// Media is optional. When nil, media refs are stored as returned by
	// the tool.
	Media Localizer

	Bus    *events.Bus
	Logger *slog.Logger

	PersistTimeout time.Duration
}

// TurnRequest is one user message on a thread. An empty ThreadID starts
// a new thread. An empty UserID uses the thread's owner, or
// memory.DefaultUserID for a new thread.
type TurnRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Message  string `json:"message"`
}

// TurnResult is the outcome of a turn. Records holds what the turn
// appended to the transcript, starting with the user record.
type TurnResult struct {
	ThreadID  string              `json:"thread_id"`
	UserID    string              `json:"user_id"`
	State     agent.State         `json:"state"`
	Content   string              `json:"content"`
	Records   []transcript.Record `json:"records"`
	Hops      int                 `json:"hops"`
	ToolCalls int                 `json:"tool_calls"`
	Elapsed   time.Duration       `json:"elapsed"`
}

// Service runs turns. Turns on the same thread are serialized.
type Service struct {
	agent          Runner
	threads        thread.Store
	projector      *transcript.Projector
	media          Localizer
	bus            *events.Bus
	logger         *slog.Logger
	locks          *agent.ThreadLocks
	persistTimeout time.Duration
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Agent == nil:
		return nil, errors.New("chat: agent is required")
	case cfg.Threads == nil:
		return nil, errors.New("chat: thread store is required")
	case cfg.Kinds == nil:
		return nil, errors.New("chat: tool kind resolver is required")
	}
	s := &Service{
		agent:          cfg.Agent,
		threads:        cfg.Threads,
		projector:      transcript.NewProjector(cfg.Kinds),
		media:          cfg.Media,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		locks:          agent.NewThreadLocks(),
		persistTimeout: cfg.PersistTimeout,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "chat")
	if s.persistTimeout <= 0 {
		s.persistTimeout = DefaultPersistTimeout
	}
	return s, nil
}

// Threads returns the backing thread store.
func (s *Service) Threads() thread.Store {
	return s.threads
}

// Turn runs one user turn. onRecord, which may be nil, receives each
// record as soon as it is produced, user record first. The returned
// result is non-nil whenever the turn started: on failure it carries the
// records produced before the error, and those records are persisted.
func (s *Service) Turn(ctx context.Context, req TurnRequest, onRecord func(transcript.Record)) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, agent.ErrEmptyMessage
	}
	if onRecord == nil {
		onRecord = func(transcript.Record) {}
	}
	if req.ThreadID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate thread id: %w", err)
		}
		req.ThreadID = id.String()
	}
	logger := s.logger.With("thread_id", req.ThreadID)

	unlock := s.locks.Lock(req.ThreadID)
	defer unlock()

	var history []llm.Message
	existing, err := s.threads.Get(ctx, req.ThreadID)
	switch {
	case errors.Is(err, thread.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load thread %s: %w", req.ThreadID, err)
	default:
		history = existing.Messages
		if req.UserID == "" {
			req.UserID = existing.UserID
		}
	}
	if req.UserID == "" {
		req.UserID = memory.DefaultUserID
	}

	out := &TurnResult{
		ThreadID: req.ThreadID,
		UserID:   req.UserID,
		State:    agent.StateRouting,
	}
	user := transcript.UserRecord(req.Message)
	out.Records = append(out.Records, user)
	onRecord(user)

	// A projection failure means the registry and projector disagree
	// about a tool. It cancels the turn and becomes its error.
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	emit := func(e agent.Event) {
		add, perr := s.projector.Records(e)
		if perr != nil {
			logger.Error("transcript projection failed", "error", perr)
			cancel(perr)
			return
		}
		for _, rec := range add {
			if s.media != nil && rec.Media != nil {
				rec = s.media.Localize(runCtx, rec)
			}
			out.Records = append(out.Records, rec)
			onRecord(rec)
		}
	}

	res, runErr := s.agent.Run(runCtx, &agent.Request{
		ThreadID: req.ThreadID,
		UserID:   req.UserID,
		History:  history,
		Message:  req.Message,
	}, emit)
	if cause := context.Cause(runCtx); runErr != nil && cause != nil && ctx.Err() == nil {
		runErr = cause
	}

	var msgs []llm.Message
	if res != nil {
		out.State = res.State
		out.Content = res.Content
		out.Hops = res.Hops
		out.ToolCalls = res.ToolCalls
		out.Elapsed = res.Elapsed
		msgs = res.Messages
	} else if runErr != nil {
		out.State = agent.StateFailed
	}
	if runErr == nil && !transcript.Terminal(out.Records) {
		logger.Warn("turn ended without assistant text", "state", out.State)
		out.State = agent.StateFailed
		runErr = ErrNoTerminalText
	}
	if runErr != nil {
		msgs = consistentPrefix(msgs)
		if len(msgs) == 0 {
			msgs = []llm.Message{{Role: llm.RoleUser, Content: req.Message}}
		}
	}

	if err := s.persist(ctx, req, msgs, out.Records); err != nil {
		logger.Error("persist turn failed", "error", err)
		if runErr == nil {
			return out, err
		}
	}

	if runErr != nil {
		return out, runErr
	}
	return out, nil
}

func (s *Service) persist(ctx context.Context, req TurnRequest, msgs []llm.Message, records []transcript.Record) error {
	// The write survives caller cancellation so a cancelled turn still
	// keeps its partial transcript.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := s.threads.Append(ctx, req.ThreadID, req.UserID, msgs, records); err != nil {
		return fmt.Errorf("append thread %s: %w", req.ThreadID, err)
	}
	s.bus.Emit(events.SourceChat, events.KindTranscriptAppended, map[string]any{
		"thread_id": req.ThreadID,
		"records":   len(records),
		"messages":  len(msgs),
	})
	return nil
}

// consistentPrefix drops a trailing assistant tool-call message whose
// tool results are incomplete, along with the partial results, so the
// stored history stays valid input for the next model call.
func consistentPrefix(msgs []llm.Message) []llm.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != llm.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		if len(msgs)-1-i >= len(m.ToolCalls) {
			return msgs
		}
		return msgs[:i]
	}
	return msgs
}
