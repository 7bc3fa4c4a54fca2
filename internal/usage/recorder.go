package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/chattr/internal/events"
)

// writeTimeout bounds one insert so a locked database cannot stall the
// event loop.
const writeTimeout = 5 * time.Second

// Recorder stores a Record for every model response published on a bus.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Run consumes events until ctx is done or ch is closed.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			rec, ok := FromEvent(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			if err := r.store.Add(wctx, rec); err != nil {
				r.logger.Warn("usage record failed", "thread_id", rec.ThreadID, "error", err)
			}
			cancel()
		}
	}
}

// FromEvent converts a model_response event into a Record.
func FromEvent(e events.Event) (Record, bool) {
	if e.Source != events.SourceAgent || e.Kind != events.KindModelResponse {
		return Record{}, false
	}
	rec := Record{
		Timestamp:    e.Timestamp,
		ThreadID:     str(e.Data["thread_id"]),
		Model:        str(e.Data["model"]),
		Hop:          num(e.Data["hop"]),
		InputTokens:  num(e.Data["tokens_in"]),
		OutputTokens: num(e.Data["tokens_out"]),
	}
	return rec, true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num accepts the integer types components publish and the float64 that
// JSON decoding produces.
func num(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
