// Package thread persists conversations: the model-facing message
// sequence and the display transcript derived from it. Stores only ever
// append; a thread is created by its first Append and never deleted.
package thread

import (
	"context"
	"errors"
	"time"

	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/transcript"
)

// ErrNotFound is returned by Get for an unknown thread id.
var ErrNotFound = errors.New("thread not found")

// Thread is a stored conversation.
type Thread struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	Messages   []llm.Message       `json:"messages"`
	Transcript []transcript.Record `json:"transcript"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Summary describes a thread without its contents.
type Summary struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Messages  int       `json:"messages"`
	Records   int       `json:"records"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists threads.
type Store interface {
	// Get returns the thread or ErrNotFound.
	Get(ctx context.Context, id string) (*Thread, error)
	// Append adds messages and records to the thread, creating it on
	// first use. The user id is recorded when the thread is created.
	Append(ctx context.Context, id, userID string, msgs []llm.Message, records []transcript.Record) error
	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
	Close() error
}
