// Package memory provides long-term conversation memory keyed by user.
//
// A Store supports semantic search over prior interactions and appends
// new ones. Two vector backends are available: an embedded chromem-go
// database and a remote Qdrant instance. Both embed text through a
// chromem.EmbeddingFunc built by NewEmbedder.
//
// Memory is advisory. Callers treat every Store error as non-fatal: a
// failed search yields empty context and a failed add is logged.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultUserID is used when a caller supplies no user id.
const DefaultUserID = "default"

// DefaultLimit is the number of memories returned by Search when the
// backend is configured without a limit.
const DefaultLimit = 5

// Result is one retrieved memory.
type Result struct {
	ID        string    `json:"id"`
	Memory    string    `json:"memory"`
	Score     float32   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Interaction is one user/assistant exchange to remember.
type Interaction struct {
	User      string
	Assistant string
}

// Text renders the interaction as stored memory text.
func (i Interaction) Text() string {
	var sb strings.Builder
	if i.User != "" {
		fmt.Fprintf(&sb, "User: %s", i.User)
	}
	if i.Assistant != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Assistant: %s", i.Assistant)
	}
	return sb.String()
}

// AddResult confirms a write, listing the memories stored.
type AddResult struct {
	Results []Result `json:"results"`
}

// Store is long-term memory keyed by user id. Implementations are safe
// for concurrent use by independent turns.
type Store interface {
	// Search returns up to the configured number of memories for
	// userID, ranked by similarity to query.
	Search(ctx context.Context, query, userID string) ([]Result, error)
	// Add stores an interaction for userID.
	Add(ctx context.Context, in Interaction, userID string) (*AddResult, error)
	// Close releases backend resources.
	Close() error
}

// Nop is a Store that remembers nothing. It backs the "none" backend.
type Nop struct{}

// Search returns no memories.
func (Nop) Search(context.Context, string, string) ([]Result, error) { return nil, nil }

// Add discards the interaction.
func (Nop) Add(context.Context, Interaction, string) (*AddResult, error) {
	return &AddResult{}, nil
}

// Close is a no-op.
func (Nop) Close() error { return nil }

func normalizeUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DefaultUserID
	}
	return userID
}
