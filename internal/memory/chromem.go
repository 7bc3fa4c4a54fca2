package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// ChromemConfig configures a ChromemStore.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps memory in process.
	Path string
	// Collection is the prefix of each per-user collection name.
	Collection string
	Limit      int
	Embed      chromem.EmbeddingFunc
	Logger     *slog.Logger
}

// ChromemStore is an embedded vector memory. Each user gets a separate
// collection named "<collection>-<user>".
type ChromemStore struct {
	db     *chromem.DB
	prefix string
	limit  int
	embed  chromem.EmbeddingFunc
	logger *slog.Logger

	// chromem serializes per collection; mu only guards collection
	// creation.
	mu sync.Mutex
}

// NewChromemStore opens (or creates) the database.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	if cfg.Embed == nil {
		return nil, errors.New("chromem store: embedding function is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", cfg.Path, err)
		}
	}

	prefix := cfg.Collection
	if prefix == "" {
		prefix = "memories"
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &ChromemStore{
		db:     db,
		prefix: prefix,
		limit:  limit,
		embed:  cfg.Embed,
		logger: logger,
	}, nil
}

func (s *ChromemStore) collection(userID string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.prefix + "-" + userID
	c, err := s.db.GetOrCreateCollection(name, map[string]string{"user_id": userID}, s.embed)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	return c, nil
}

// Search returns the user's memories most similar to query.
func (s *ChromemStore) Search(ctx context.Context, query, userID string) ([]Result, error) {
	userID = normalizeUser(userID)
	c, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	n := min(s.limit, c.Count())
	if n == 0 || query == "" {
		return nil, nil
	}

	docs, err := c.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}

	out := make([]Result, 0, len(docs))
	for _, d := range docs {
		r := Result{ID: d.ID, Memory: d.Content, Score: d.Similarity}
		if ts, err := time.Parse(time.RFC3339, d.Metadata["created_at"]); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}

	s.logger.Debug("memory search",
		"user_id", userID,
		"results", len(out),
	)
	return out, nil
}

// Add embeds and stores the interaction.
func (s *ChromemStore) Add(ctx context.Context, in Interaction, userID string) (*AddResult, error) {
	userID = normalizeUser(userID)
	text := in.Text()
	if text == "" {
		return &AddResult{}, nil
	}

	c, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate memory id: %w", err)
	}
	now := time.Now().UTC()

	doc := chromem.Document{
		ID:      id.String(),
		Content: text,
		Metadata: map[string]string{
			"user_id":    userID,
			"created_at": now.Format(time.RFC3339),
		},
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}

	return &AddResult{Results: []Result{{ID: doc.ID, Memory: text, CreatedAt: now}}}, nil
}

// Close is a no-op; persistent chromem databases write through on add.
func (s *ChromemStore) Close() error {
	return nil
}
