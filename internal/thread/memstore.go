package thread

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/transcript"
)

// MemoryStore keeps threads in process. Used by `chattr ask` and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*Thread), now: time.Now}
}

// Get returns a copy of the thread.
func (s *MemoryStore) Get(_ context.Context, id string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *th
	out.Messages = append([]llm.Message(nil), th.Messages...)
	out.Transcript = append([]transcript.Record(nil), th.Transcript...)
	return &out, nil
}

// Append adds to the thread, creating it if needed.
func (s *MemoryStore) Append(_ context.Context, id, userID string, msgs []llm.Message, records []transcript.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	th, ok := s.threads[id]
	if !ok {
		th = &Thread{ID: id, UserID: userID, CreatedAt: now}
		s.threads[id] = th
	}
	th.Messages = append(th.Messages, msgs...)
	th.Transcript = append(th.Transcript, records...)
	th.UpdatedAt = now
	return nil
}

// List returns summaries, most recently updated first.
func (s *MemoryStore) List(context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, Summary{
			ID:        th.ID,
			UserID:    th.UserID,
			Messages:  len(th.Messages),
			Records:   len(th.Transcript),
			CreatedAt: th.CreatedAt,
			UpdatedAt: th.UpdatedAt,
		})
	}
	sortSummaries(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func sortSummaries(out []Summary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
}
