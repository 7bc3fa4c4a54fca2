package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

// fakeQdrant keeps points in memory and answers queries by filtering on
// user_id, returning points in insertion order.
type fakeQdrant struct {
	mu          sync.Mutex
	exists      bool
	existsErr   error
	created     *qdrant.CreateCollection
	points      []*qdrant.PointStruct
	lastQuery   *qdrant.QueryPoints
	closed      bool
	existsCalls int
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists, nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = req
	f.exists = true
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, req.Points...)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = req
	user := req.GetFilter().GetMust()[0].GetField().GetMatch().GetKeyword()
	var out []*qdrant.ScoredPoint
	for _, p := range f.points {
		if p.Payload["user_id"].GetStringValue() != user {
			continue
		}
		out = append(out, &qdrant.ScoredPoint{Id: p.Id, Payload: p.Payload, Score: 0.9})
		if uint64(len(out)) == req.GetLimit() {
			break
		}
	}
	return out, nil
}

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func newTestQdrant(t *testing.T, fake *fakeQdrant) *QdrantStore {
	t.Helper()
	s, err := newQdrantStore(fake, QdrantConfig{
		Collection: "memories",
		Dimensions: len(testVocabulary) + 1,
		Limit:      3,
		Embed:      keywordEmbed,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestQdrantStore_CreatesCollection(t *testing.T) {
	fake := &fakeQdrant{}
	s := newTestQdrant(t, fake)

	if _, err := s.Search(context.Background(), "nile", "alice"); err != nil {
		t.Fatal(err)
	}
	if fake.created == nil {
		t.Fatal("collection not created")
	}
	params := fake.created.GetVectorsConfig().GetParams()
	if params.GetSize() != uint64(len(testVocabulary)+1) {
		t.Errorf("size = %d", params.GetSize())
	}
	if params.GetDistance() != qdrant.Distance_Cosine {
		t.Errorf("distance = %v, want cosine", params.GetDistance())
	}

	if _, err := s.Search(context.Background(), "nile", "alice"); err != nil {
		t.Fatal(err)
	}
	if fake.existsCalls != 1 {
		t.Errorf("CollectionExists called %d times, want 1", fake.existsCalls)
	}
}

func TestQdrantStore_EnsureRetriesAfterError(t *testing.T) {
	fake := &fakeQdrant{existsErr: errors.New("unavailable")}
	s := newTestQdrant(t, fake)

	if _, err := s.Search(context.Background(), "nile", "alice"); err == nil {
		t.Fatal("Search() should fail while qdrant is down")
	}
	fake.existsErr = nil
	if _, err := s.Search(context.Background(), "nile", "alice"); err != nil {
		t.Fatalf("Search() after recovery error = %v", err)
	}
}

func TestQdrantStore_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	fake := &fakeQdrant{exists: true}
	s := newTestQdrant(t, fake)

	add, err := s.Add(ctx, Interaction{User: "the sphinx", Assistant: "guards Giza"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, Interaction{User: "bob's desert trip"}, "bob"); err != nil {
		t.Fatal(err)
	}

	p := fake.points[0]
	if got := p.Payload["user_id"].GetStringValue(); got != "alice" {
		t.Errorf("payload user_id = %q", got)
	}
	if got := p.Payload["memory"].GetStringValue(); got != "User: the sphinx\nAssistant: guards Giza" {
		t.Errorf("payload memory = %q", got)
	}
	if p.Payload["created_at"].GetStringValue() == "" {
		t.Error("payload created_at missing")
	}

	res, err := s.Search(ctx, "sphinx", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("Search() len = %d, want 1", len(res))
	}
	if res[0].ID != add.Results[0].ID {
		t.Errorf("result id = %q, want %q", res[0].ID, add.Results[0].ID)
	}
	if !strings.Contains(res[0].Memory, "sphinx") {
		t.Errorf("result memory = %q", res[0].Memory)
	}
	if fake.lastQuery.GetLimit() != 3 {
		t.Errorf("query limit = %d, want 3", fake.lastQuery.GetLimit())
	}
	if !fake.lastQuery.GetWithPayload().GetEnable() {
		t.Error("query should request payload")
	}
}

func TestQdrantStore_DimensionMismatch(t *testing.T) {
	fake := &fakeQdrant{exists: true}
	s, err := newQdrantStore(fake, QdrantConfig{Dimensions: 3, Embed: keywordEmbed, Logger: discardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Add(context.Background(), Interaction{User: "nile"}, "alice")
	if err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Errorf("Add() error = %v, want dimension mismatch", err)
	}
}

func TestQdrantStore_Close(t *testing.T) {
	fake := &fakeQdrant{}
	s := newTestQdrant(t, fake)
	if err := s.Close(); err != nil || !fake.closed {
		t.Errorf("Close() = %v, closed = %v", err, fake.closed)
	}
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		raw     string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{"http://localhost:6334", "localhost", 6334, false, false},
		{"https://qdrant.example.com", "qdrant.example.com", 6334, true, false},
		{"http://10.0.0.5:7000", "10.0.0.5", 7000, false, false},
		{"", "", 0, false, true},
		{"localhost", "", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseQdrantURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if host != tt.host || port != tt.port || tls != tt.tls {
				t.Errorf("parseQdrantURL(%q) = %q, %d, %v", tt.raw, host, port, tls)
			}
		})
	}
}
