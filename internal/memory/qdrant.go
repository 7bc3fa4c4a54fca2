package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/nugget/chattr/internal/buildinfo"
	"github.com/nugget/chattr/internal/config"
)

// defaultQdrantPort is the Qdrant gRPC port.
const defaultQdrantPort = 6334

// qdrantAPI is the subset of the Qdrant client used here.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	// URL is the gRPC endpoint, e.g. http://localhost:6334. An https
	// scheme enables TLS.
	URL        string
	APIKey     string
	Collection string
	Dimensions int
	Limit      int
	Embed      chromem.EmbeddingFunc
	Logger     *slog.Logger
}

// QdrantStore keeps memories in a single Qdrant collection. Each point
// carries {memory, user_id, created_at}; searches filter on user_id.
type QdrantStore struct {
	client     qdrantAPI
	collection string
	dimensions int
	limit      int
	embed      chromem.EmbeddingFunc
	logger     *slog.Logger

	mu    sync.Mutex
	ready bool
}

// NewQdrantStore connects to Qdrant. The collection is created on first
// use if it does not exist.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, &config.ConfigurationError{Reason: "vector_database.url", Err: err}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithUserAgent(buildinfo.UserAgent()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s: %w", cfg.URL, err)
	}
	return newQdrantStore(client, cfg)
}

func newQdrantStore(client qdrantAPI, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Embed == nil {
		return nil, errors.New("qdrant store: embedding function is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("qdrant store: dimensions must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "memories"
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &QdrantStore{
		client:     client,
		collection: collection,
		dimensions: cfg.Dimensions,
		limit:      limit,
		embed:      cfg.Embed,
		logger:     logger,
	}, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	if raw == "" {
		return "", 0, false, errors.New("qdrant url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("parse qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("parse qdrant url %q: missing host", raw)
	}
	port = defaultQdrantPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("parse qdrant port %q: %w", p, err)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

// ensureCollection creates the collection with cosine distance if it is
// missing. A failed check is retried on the next call.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", s.collection, err)
		}
		s.logger.Info("created memory collection",
			"collection", s.collection,
			"dimensions", s.dimensions,
		)
	}
	s.ready = true
	return nil
}

// Search embeds query and returns the user's nearest memories.
func (s *QdrantStore) Search(ctx context.Context, query, userID string) ([]Result, error) {
	userID = normalizeUser(userID)
	if query == "" {
		return nil, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := uint64(s.limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}

	out := make([]Result, 0, len(points))
	for _, p := range points {
		r := Result{
			ID:     p.GetId().GetUuid(),
			Memory: p.GetPayload()["memory"].GetStringValue(),
			Score:  p.GetScore(),
		}
		if ts, err := time.Parse(time.RFC3339, p.GetPayload()["created_at"].GetStringValue()); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, nil
}

// Add embeds and upserts the interaction as a new point.
func (s *QdrantStore) Add(ctx context.Context, in Interaction, userID string) (*AddResult, error) {
	userID = normalizeUser(userID)
	text := in.Text()
	if text == "" {
		return &AddResult{}, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}
	if len(vec) != s.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, collection expects %d", len(vec), s.dimensions)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate memory id: %w", err)
	}
	now := time.Now().UTC()

	wait := true
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id.String()),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]any{
				"memory":     text,
				"user_id":    userID,
				"created_at": now.Format(time.RFC3339),
			}),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("upsert memory: %w", err)
	}

	return &AddResult{Results: []Result{{ID: id.String(), Memory: text, CreatedAt: now}}}, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
