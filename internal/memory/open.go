package memory

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nugget/chattr/internal/config"
)

// Open builds the Store selected by cfg.Memory.Backend.
func Open(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc := cfg.Memory

	switch mc.Backend {
	case "none":
		return Nop{}, nil

	case "", "chromem":
		embed, err := NewEmbedder(mc.Embedding, cfg.Model.URL)
		if err != nil {
			return nil, err
		}
		path := ""
		if cfg.DataDir != "" {
			path = filepath.Join(cfg.DataDir, "memory")
		}
		store, err := NewChromemStore(ChromemConfig{
			Path:       path,
			Collection: mc.Collection,
			Limit:      mc.Limit,
			Embed:      embed,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case "qdrant":
		embed, err := NewEmbedder(mc.Embedding, cfg.Model.URL)
		if err != nil {
			return nil, err
		}
		store, err := NewQdrantStore(QdrantConfig{
			URL:        cfg.VectorDB.URL,
			APIKey:     cfg.VectorDB.APIKey,
			Collection: mc.Collection,
			Dimensions: mc.Embedding.Dimensions,
			Limit:      mc.Limit,
			Embed:      embed,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("unknown memory backend %q (valid: chromem, qdrant, none)", mc.Backend)}
	}
}
