package memory

import (
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/nugget/chattr/internal/config"
)

// NewEmbedder returns the embedding function for the configured
// provider. fallbackURL is used when the embedding config has no URL of
// its own, typically the chat model endpoint.
func NewEmbedder(cfg config.EmbeddingConfig, fallbackURL string) (chromem.EmbeddingFunc, error) {
	url := cfg.URL
	if url == "" {
		url = fallbackURL
	}
	url = strings.TrimRight(url, "/")

	if cfg.Model == "" {
		return nil, &config.ParameterMissingError{Parameter: "Embedding model", EnvVar: "MEMORY__EMBEDDING__MODEL"}
	}

	switch cfg.Provider {
	case "", "ollama":
		if url == "" {
			url = "http://localhost:11434"
		}
		return chromem.NewEmbeddingFuncOllama(cfg.Model, url+"/api"), nil
	case "openai":
		if url == "" {
			url = "https://api.openai.com/v1"
		}
		return chromem.NewEmbeddingFuncOpenAICompat(url, cfg.APIKey, cfg.Model, nil), nil
	default:
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("unknown embedding provider %q (valid: ollama, openai)", cfg.Provider)}
	}
}
