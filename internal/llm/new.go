package llm

import (
	"fmt"
	"log/slog"

	"github.com/nugget/chattr/internal/config"
)

// New builds the client for the configured provider.
func New(cfg config.ModelConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaClient(cfg.URL, cfg.Temperature, logger), nil
	case "openai":
		c, err := NewOpenAIClient(OpenAIConfig{
			BaseURL:     cfg.URL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, &config.ModelConfigurationError{Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}
