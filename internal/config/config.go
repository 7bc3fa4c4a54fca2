// Package config handles chattr configuration loading.
//
// Configuration comes from three layers, later layers winning:
// built-in defaults, a YAML file (with ${VAR} expansion), and nested
// environment overrides using a double-underscore delimiter
// (MODEL__URL, CHARACTER__NAME, ...). A .env file in the working
// directory is loaded into the environment first. MCP tool servers may
// additionally be declared in a standalone mcp.json file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // timezone lookups must not depend on the host zoneinfo

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/chattr/config.yaml, /etc/chattr/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "chattr", "config.yaml"))
	}

	paths = append(paths, "/etc/chattr/config.yaml")
	return paths
}

// ErrNoConfigFile is returned by FindConfig when no explicit path was
// given and none of the search paths exist.
var ErrNoConfigFile = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfigFile, DefaultSearchPaths())
}

// Config holds all chattr configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Model       ModelConfig       `yaml:"model"`
	Character   CharacterConfig   `yaml:"character"`
	Memory      MemoryConfig      `yaml:"memory"`
	VectorDB    VectorDBConfig    `yaml:"vector_database"`
	MCP         MCPConfig         `yaml:"mcp"`
	Tools       ToolsConfig       `yaml:"tools"`
	Turn        TurnConfig        `yaml:"turn"`
	Directories DirectoriesConfig `yaml:"directories"`
	DataDir     string            `yaml:"data_dir"`
	Timezone    string            `yaml:"timezone"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the chat model endpoint.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // ollama or openai
	URL         string  `yaml:"url"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
}

// CharacterConfig names the impersonated character. Description, when
// set, replaces the generated persona description.
type CharacterConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// MemoryConfig selects and configures the long-term memory backend.
type MemoryConfig struct {
	Backend    string          `yaml:"backend"` // chromem, qdrant or none
	Collection string          `yaml:"collection"`
	Limit      int             `yaml:"limit"` // Max memories returned per search
	Embedding  EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig defines how memory text is embedded.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // ollama or openai
	Model      string `yaml:"model"`
	URL        string `yaml:"url"` // Defaults to model.url
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
}

// VectorDBConfig points at a Qdrant instance (gRPC endpoint).
type VectorDBConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// MCPConfig lists MCP tool servers. Servers from ConfigPath (an mcp.json
// file) are appended to the inline list.
type MCPConfig struct {
	ConfigPath string      `yaml:"config_path"`
	Servers    []MCPServer `yaml:"servers"`
}

// ToolsConfig names the media-producing tools. Every other tool is
// generic.
type ToolsConfig struct {
	Audio []string `yaml:"audio"`
	Video []string `yaml:"video"`
}

// TurnConfig bounds a single turn.
type TurnConfig struct {
	MaxHops         int           `yaml:"max_hops"`
	ModelTimeout    time.Duration `yaml:"model_timeout"`
	ToolTimeout     time.Duration `yaml:"tool_timeout"`
	MemoryTimeout   time.Duration `yaml:"memory_timeout"`
	IncludeDatetime bool          `yaml:"include_datetime"`
}

// DirectoriesConfig lists the asset directories created at startup.
type DirectoriesConfig struct {
	Assets  string `yaml:"assets"`
	Audio   string `yaml:"audio"`
	Video   string `yaml:"video"`
	Prompts string `yaml:"prompts"`
}

// Ensure creates every configured directory.
func (d DirectoriesConfig) Ensure() error {
	for _, dir := range []string{d.Assets, d.Audio, d.Video, d.Prompts} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Default returns the built-in configuration. It is not valid on its
// own: a character name must still be supplied.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Model: ModelConfig{
			Provider: "ollama",
			URL:      "http://localhost:11434",
			Name:     "llama3.1",
		},
		Memory: MemoryConfig{
			Backend:    "chromem",
			Collection: "memories",
			Limit:      5,
			Embedding: EmbeddingConfig{
				Provider:   "ollama",
				Model:      "all-minilm",
				Dimensions: 384,
			},
		},
		VectorDB: VectorDBConfig{URL: "http://localhost:6334"},
		Tools: ToolsConfig{
			Audio: []string{"generate_audio_for_text"},
			Video: []string{"generate_video_mcp"},
		},
		Turn: TurnConfig{
			MaxHops:         10,
			ModelTimeout:    2 * time.Minute,
			ToolTimeout:     time.Minute,
			MemoryTimeout:   10 * time.Second,
			IncludeDatetime: true,
		},
		Directories: DirectoriesConfig{
			Assets:  "assets",
			Audio:   filepath.Join("assets", "audio"),
			Video:   filepath.Join("assets", "video"),
			Prompts: filepath.Join("assets", "prompts"),
		},
		DataDir:   "data",
		Timezone:  "Africa/Cairo",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file over the defaults, then
// applies environment overrides and any mcp.json server file. An empty
// path skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, &ConfigurationError{Reason: "parse " + path, Err: err}
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.MCP.ConfigPath != "" {
		servers, err := LoadMCPFile(cfg.MCP.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.MCP.Servers = append(cfg.MCP.Servers, servers...)
	}

	return cfg, nil
}

// Validate checks the configuration for problems that must stop the
// process before any turn runs. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, &ModelConfigurationError{Reason: fmt.Sprintf("unknown provider %q (valid: ollama, openai)", c.Model.Provider)})
	}
	if c.Model.URL == "" {
		errs = append(errs, &ParameterMissingError{Parameter: "Model URL", EnvVar: "MODEL__URL"})
	} else {
		if c.Model.Name == "" {
			errs = append(errs, &ModelConfigurationError{Reason: "model name is required when a model url is set"})
		}
		if c.Model.Provider == "openai" && c.Model.APIKey == "" {
			errs = append(errs, &ModelConfigurationError{Reason: "api key is required for the openai provider"})
		}
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		errs = append(errs, &ModelConfigurationError{Reason: fmt.Sprintf("temperature %v out of range [0, 1]", c.Model.Temperature)})
	}

	if c.Character.Name == "" {
		errs = append(errs, &ParameterMissingError{Parameter: "Character name", EnvVar: "CHARACTER__NAME"})
	}

	switch c.Memory.Backend {
	case "none":
	case "chromem", "qdrant":
		if c.Memory.Embedding.Model == "" {
			errs = append(errs, &ParameterMissingError{Parameter: "Embedding model", EnvVar: "MEMORY__EMBEDDING__MODEL"})
		}
		if c.Memory.Backend == "qdrant" && c.VectorDB.URL == "" {
			errs = append(errs, &ParameterMissingError{Parameter: "Vector database URL", EnvVar: "VECTOR_DATABASE__URL"})
		}
	default:
		errs = append(errs, &ConfigurationError{Reason: fmt.Sprintf("unknown memory backend %q (valid: chromem, qdrant, none)", c.Memory.Backend)})
	}

	for _, s := range c.MCP.Servers {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, &ConfigurationError{Reason: "log_level", Err: err})
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, &ConfigurationError{Reason: "timezone", Err: err})
		}
	}

	return errors.Join(errs...)
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
