package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=value pairs from path into the process
// environment. Variables already set are not overridden, and a missing
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigurationError{Reason: "load " + path, Err: err}
	}
	return nil
}

// envOverride maps one environment variable onto a config field.
type envOverride struct {
	key string
	set func(c *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

// envOverrides lists every supported environment variable. Nested
// sections are joined with "__".
var envOverrides = []envOverride{
	{"MODEL__PROVIDER", setString(func(c *Config) *string { return &c.Model.Provider })},
	{"MODEL__URL", setString(func(c *Config) *string { return &c.Model.URL })},
	{"MODEL__NAME", setString(func(c *Config) *string { return &c.Model.Name })},
	{"MODEL__API_KEY", setString(func(c *Config) *string { return &c.Model.APIKey })},
	{"MODEL__TEMPERATURE", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Model.Temperature = f
		return nil
	}},
	{"CHARACTER__NAME", setString(func(c *Config) *string { return &c.Character.Name })},
	{"CHARACTER__DESCRIPTION", setString(func(c *Config) *string { return &c.Character.Description })},
	{"MEMORY__BACKEND", setString(func(c *Config) *string { return &c.Memory.Backend })},
	{"MEMORY__COLLECTION", setString(func(c *Config) *string { return &c.Memory.Collection })},
	{"MEMORY__EMBEDDING__PROVIDER", setString(func(c *Config) *string { return &c.Memory.Embedding.Provider })},
	{"MEMORY__EMBEDDING__MODEL", setString(func(c *Config) *string { return &c.Memory.Embedding.Model })},
	{"MEMORY__EMBEDDING__URL", setString(func(c *Config) *string { return &c.Memory.Embedding.URL })},
	{"MEMORY__EMBEDDING__API_KEY", setString(func(c *Config) *string { return &c.Memory.Embedding.APIKey })},
	{"VECTOR_DATABASE__URL", setString(func(c *Config) *string { return &c.VectorDB.URL })},
	{"VECTOR_DATABASE__API_KEY", setString(func(c *Config) *string { return &c.VectorDB.APIKey })},
	{"MCP__CONFIG_PATH", setString(func(c *Config) *string { return &c.MCP.ConfigPath })},
	{"LISTEN__ADDRESS", setString(func(c *Config) *string { return &c.Listen.Address })},
	{"LISTEN__PORT", func(c *Config, v string) error {
		p, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Listen.Port = p
		return nil
	}},
	{"DATA_DIR", setString(func(c *Config) *string { return &c.DataDir })},
	{"TIMEZONE", setString(func(c *Config) *string { return &c.Timezone })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_FORMAT", setString(func(c *Config) *string { return &c.LogFormat })},
}

// EnvKeys returns the supported environment variable names.
func EnvKeys() []string {
	keys := make([]string, len(envOverrides))
	for i, o := range envOverrides {
		keys[i] = o.key
	}
	return keys
}

// applyEnv overlays environment values found via lookup onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if err := o.set(cfg, v); err != nil {
			return &ConfigurationError{Reason: fmt.Sprintf("environment %s=%q", o.key, v), Err: err}
		}
	}
	return nil
}
