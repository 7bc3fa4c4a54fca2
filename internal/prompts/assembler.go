package prompts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/chattr/internal/config"
	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/memory"
	"github.com/nugget/chattr/internal/tools"
)

// DefaultMemoryTimeout bounds the memory search when AssemblerConfig
// leaves Timeout unset.
const DefaultMemoryTimeout = 10 * time.Second

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	Persona Persona
	Memory  memory.Store
	// Timeout bounds each memory search.
	Timeout time.Duration
	// Location sets the zone of the date line.
	Location *time.Location
	// IncludeDatetime adds the current date and time to the prompt.
	IncludeDatetime bool
	// Now overrides the clock, for tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// Assembler builds the system message for a turn, consulting memory for
// context.
type Assembler struct {
	persona  Persona
	memory   memory.Store
	timeout  time.Duration
	location *time.Location
	datetime bool
	now      func() time.Time
	logger   *slog.Logger
}

// NewAssembler validates the persona and returns an Assembler. A missing
// character name is a configuration error.
func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if strings.TrimSpace(cfg.Persona.Character) == "" {
		return nil, &config.ParameterMissingError{Parameter: "Character name", EnvVar: "CHARACTER__NAME"}
	}
	a := &Assembler{
		persona:  cfg.Persona,
		memory:   cfg.Memory,
		timeout:  cfg.Timeout,
		location: cfg.Location,
		datetime: cfg.IncludeDatetime,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if a.memory == nil {
		a.memory = memory.Nop{}
	}
	if a.timeout <= 0 {
		a.timeout = DefaultMemoryTimeout
	}
	if a.location == nil {
		a.location = time.UTC
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Persona returns the configured persona.
func (a *Assembler) Persona() Persona {
	return a.persona
}

// Assemble searches memory with query for userID and returns the system
// message. Memory failures degrade to the NoHistory context.
func (a *Assembler) Assemble(ctx context.Context, query, userID string, available []tools.Description) llm.Message {
	memories := a.search(ctx, query, userID)

	var now time.Time
	if a.datetime {
		now = a.now().In(a.location)
	}
	return llm.Message{
		Role:    llm.RoleSystem,
		Content: SystemPrompt(a.persona, memories, available, now),
	}
}

func (a *Assembler) search(ctx context.Context, query, userID string) []memory.Result {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	results, err := a.memory.Search(ctx, query, userID)
	if err != nil {
		a.logger.Warn("memory search failed, continuing without context",
			"user_id", userID,
			"error", err,
			"duration", time.Since(start).Round(time.Millisecond),
		)
		return nil
	}
	a.logger.Debug("memory search complete",
		"user_id", userID,
		"results", len(results),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return results
}
