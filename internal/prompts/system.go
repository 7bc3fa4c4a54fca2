package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/chattr/internal/memory"
	"github.com/nugget/chattr/internal/tools"
)

// NoHistory is the context text used when memory has nothing to offer,
// either because the search failed or because it found nothing.
const NoHistory = "No previous conversation history available."

// dateTimeFormat renders the clock line of the system prompt.
const dateTimeFormat = "Monday, 02 January 2006 15:04 MST"

// SystemPrompt assembles the system message from the persona, the
// retrieved memories and the available tools. A zero now omits the
// date line.
func SystemPrompt(p Persona, memories []memory.Result, available []tools.Description, now time.Time) string {
	var sb strings.Builder

	sb.WriteString(p.Describe())
	sb.WriteString("\n\n## Instructions\n")
	for i, step := range Instructions(p.Character, available) {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}

	if len(available) > 0 {
		sb.WriteString("\n## Available Tools\n")
		for _, d := range available {
			desc := strings.TrimSpace(d.Description)
			if desc == "" {
				fmt.Fprintf(&sb, "- %s\n", d.Name)
				continue
			}
			fmt.Fprintf(&sb, "- %s: %s\n", d.Name, firstLine(desc))
		}
	}

	sb.WriteString("\n## Context\n")
	sb.WriteString(MemoryContext(memories))
	sb.WriteString("\n")

	if !now.IsZero() {
		fmt.Fprintf(&sb, "\nCurrent date and time: %s\n", now.Format(dateTimeFormat))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// MemoryContext renders memories as a bullet list, or NoHistory when
// there are none.
func MemoryContext(memories []memory.Result) string {
	var lines []string
	for _, m := range memories {
		text := strings.TrimSpace(m.Memory)
		if text == "" {
			continue
		}
		lines = append(lines, "- "+strings.ReplaceAll(text, "\n", "\n  "))
	}
	if len(lines) == 0 {
		return NoHistory
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
