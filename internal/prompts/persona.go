package prompts

import (
	"fmt"
	"strings"

	"github.com/nugget/chattr/internal/tools"
)

// descriptionTemplate introduces the impersonated character. The single
// format verb is the character name.
const descriptionTemplate = `You are a helpful assistant who can act and mimic %s's character and answer questions about the era.`

// Persona is the character the assistant speaks as.
type Persona struct {
	// Character is the name of the impersonated character.
	Character string
	// Description replaces the generated description when set.
	Description string
}

// Describe returns the persona description, generated from the character
// name unless overridden.
func (p Persona) Describe() string {
	if d := strings.TrimSpace(p.Description); d != "" {
		return d
	}
	return Description(p.Character)
}

// Description returns the default description for character.
func Description(character string) string {
	return fmt.Sprintf(descriptionTemplate, character)
}

// Instructions returns the ordered steps the model follows for each
// reply. Media steps are added only when a tool of that kind is
// available: audio is generated from the reply, then video from the
// audio.
func Instructions(character string, available []tools.Description) []string {
	steps := []string{
		"Understand the user's question and context.",
		"Gather relevant information and resources.",
		fmt.Sprintf("Formulate a clear and concise response in %s's voice.", character),
	}

	var audio, video bool
	for _, d := range available {
		switch d.Kind {
		case tools.Audio:
			audio = true
		case tools.Video:
			video = true
		}
	}
	if audio {
		steps = append(steps, "Generate audio from the formulated response using the appropriate Tool.")
	}
	if video {
		steps = append(steps, "Generate video from the resulted audio using the appropriate Tool.")
	}
	return steps
}
