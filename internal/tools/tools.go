// Package tools provides the tool registry that the turn controller
// dispatches model tool calls through.
package tools

import (
	"context"
	"fmt"
)

// Handler executes a tool call and returns its raw output.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Kind        Kind           `json:"kind"`
	Handler     Handler        `json:"-"`
}

// Kind classifies what a tool's successful output represents. It is a
// closed set: a generic tool returns text, a media tool returns a
// reference (URL or path) to generated audio or video.
type Kind int

const (
	// Generic tools return plain text payloads.
	Generic Kind = iota
	// Audio tools return a reference to generated audio.
	Audio
	// Video tools return a reference to generated video.
	Video
)

// IsMedia reports whether the kind produces a media reference.
func (k Kind) IsMedia() bool {
	return k == Audio || k == Video
}

func (k Kind) String() string {
	switch k {
	case Generic:
		return "generic"
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText renders the kind name in JSON and YAML.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses "generic", "audio" or "video".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "generic":
		return Generic, nil
	case "audio":
		return Audio, nil
	case "video":
		return Video, nil
	default:
		return Generic, fmt.Errorf("unknown tool kind %q (valid: generic, audio, video)", s)
	}
}

// KindsFromNames builds the name-to-kind table handed to NewRegistry
// from the configured audio and video tool names.
func KindsFromNames(audio, video []string) map[string]Kind {
	kinds := make(map[string]Kind, len(audio)+len(video))
	for _, n := range audio {
		kinds[n] = Audio
	}
	for _, n := range video {
		kinds[n] = Video
	}
	return kinds
}
