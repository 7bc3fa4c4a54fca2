package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nugget/chattr/internal/agent"
	"github.com/nugget/chattr/internal/tools"
	"github.com/nugget/chattr/internal/transcript"
)

// styles used for terminal transcripts.
type styles struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	tool      lipgloss.Style
	failed    lipgloss.Style
	media     lipgloss.Style
	dim       lipgloss.Style
	body      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		user:      lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true),
		tool:      lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		media:     lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		body:      lipgloss.NewStyle().PaddingLeft(2),
	}
}

// renderRecord writes one record as it arrives.
func (s styles) renderRecord(w io.Writer, character string, rec transcript.Record) {
	switch {
	case rec.Role == transcript.RoleUser:
		fmt.Fprintf(w, "%s %s\n\n", s.user.Render("You:"), rec.Content)

	case rec.Media != nil:
		label := "Video"
		if rec.Media.Kind == tools.Audio {
			label = "Audio"
		}
		fmt.Fprintf(w, "%s %s\n\n", s.media.Render(label+":"), rec.Media.Ref)

	case rec.Metadata != nil && rec.Metadata.Status == "":
		fmt.Fprintf(w, "%s %s %s\n", s.tool.Render("Calling"), rec.Metadata.Title, s.dim.Render(rec.Metadata.ID))
		fmt.Fprintln(w, s.body.Render(s.dim.Render(rec.Content)))

	case rec.Metadata != nil:
		head := s.tool.Render("Done")
		if rec.Metadata.Status == agent.StatusFailed {
			head = s.failed.Render("Failed")
		}
		fmt.Fprintf(w, "%s %s %s\n", head, rec.Metadata.Title,
			s.dim.Render(fmt.Sprintf("(%.1fs)", rec.Metadata.Duration.Seconds())))
		fmt.Fprintln(w, s.body.Render(truncate(rec.Content, 400)))
		fmt.Fprintln(w)

	default:
		fmt.Fprintf(w, "%s %s\n\n", s.assistant.Render(character+":"), rec.Content)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
