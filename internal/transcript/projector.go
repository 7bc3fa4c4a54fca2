package transcript

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/chattr/internal/agent"
	"github.com/nugget/chattr/internal/tools"
)

// KindResolver reports the kind of a registered tool. tools.Registry
// implements it.
type KindResolver interface {
	Kind(name string) (tools.Kind, bool)
}

// UnknownToolError reports a succeeded result from a tool the resolver
// does not know, meaning the registry and the projector disagree.
type UnknownToolError struct {
	ToolName string
	CallID   string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool name %q on succeeded result %s", e.ToolName, e.CallID)
}

// Projector folds agent events into records.
type Projector struct {
	kinds KindResolver
}

// NewProjector returns a Projector that classifies tools with kinds.
func NewProjector(kinds KindResolver) *Projector {
	return &Projector{kinds: kinds}
}

// Records returns the records one event contributes. It is the
// incremental form of Project.
func (p *Projector) Records(e agent.Event) ([]Record, error) {
	switch ev := e.(type) {
	case agent.ModelText:
		return []Record{{Role: RoleAssistant, Content: ev.Content}}, nil

	case agent.ToolStarted:
		return []Record{{
			Role:    RoleAssistant,
			Content: formatArguments(ev.Call.Arguments),
			Metadata: &Metadata{
				Title: ev.Call.Name,
				ID:    ev.Call.ID,
			},
		}}, nil

	case agent.ToolCompleted:
		r := ev.Result
		status := Record{
			Role:    RoleAssistant,
			Content: r.Payload,
			Metadata: &Metadata{
				Title:    r.ToolName,
				ID:       r.CallID,
				Status:   r.Status,
				Duration: Duration(r.Duration),
			},
		}
		if r.Status != agent.StatusSucceeded {
			return []Record{status}, nil
		}

		kind, ok := p.kinds.Kind(r.ToolName)
		if !ok {
			return nil, &UnknownToolError{ToolName: r.ToolName, CallID: r.CallID}
		}
		if !kind.IsMedia() {
			return []Record{status}, nil
		}
		return []Record{status, {
			Role:  RoleAssistant,
			Media: &Media{Kind: kind, Ref: r.Payload},
			Metadata: &Metadata{
				Title: r.ToolName,
				ID:    r.CallID,
			},
		}}, nil

	case nil:
		return nil, fmt.Errorf("project: nil event")

	default:
		return nil, fmt.Errorf("project: unsupported event %T", e)
	}
}

// Apply appends the records for e to records. The input slice is not
// modified; on error the returned slice equals the input.
func (p *Projector) Apply(records []Record, e agent.Event) ([]Record, error) {
	add, err := p.Records(e)
	if err != nil {
		return records, err
	}
	out := make([]Record, 0, len(records)+len(add))
	out = append(out, records...)
	return append(out, add...), nil
}

// Project folds events onto start. On error it returns the records
// projected before the failing event.
func (p *Projector) Project(start []Record, events []agent.Event) ([]Record, error) {
	out := make([]Record, 0, len(start)+len(events)+1)
	out = append(out, start...)
	for i, e := range events {
		add, err := p.Records(e)
		if err != nil {
			return out, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, add...)
	}
	return out, nil
}

// formatArguments renders tool arguments as indented JSON.
func formatArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.MarshalIndent(args, "", "    ")
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
