package transcript

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nugget/chattr/internal/agent"
	"github.com/nugget/chattr/internal/tools"
)

type staticKinds map[string]tools.Kind

func (s staticKinds) Kind(name string) (tools.Kind, bool) {
	k, ok := s[name]
	return k, ok
}

var testKinds = staticKinds{
	"get_current_time":        tools.Generic,
	"generate_audio_for_text": tools.Audio,
	"generate_video_mcp":      tools.Video,
}

func started(id, name string, args map[string]any) agent.ToolStarted {
	return agent.ToolStarted{Call: agent.ToolCall{ID: id, Name: name, Arguments: args}}
}

func completed(id, name string, status agent.Status, payload string) agent.ToolCompleted {
	return agent.ToolCompleted{Result: agent.ToolResult{
		CallID:   id,
		ToolName: name,
		Status:   status,
		Payload:  payload,
		Duration: 1500 * time.Millisecond,
	}}
}

func TestProject_TimeToolTurn(t *testing.T) {
	p := NewProjector(testKinds)
	evs := []agent.Event{
		started("t1", "get_current_time", map[string]any{"timezone": "Africa/Cairo"}),
		completed("t1", "get_current_time", agent.StatusSucceeded, "12:00"),
		agent.ModelText{Content: "It is noon."},
	}
	got, err := p.Project(nil, evs)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}

	pending := got[0]
	if pending.Metadata == nil || pending.Metadata.Title != "get_current_time" || pending.Metadata.ID != "t1" {
		t.Errorf("pending metadata = %+v", pending.Metadata)
	}
	if pending.Metadata.Status != "" {
		t.Errorf("pending record has status %q", pending.Metadata.Status)
	}
	if pending.Content != "{\n    \"timezone\": \"Africa/Cairo\"\n}" {
		t.Errorf("pending content = %q", pending.Content)
	}

	done := got[1]
	if done.Metadata.Status != agent.StatusSucceeded || done.Metadata.Duration.Seconds() != 1.5 {
		t.Errorf("completed metadata = %+v", done.Metadata)
	}
	if done.Content != "12:00" {
		t.Errorf("completed content = %q", done.Content)
	}

	if !Terminal(got) || got[2].Content != "It is noon." {
		t.Errorf("last record = %+v, want plain assistant text", got[2])
	}
}

func TestProject_MediaRecord(t *testing.T) {
	tests := []struct {
		name string
		tool string
		kind tools.Kind
	}{
		{"audio", "generate_audio_for_text", tools.Audio},
		{"video", "generate_video_mcp", tools.Video},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProjector(testKinds)
			got, err := p.Project(nil, []agent.Event{
				started("m1", tt.tool, map[string]any{"text": "Bonjour"}),
				completed("m1", tt.tool, agent.StatusSucceeded, "https://cdn.example.com/out"),
				agent.ModelText{Content: "Voilà."},
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 4 {
				t.Fatalf("records = %d, want 4", len(got))
			}
			media := got[2]
			if media.Media == nil || media.Media.Kind != tt.kind || media.Media.Ref != "https://cdn.example.com/out" {
				t.Errorf("record[2] = %+v, want %v media", media, tt.kind)
			}
			if got[1].Metadata.Status != agent.StatusSucceeded {
				t.Error("media record must follow the status record")
			}
		})
	}
}

func TestProject_FailedMediaToolHasNoMedia(t *testing.T) {
	p := NewProjector(testKinds)
	got, err := p.Project(nil, []agent.Event{
		started("m1", "generate_audio_for_text", nil),
		completed("m1", "generate_audio_for_text", agent.StatusFailed, "Error: voice offline"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Media != nil {
		t.Errorf("records = %+v", got)
	}
	if got[0].Content != "{}" {
		t.Errorf("empty args content = %q, want {}", got[0].Content)
	}
}

func TestProject_UnknownTool(t *testing.T) {
	p := NewProjector(testKinds)

	// A failed result from an unknown tool is the normal unknown-tool path.
	if _, err := p.Project(nil, []agent.Event{
		started("x", "teleport", nil),
		completed("x", "teleport", agent.StatusFailed, "Error: unknown tool: teleport"),
	}); err != nil {
		t.Errorf("failed unknown tool should project cleanly, got %v", err)
	}

	got, err := p.Project(nil, []agent.Event{
		agent.ModelText{Content: "narration"},
		completed("x", "teleport", agent.StatusSucceeded, "ok"),
	})
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("Project() error = %v, want UnknownToolError", err)
	}
	if unknown.ToolName != "teleport" {
		t.Errorf("ToolName = %q", unknown.ToolName)
	}
	if len(got) != 1 {
		t.Errorf("records before failure = %d, want 1", len(got))
	}
}

func TestProject_LengthInvariant(t *testing.T) {
	p := NewProjector(testKinds)
	evs := []agent.Event{
		agent.ModelText{Content: "Let me see."},
		started("a", "get_current_time", nil),
		completed("a", "get_current_time", agent.StatusSucceeded, "noon"),
		started("b", "generate_audio_for_text", nil),
		completed("b", "generate_audio_for_text", agent.StatusSucceeded, "/tmp/a.mp3"),
		started("c", "generate_video_mcp", nil),
		completed("c", "generate_video_mcp", agent.StatusFailed, "Error"),
		started("d", "generate_video_mcp", nil),
		completed("d", "generate_video_mcp", agent.StatusSucceeded, "/tmp/v.mp4"),
		agent.ModelText{Content: "Done."},
	}
	start := []Record{UserRecord("hi")}
	got, err := p.Project(start, evs)
	if err != nil {
		t.Fatal(err)
	}
	mediaSucceeded := 2
	if want := len(start) + len(evs) + mediaSucceeded; len(got) != want {
		t.Errorf("records = %d, want %d", len(got), want)
	}
}

func TestProject_Idempotent(t *testing.T) {
	p := NewProjector(testKinds)
	evs := []agent.Event{
		started("b", "generate_audio_for_text", map[string]any{"text": "x", "voice": "fr"}),
		completed("b", "generate_audio_for_text", agent.StatusSucceeded, "/tmp/a.mp3"),
		agent.ModelText{Content: "Done."},
	}
	first, err := p.Project(nil, evs)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewProjector(testKinds).Project(nil, evs)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("re-projecting the same events produced different transcripts")
	}
}

func TestProject_IncrementalMatchesFold(t *testing.T) {
	p := NewProjector(testKinds)
	evs := []agent.Event{
		started("a", "get_current_time", nil),
		completed("a", "get_current_time", agent.StatusSucceeded, "noon"),
		agent.ModelText{Content: "Noon."},
	}
	var inc []Record
	for _, e := range evs {
		var err error
		inc, err = p.Apply(inc, e)
		if err != nil {
			t.Fatal(err)
		}
	}
	fold, _ := p.Project(nil, evs)
	if !reflect.DeepEqual(inc, fold) {
		t.Error("incremental Apply differs from Project")
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	p := NewProjector(testKinds)
	base := make([]Record, 1, 10)
	base[0] = UserRecord("hi")

	a, _ := p.Apply(base, agent.ModelText{Content: "one"})
	b, _ := p.Apply(base, agent.ModelText{Content: "two"})
	if a[1].Content != "one" || b[1].Content != "two" {
		t.Errorf("Apply shares backing storage: %q, %q", a[1].Content, b[1].Content)
	}
	if len(base) != 1 {
		t.Error("input length changed")
	}
}

func TestRecords_BadEvent(t *testing.T) {
	p := NewProjector(testKinds)
	if _, err := p.Records(nil); err == nil {
		t.Error("nil event should fail")
	}
}

func TestRecordJSON(t *testing.T) {
	r := Record{
		Role:    RoleAssistant,
		Content: "ok",
		Metadata: &Metadata{
			Title:    "generate_audio_for_text",
			ID:       "c1",
			Status:   agent.StatusSucceeded,
			Duration: Duration(2500 * time.Millisecond),
		},
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"role":"assistant","content":"ok","metadata":{"title":"generate_audio_for_text","id":"c1","status":"succeeded","duration":2.5}}`
	if string(b) != want {
		t.Errorf("json =\n  %s\nwant\n  %s", b, want)
	}

	var back Record
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if time.Duration(back.Metadata.Duration) != 2500*time.Millisecond {
		t.Errorf("duration round trip = %v", time.Duration(back.Metadata.Duration))
	}

	m, _ := json.Marshal(Record{Role: RoleAssistant, Media: &Media{Kind: tools.Video, Ref: "v.mp4"}})
	if string(m) != `{"role":"assistant","content":"","media":{"kind":"video","ref":"v.mp4"}}` {
		t.Errorf("media json = %s", m)
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		want    bool
	}{
		{"empty", nil, false},
		{"user last", []Record{UserRecord("hi")}, false},
		{"tool last", []Record{{Role: RoleAssistant, Metadata: &Metadata{Title: "x"}}}, false},
		{"text last", []Record{UserRecord("hi"), {Role: RoleAssistant, Content: "hello"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Terminal(tt.records); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
