package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/chattr/internal/agent"
	"github.com/nugget/chattr/internal/chat"
	"github.com/nugget/chattr/internal/connwatch"
	"github.com/nugget/chattr/internal/events"
	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/thread"
	"github.com/nugget/chattr/internal/tools"
	"github.com/nugget/chattr/internal/transcript"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChat replays fixed records and returns a result built from them.
type fakeChat struct {
	records []transcript.Record
	err     error
	nilRes  bool
	got     []chat.TurnRequest
}

func (f *fakeChat) Turn(_ context.Context, req chat.TurnRequest, onRecord func(transcript.Record)) (*chat.TurnResult, error) {
	f.got = append(f.got, req)
	if f.nilRes {
		return nil, f.err
	}
	res := &chat.TurnResult{ThreadID: req.ThreadID, UserID: req.UserID, State: agent.StateDone}
	res.Records = append(res.Records, transcript.UserRecord(req.Message))
	if onRecord != nil {
		onRecord(res.Records[0])
	}
	for _, r := range f.records {
		res.Records = append(res.Records, r)
		if onRecord != nil {
			onRecord(r)
		}
	}
	if f.err != nil {
		res.State = agent.StateFailed
		return res, f.err
	}
	res.Content = res.Records[len(res.Records)-1].Content
	return res, nil
}

type fakeCatalog struct{}

func (fakeCatalog) Descriptions() []tools.Description {
	return []tools.Description{
		{Name: "search", Description: "Search the web", Kind: tools.Generic, Source: "web"},
		{Name: "text_to_speech", Description: "Speak", Kind: tools.Audio, Source: "tts"},
	}
}

func (fakeCatalog) Unavailable() map[string]error {
	return map[string]error{"video": errors.New("connection refused")}
}

type fakeHealth []connwatch.Status

func (f fakeHealth) Status() []connwatch.Status { return f }

func newTestServer(t *testing.T, fc *fakeChat, store thread.Store, bus *events.Bus) *httptest.Server {
	t.Helper()
	s := NewServer(Config{
		Chat:    fc,
		Threads: store,
		Tools:   fakeCatalog{},
		Bus:     bus,
		Logger:  discardLogger(),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestInfoEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeChat{}, thread.NewMemoryStore(), nil)

	tests := []struct {
		path string
		key  string
		want string
	}{
		{"/", "name", "chattr"},
		{"/", "status", "ok"},
		{"/health", "status", "healthy"},
		{"/v1/version", "name", "chattr"},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.key, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			body := decode[map[string]string](t, resp.Body)
			if body[tt.key] != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, body[tt.key], tt.want)
			}
		})
	}
}

func TestHealthServices(t *testing.T) {
	tests := []struct {
		name     string
		services fakeHealth
		want     string
	}{
		{"all ready", fakeHealth{{Name: "model", Ready: true}, {Name: "mcp:media", Ready: true}}, "healthy"},
		{"one down", fakeHealth{{Name: "model", Ready: true}, {Name: "mcp:media", LastError: "refused"}}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Config{Health: tt.services, Logger: discardLogger()})
			srv := httptest.NewServer(s.Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			body := decode[healthResponse](t, resp.Body)
			if body.Status != tt.want || len(body.Services) != len(tt.services) {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t, &fakeChat{}, thread.NewMemoryStore(), nil)
	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTools(t *testing.T) {
	srv := newTestServer(t, &fakeChat{}, thread.NewMemoryStore(), nil)
	resp, err := http.Get(srv.URL + "/v1/tools")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body := decode[struct {
		Tools []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"tools"`
		Unavailable map[string]string `json:"unavailable"`
	}](t, resp.Body)

	if len(body.Tools) != 2 || body.Tools[1].Kind != "audio" {
		t.Errorf("tools = %+v", body.Tools)
	}
	if body.Unavailable["video"] != "connection refused" {
		t.Errorf("unavailable = %+v", body.Unavailable)
	}
}

func TestTurn(t *testing.T) {
	fc := &fakeChat{records: []transcript.Record{{Role: transcript.RoleAssistant, Content: "Bonjour."}}}
	srv := newTestServer(t, fc, thread.NewMemoryStore(), nil)

	resp, err := http.Post(srv.URL+"/v1/threads/t1/turns", "application/json",
		strings.NewReader(`{"message":"Hello","user_id":"u1"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := decode[TurnResponse](t, resp.Body)
	if body.ThreadID != "t1" || body.State != agent.StateDone || body.Content != "Bonjour." {
		t.Errorf("response = %+v", body)
	}
	if len(body.Records) != 2 || body.Error != "" {
		t.Errorf("records = %+v, error = %q", body.Records, body.Error)
	}
	if fc.got[0].UserID != "u1" || fc.got[0].ThreadID != "t1" {
		t.Errorf("turn request = %+v", fc.got[0])
	}
}

func TestTurnFailureReturnsPartialTranscript(t *testing.T) {
	fc := &fakeChat{
		records: []transcript.Record{{Role: transcript.RoleAssistant, Content: "{}", Metadata: &transcript.Metadata{Title: "lookup", ID: "c1"}}},
		err:     errors.New("model call failed"),
	}
	srv := newTestServer(t, fc, thread.NewMemoryStore(), nil)

	resp, err := http.Post(srv.URL+"/v1/threads/t1/turns", "application/json", strings.NewReader(`{"message":"q"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body := decode[TurnResponse](t, resp.Body)
	if body.State != agent.StateFailed || body.Error != "model call failed" {
		t.Errorf("state = %v, error = %q", body.State, body.Error)
	}
	if len(body.Records) != 2 {
		t.Errorf("records = %d, want 2", len(body.Records))
	}
}

func TestTurnBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		fc   *fakeChat
		want int
	}{
		{"invalid json", `{`, &fakeChat{}, http.StatusBadRequest},
		{"empty message", `{"message":"  "}`, &fakeChat{}, http.StatusBadRequest},
		{"rejected turn", `{"message":"hi"}`, &fakeChat{nilRes: true, err: errors.New("store down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.fc, thread.NewMemoryStore(), nil)
			resp, err := http.Post(srv.URL+"/v1/threads/t1/turns", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			body := decode[map[string]map[string]any](t, resp.Body)
			if body["error"]["message"] == "" {
				t.Errorf("missing error message: %+v", body)
			}
		})
	}
}

func TestTurnSSE(t *testing.T) {
	fc := &fakeChat{records: []transcript.Record{{Role: transcript.RoleAssistant, Content: "Bonjour."}}}
	srv := newTestServer(t, fc, thread.NewMemoryStore(), nil)

	resp, err := http.Post(srv.URL+"/v1/threads/t1/turns", "application/json",
		strings.NewReader(`{"message":"Hello","stream":true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var frames []streamFrame
	sawDone := false
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if line == "[DONE]" {
			sawDone = true
			break
		}
		var f streamFrame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			t.Fatalf("frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	if !sawDone {
		t.Error("missing [DONE] marker")
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].Type != frameRecord || frames[0].Record.Role != transcript.RoleUser {
		t.Errorf("first frame = %+v", frames[0])
	}
	if frames[2].Type != frameDone || frames[2].Result.Content != "Bonjour." {
		t.Errorf("final frame = %+v", frames[2])
	}
}

func TestThreadGetAndList(t *testing.T) {
	store := thread.NewMemoryStore()
	ctx := context.Background()
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hi"}, {Role: llm.RoleAssistant, Content: "hello"}}
	recs := []transcript.Record{transcript.UserRecord("hi"), {Role: transcript.RoleAssistant, Content: "hello"}}
	if err := store.Append(ctx, "t1", "u1", msgs, recs); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, &fakeChat{}, store, nil)

	resp, err := http.Get(srv.URL + "/v1/threads/t1")
	if err != nil {
		t.Fatal(err)
	}
	th := decode[thread.Thread](t, resp.Body)
	resp.Body.Close()
	if th.ID != "t1" || th.UserID != "u1" || len(th.Transcript) != 2 {
		t.Errorf("thread = %+v", th)
	}

	resp, err = http.Get(srv.URL + "/v1/threads/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing thread status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/threads")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	list := decode[struct {
		Threads []thread.Summary `json:"threads"`
		Count   int              `json:"count"`
	}](t, resp.Body)
	if list.Count != 1 || list.Threads[0].Records != 2 {
		t.Errorf("list = %+v", list)
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestThreadStream(t *testing.T) {
	fc := &fakeChat{records: []transcript.Record{
		{Role: transcript.RoleAssistant, Content: `{"text": "hi"}`, Metadata: &transcript.Metadata{Title: "text_to_speech", ID: "c1"}},
		{Role: transcript.RoleAssistant, Content: "Listen."},
	}}
	srv := newTestServer(t, fc, thread.NewMemoryStore(), nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/threads/t9/stream"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(TurnRequest{Message: "speak", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	var types []string
	for {
		var f streamFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		types = append(types, f.Type)
		if f.Type == frameDone || f.Type == frameError {
			if f.Result == nil || f.Result.ThreadID != "t9" || len(f.Result.Records) != 3 {
				t.Errorf("result = %+v", f.Result)
			}
			break
		}
	}
	want := []string{frameRecord, frameRecord, frameRecord, frameDone}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("frames = %v, want %v", types, want)
	}

	// A second turn reuses the connection.
	if err := conn.WriteJSON(TurnRequest{Message: "  "}); err != nil {
		t.Fatal(err)
	}
	var f streamFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Type != frameError || f.Error != "message is required" {
		t.Errorf("frame = %+v", f)
	}
}

func TestEventsStream(t *testing.T) {
	bus := events.New()
	srv := newTestServer(t, &fakeChat{}, thread.NewMemoryStore(), bus)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/events"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	bus.Emit(events.SourceAgent, events.KindTurnStart, map[string]any{"thread_id": "t1"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Kind != events.KindTurnStart || e.Data["thread_id"] != "t1" {
		t.Errorf("event = %+v", e)
	}
}

func TestEventsWithoutBus(t *testing.T) {
	srv := newTestServer(t, &fakeChat{}, thread.NewMemoryStore(), nil)
	resp, err := http.Get(srv.URL + "/v1/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
