package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	name    string
	tools   []*Tool
	err     error
	delay   time.Duration
	closed  atomic.Int32
	connect atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Connect(ctx context.Context) ([]*Tool, error) {
	f.connect.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.tools, nil
}

func (f *fakeSource) Close() error {
	f.closed.Add(1)
	return nil
}

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes " + name,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			v, _ := args["text"].(string)
			return name + ":" + v, nil
		},
	}
}

// connected returns a registry whose single source offers ts.
func connected(t *testing.T, cfg RegistryConfig, ts ...*Tool) *Registry {
	t.Helper()
	cfg.Logger = discardLogger()
	r := NewRegistry(cfg)
	r.AddSource(&fakeSource{name: "native", tools: ts})
	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRegistry_InvokeBeforeConnect(t *testing.T) {
	r := NewRegistry(RegistryConfig{Logger: discardLogger()})
	r.AddSource(&fakeSource{name: "native", tools: []*Tool{echoTool("echo")}})
	_, err := r.Invoke(context.Background(), "echo", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Invoke before Connect error = %v, want ErrNotConnected", err)
	}
}

func TestRegistry_PartialConnect(t *testing.T) {
	good := &fakeSource{name: "time", tools: []*Tool{echoTool("get_time")}}
	bad := &fakeSource{name: "video", err: errors.New("connection refused")}

	r := NewRegistry(RegistryConfig{Logger: discardLogger()})
	r.AddSource(good)
	r.AddSource(bad)
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	out, err := r.Invoke(context.Background(), "get_time", map[string]any{"text": "now"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out != "get_time:now" {
		t.Errorf("Invoke() = %q", out)
	}

	unavailable := r.Unavailable()
	if len(unavailable) != 1 || unavailable["video"] == nil {
		t.Errorf("Unavailable() = %v, want video only", unavailable)
	}
}

func TestRegistry_ZeroSourcesConnected(t *testing.T) {
	r := NewRegistry(RegistryConfig{Logger: discardLogger()})
	r.AddSource(&fakeSource{name: "a", err: errors.New("down")})
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := len(r.List()); got != 0 {
		t.Errorf("List() len = %d, want 0", got)
	}
}

func TestRegistry_ConnectIdempotent(t *testing.T) {
	src := &fakeSource{name: "a", tools: []*Tool{echoTool("x")}}
	r := NewRegistry(RegistryConfig{Logger: discardLogger()})
	r.AddSource(src)
	for range 3 {
		if err := r.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := src.connect.Load(); got != 1 {
		t.Errorf("source connected %d times, want 1", got)
	}
}

func TestRegistry_KindsResolvedAtBuild(t *testing.T) {
	src := &fakeSource{name: "media", tools: []*Tool{
		echoTool("generate_audio_for_text"),
		echoTool("generate_video_mcp"),
		echoTool("get_time"),
	}}
	r := NewRegistry(RegistryConfig{
		Kinds:  KindsFromNames([]string{"generate_audio_for_text"}, []string{"generate_video_mcp"}),
		Logger: discardLogger(),
	})
	r.AddSource(src)
	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		want   Kind
		wantOK bool
	}{
		{"generate_audio_for_text", Audio, true},
		{"generate_video_mcp", Video, true},
		{"get_time", Generic, true},
		{"unknown", Generic, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Kind(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Kind(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRegistry_DuplicateFirstWins(t *testing.T) {
	first := &fakeSource{name: "first", tools: []*Tool{echoTool("dup")}}
	second := &fakeSource{name: "second", tools: []*Tool{{
		Name: "dup",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "second", nil
		},
	}}}
	r := NewRegistry(RegistryConfig{Logger: discardLogger()})
	r.AddSource(first)
	r.AddSource(second)
	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	out, err := r.Invoke(context.Background(), "dup", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "dup:" {
		t.Errorf("Invoke(dup) = %q, want first source", out)
	}
	descs := r.Descriptions()
	if len(descs) != 1 || descs[0].Source != "first" {
		t.Errorf("Descriptions() = %+v", descs)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := connected(t, RegistryConfig{}, echoTool("zeta"), echoTool("alpha"), echoTool("mid"))
	list := r.List()
	var names []string
	for _, entry := range list {
		if entry["type"] != "function" {
			t.Errorf("type = %v, want function", entry["type"])
		}
		fn := entry["function"].(map[string]any)
		names = append(names, fn["name"].(string))
		if fn["parameters"] == nil {
			t.Errorf("%s has nil parameters", fn["name"])
		}
	}
	if got := strings.Join(names, ","); got != "alpha,mid,zeta" {
		t.Errorf("List() order = %s", got)
	}
}

func TestRegistry_InvalidToolsIgnored(t *testing.T) {
	r := connected(t, RegistryConfig{},
		nil,
		&Tool{Handler: echoTool("x").Handler},
		&Tool{Name: "no_handler"},
		echoTool("x"),
	)
	descs := r.Descriptions()
	if len(descs) != 1 || descs[0].Name != "x" {
		t.Errorf("Descriptions() = %+v, want only x", descs)
	}
	if _, ok := r.Kind("no_handler"); ok {
		t.Error("tool without handler was registered")
	}
}

func TestRegistry_InvokeTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := connected(t, RegistryConfig{Timeout: 20 * time.Millisecond}, &Tool{
		Name: "slow",
		Handler: func(context.Context, map[string]any) (string, error) {
			<-block
			return "late", nil
		},
	})

	start := time.Now()
	_, err := r.Invoke(context.Background(), "slow", nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("Invoke() error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Invoke() took %v, timeout not enforced", elapsed)
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := connected(t, RegistryConfig{}, &Tool{
		Name: "boom",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("exploded")
		},
	})
	if _, err := r.Invoke(context.Background(), "boom", nil); err == nil || err.Error() != "exploded" {
		t.Errorf("Invoke() error = %v, want exploded", err)
	}
}

func TestRegistry_CloseIdempotent(t *testing.T) {
	src := &fakeSource{name: "a", tools: []*Tool{echoTool("x")}}
	bad := &fakeSource{name: "b", err: errors.New("down")}
	r := NewRegistry(RegistryConfig{Logger: discardLogger()})
	r.AddSource(src)
	r.AddSource(bad)
	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := r.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}
	if got := src.closed.Load(); got != 1 {
		t.Errorf("source closed %d times, want 1", got)
	}
	if got := bad.closed.Load(); got != 0 {
		t.Errorf("failed source closed %d times, want 0", got)
	}
	if _, err := r.Invoke(context.Background(), "x", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Invoke after Close error = %v, want ErrClosed", err)
	}
	if err := r.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close error = %v, want ErrClosed", err)
	}
	if _, ok := r.Kind("x"); !ok {
		t.Error("Kind() should still resolve after Close")
	}
}

func TestRegistry_ConnectConcurrent(t *testing.T) {
	r := NewRegistry(RegistryConfig{Logger: discardLogger()})
	for _, name := range []string{"a", "b", "c"} {
		r.AddSource(&fakeSource{name: name, delay: 50 * time.Millisecond, tools: []*Tool{echoTool("t_" + name)}})
	}
	start := time.Now()
	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 140*time.Millisecond {
		t.Errorf("Connect() took %v, sources not connected concurrently", elapsed)
	}
	if got := len(r.Descriptions()); got != 3 {
		t.Errorf("Descriptions() len = %d, want 3", got)
	}
}
