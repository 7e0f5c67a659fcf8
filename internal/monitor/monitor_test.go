package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(NewRegistry())

	m.RecordHTTPRequest("/chat/message", "POST", 200, 120*time.Millisecond)
	m.RecordHTTPRequest("", "GET", 404, time.Millisecond)
	m.RecordOllama("generate", nil)
	m.RecordOllama("generate", errors.New("boom"))
	m.RecordStreamChunks(3)
	m.RecordStreamChunks(0)
	m.SetWSClients(2)
	m.RecordWSMessage("chat.message")
	m.RecordWSDropped()
	m.RecordCLICommand("denied")
	m.RecordGateway("prompt-templates", "error")
	m.UpdateUpstreamHealth(true)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("unknown", "GET", "404")); got != 1 {
		t.Errorf("empty route should be labeled unknown, got %v", got)
	}
	if got := testutil.ToFloat64(m.ollamaRequests.WithLabelValues("generate", "error")); got != 1 {
		t.Errorf("ollama error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.streamChunks); got != 3 {
		t.Errorf("stream chunks = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.upstreamHealthy); got != 1 {
		t.Errorf("upstream healthy = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("/x", "GET", 200, time.Second)
	m.RecordOllama("chat", nil)
	m.UpdateUpstreamHealth(false)
	m.SetWSClients(1)
	m.RecordWSDropped()
	m.RecordGateway("x", "success")
	if snap := m.Snapshot(); snap["httpRequests"] != 0.0 {
		t.Errorf("nil snapshot = %v", snap)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics(NewRegistry())
	m.RecordHTTPRequest("/a", "GET", 200, time.Millisecond)
	m.RecordHTTPRequest("/b", "GET", 500, time.Millisecond)
	m.RecordOllama("chat", nil)
	m.RecordOllama("chat", errors.New("x"))
	m.RecordOllama("generate", errors.New("x"))
	m.SetWSClients(4)
	m.UpdateUpstreamHealth(true)

	snap := m.Snapshot()
	if snap["httpRequests"] != 2.0 {
		t.Errorf("httpRequests = %v, want 2", snap["httpRequests"])
	}
	if snap["ollamaRequests"] != 3.0 || snap["ollamaFailures"] != 2.0 {
		t.Errorf("ollama = %v/%v, want 3/2", snap["ollamaRequests"], snap["ollamaFailures"])
	}
	if snap["wsClients"] != 4.0 {
		t.Errorf("wsClients = %v, want 4", snap["wsClients"])
	}
	if snap["upstreamHealthy"] != true {
		t.Errorf("upstreamHealthy = %v", snap["upstreamHealthy"])
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(NewRegistry())
	m.RecordCLICommand("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `uas_cli_commands_total{outcome="success"} 1`) {
		t.Errorf("metrics output missing cli counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing go collector")
	}
}

type fakeProber struct {
	ok atomic.Bool
}

func (f *fakeProber) TestConnection(context.Context) bool { return f.ok.Load() }

func TestHealthChecker_Transitions(t *testing.T) {
	p := &fakeProber{}
	p.ok.Store(true)

	var mu sync.Mutex
	var changes []bool
	m := NewMetrics(NewRegistry())
	hc := NewHealthChecker(p, 20*time.Millisecond, time.Second, m, quietLogger(), func(healthy bool) {
		mu.Lock()
		changes = append(changes, healthy)
		mu.Unlock()
	})
	defer hc.Shutdown()

	time.Sleep(50 * time.Millisecond)
	if !hc.Healthy() {
		t.Error("expected healthy")
	}
	if hc.LastError() != "" {
		t.Errorf("LastError() = %q", hc.LastError())
	}
	if hc.LastCheck().IsZero() {
		t.Error("LastCheck() should be set")
	}

	p.ok.Store(false)
	time.Sleep(60 * time.Millisecond)
	if hc.Healthy() {
		t.Error("expected unhealthy")
	}
	if hc.LastError() == "" {
		t.Error("expected error message")
	}
	if got := testutil.ToFloat64(m.upstreamHealthy); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Errorf("changes = %v, want [true false]", changes)
	}
}

func TestHealthChecker_Shutdown(t *testing.T) {
	p := &fakeProber{}
	hc := NewHealthChecker(p, 10*time.Millisecond, time.Second, nil, quietLogger(), nil)

	done := make(chan struct{})
	go func() {
		hc.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
}

type captureBroadcaster struct {
	mu   sync.Mutex
	got  []map[string]any
	sent int
}

func (c *captureBroadcaster) BroadcastMetrics(m map[string]any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, m)
	return c.sent
}

func TestPublisher_PublishOnce(t *testing.T) {
	m := NewMetrics(NewRegistry())
	m.RecordStreamChunks(5)
	b := &captureBroadcaster{sent: 2}

	p := NewPublisher(m, b, time.Minute, quietLogger())
	if n := p.PublishOnce(); n != 2 {
		t.Errorf("PublishOnce() = %d, want 2", n)
	}
	if len(b.got) != 1 {
		t.Fatalf("got %d snapshots", len(b.got))
	}
	snap := b.got[0]
	if snap["streamChunks"] != 5.0 {
		t.Errorf("streamChunks = %v", snap["streamChunks"])
	}
	if _, ok := snap["uptimeSeconds"]; !ok {
		t.Error("snapshot missing uptimeSeconds")
	}
}

func TestPublisher_Run(t *testing.T) {
	b := &captureBroadcaster{}
	p := NewPublisher(NewMetrics(NewRegistry()), b, 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.got) < 2 {
		t.Errorf("published %d times, want at least 2", len(b.got))
	}
}

func TestPublisher_Disabled(t *testing.T) {
	b := &captureBroadcaster{}
	p := NewPublisher(nil, b, 0, quietLogger())
	p.Run(context.Background())
	if len(b.got) != 0 {
		t.Error("disabled publisher should not publish")
	}
}
