package api

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uas-server/internal/agents"
	"uas-server/internal/broadcast"
	"uas-server/internal/cliagent"
	"uas-server/internal/config"
	"uas-server/internal/editor"
	"uas-server/internal/gateway"
	"uas-server/internal/memory"
	"uas-server/internal/monitor"
	"uas-server/internal/ollama"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeOllama answers the runtime endpoints the server uses.
type fakeOllama struct {
	*httptest.Server
	down atomic.Bool

	mu       sync.Mutex
	lastChat []ollama.Message
	prompts  []string
}

func newFakeOllama(t *testing.T) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOllama) serve(w http.ResponseWriter, r *http.Request) {
	if f.down.Load() {
		http.Error(w, "runtime offline", http.StatusInternalServerError)
		return
	}
	var body map[string]json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&body)

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/tags":
		io.WriteString(w, `{"models":[{"name":"llama3:8b","model":"llama3:8b","modified_at":"2024-05-01T10:00:00Z","size":4661224676,"digest":"365c0bd3c000","details":{"format":"gguf","family":"llama","parameter_size":"8.0B","quantization_level":"Q4_0"}}]}`)
	case "/api/chat":
		var msgs []ollama.Message
		_ = json.Unmarshal(body["messages"], &msgs)
		f.mu.Lock()
		f.lastChat = msgs
		f.mu.Unlock()
		io.WriteString(w, `{"model":"llama3:8b","message":{"role":"assistant","content":"hi there"},"done":true}`)
	case "/api/generate":
		var prompt string
		_ = json.Unmarshal(body["prompt"], &prompt)
		f.mu.Lock()
		f.prompts = append(f.prompts, prompt)
		f.mu.Unlock()
		if string(body["stream"]) == "true" {
			w.Header().Set("Content-Type", "application/x-ndjson")
			io.WriteString(w, "{\"response\":\"a\"}\n{\"response\":\"b\"}\n{\"response\":\"\",\"done\":true}\n")
			return
		}
		io.WriteString(w, `{"response":"func main() {}","done":true}`)
	case "/api/pull":
		var name string
		_ = json.Unmarshal(body["model"], &name)
		if name == "missing:latest" {
			http.Error(w, `{"error":"pull model manifest: file does not exist"}`, http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"status":"success"}`)
	case "/api/show":
		io.WriteString(w, `{"modelfile":"FROM llama3","model_info":{"llama.context_length":8192}}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) chatMessages() []ollama.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChat
}

// fakeRunner records argv instead of starting processes.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *fakeRunner) Run(_ context.Context, _ string, argv []string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, argv)
	return strings.Join(argv[1:], " ") + "\n", "", nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type harness struct {
	server  *Server
	ollama  *fakeOllama
	runner  *fakeRunner
	store   memory.Store
	metrics *monitor.Metrics
	hub     *broadcast.Hub
	workdir string
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	return newHarnessWithDashboard(t, nil, mutate...)
}

func newHarnessWithDashboard(t *testing.T, dashboard fs.FS, mutate ...func(*config.Config)) *harness {
	t.Helper()
	logger := quietLogger()
	fake := newFakeOllama(t)

	cfg := config.Defaults()
	cfg.Workdir = t.TempDir()
	cfg.OllamaBaseURL = fake.URL
	cfg.OllamaDefaultModel = "llama3:8b"
	cfg.CORSAllowOrigin = "*"
	cfg.Environment = "test"
	for _, m := range mutate {
		m(&cfg)
	}

	client, err := ollama.NewClient(cfg.OllamaBaseURL, cfg.OllamaDefaultModel, logger)
	require.NoError(t, err)

	metrics := monitor.NewMetrics(monitor.NewRegistry())
	hub := broadcast.NewHub(broadcast.Options{Heartbeat: time.Hour, Recorder: metrics}, logger)
	t.Cleanup(hub.Shutdown)

	ws, err := editor.NewWorkspace(cfg.Workdir)
	require.NoError(t, err)

	runner := &fakeRunner{}
	store := memory.NewMapStore()
	started := time.Now()

	srv := NewServer(Deps{
		Config:  cfg,
		Version: "test",
		Started: started,
		Ollama:  client,
		Shows:   ollama.NewShowCache(client, time.Minute),
		Hub:     hub,
		Metrics: metrics,
		Memory:  store,
		CLI:     cliagent.NewExecutor(runner, ws.Root(), time.Second, cfg.CLIRateLimit, logger),
		Agents: agents.NewRegistry(agents.Settings{
			OllamaEndpoint: cfg.OllamaBaseURL,
			Workdir:        ws.Root(),
			CLITimeout:     cfg.CLITimeout,
		}, client, started),
		Workspace: ws,
		Gateway:   gateway.New(gateway.Options{Endpoints: gateway.Endpoints(cfg.UASAPIURL, "", "", "")}, logger),
		Dashboard: dashboard,
	}, logger)

	return &harness{
		server:  srv,
		ollama:  fake,
		runner:  runner,
		store:   store,
		metrics: metrics,
		hub:     hub,
		workdir: ws.Root(),
	}
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	var m map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	}
	return rec, m
}

func TestErrorEnvelope(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Route not found", body["error"])
	assert.NotEmpty(t, body["timestamp"])

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/chat/message"},
		{http.MethodPost, "/agents"},
		{http.MethodGet, "/cli-agent/execute"},
		{http.MethodPut, "/memory/store"},
		{http.MethodPost, "/status"},
		{http.MethodDelete, "/health"},
	} {
		rec, body = h.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Method not allowed", body["error"], "%s %s", tc.method, tc.path)
		assert.Equal(t, false, body["success"])
	}
}

func TestRequestIDAssignedAndReused(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/memory/conversations", "")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/memory/conversations", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/chat/message", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovererReturnsEnvelope(t *testing.T) {
	h := newHarness(t)
	handler := h.server.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestRequestsAreCountedByRouteTemplate(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodGet, "/memory/conv-1", "")
	h.do(t, http.MethodGet, "/memory/conv-2", "")

	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `uas_http_requests_total{method="GET",route="/memory/{id}",status="200"} 2`)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec, body := h.do(t, http.MethodGet, "/healthz/upstream", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["healthy"])
}

func TestDashboardUnavailableWithoutAssets(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGatewayMounted(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodGet, "/api/proxy/providers", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UAS_API_URL not configured", body["error"])

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/settings/env", nil)
	rr := httptest.NewRecorder()
	h.server.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "MEMORY_AGENT_ENABLED")
}

func TestDashboardServesEmbeddedAssets(t *testing.T) {
	assets := fstest.MapFS{
		"index.html": {Data: []byte("<html>status</html>")},
		"app.js":     {Data: []byte("console.log(1)")},
	}
	h := newHarnessWithDashboard(t, assets)

	rec, _ := h.do(t, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<html>status</html>", rec.Body.String())

	rec, _ = h.do(t, http.MethodGet, "/dashboard/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Cache-Control"))

	rec, _ = h.do(t, http.MethodGet, "/dashboard/agents/ollama-agent", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>status</html>", rec.Body.String())
}
