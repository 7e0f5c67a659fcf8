package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

type upstream struct {
	*httptest.Server
	mu     sync.Mutex
	seen   []recorded
	status int
	body   string
}

func newUpstream(t *testing.T, status int, body string) *upstream {
	t.Helper()
	u := &upstream{status: status, body: body}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.seen = append(u.seen, recorded{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone(), b})
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.status)
		io.WriteString(w, u.body)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) last(t *testing.T) recorded {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	require.NotEmpty(t, u.seen, "upstream was not called")
	return u.seen[len(u.seen)-1]
}

type outcomes struct {
	mu  sync.Mutex
	got []string
}

func (o *outcomes) RecordGateway(route, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, route+":"+result)
}

func newRouter(endpoints map[Upstream]Endpoint, key string, rec Recorder) *mux.Router {
	g := New(Options{Endpoints: endpoints, APIKey: key, Recorder: rec}, quietLogger())
	r := mux.NewRouter()
	g.Register(r.PathPrefix("/api/proxy").Subrouter(), Routes())
	return r
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body io.Reader) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var m map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &m)
	return rec, m
}

func TestForwardsJSONWithBearer(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{"id":"t1"}`)
	rec := &outcomes{}
	r := newRouter(Endpoints(up.URL, "", "", ""), "secret-key", rec)

	res, body := do(t, r, http.MethodPost, "/api/proxy/prompt-templates", "application/json", strings.NewReader(`{ "name": "x" }`))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "t1", body["id"])

	got := up.last(t)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/prompt-templates", got.path)
	assert.Equal(t, "Bearer secret-key", got.header.Get("Authorization"))
	assert.Empty(t, got.header.Get("X-API-Key"))
	assert.JSONEq(t, `{"name":"x"}`, string(got.body))
	assert.Equal(t, []string{"prompt_templates_create:ok"}, rec.got)
}

func TestBearerOmittedWithoutKey(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	r := newRouter(Endpoints(up.URL, "", "", ""), "", nil)

	do(t, r, http.MethodGet, "/api/proxy/models", "", nil)
	assert.Empty(t, up.last(t).header.Get("Authorization"))
}

func TestAPIKeyAndPathVars(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{"ok":true}`)
	r := newRouter(Endpoints(up.URL, "", "", ""), "k-123", nil)

	res, _ := do(t, r, http.MethodPut, "/api/proxy/terminal-commands/42", "application/json", strings.NewReader(`{"cmd":"ls"}`))
	require.Equal(t, http.StatusOK, res.Code)

	got := up.last(t)
	assert.Equal(t, "/terminal-commands/42", got.path)
	assert.Equal(t, "k-123", got.header.Get("X-API-Key"))
	assert.Empty(t, got.header.Get("Authorization"))
}

func TestUpstreamErrorMirrorsStatus(t *testing.T) {
	up := newUpstream(t, http.StatusTeapot, `{"detail":"internal"}`)
	r := newRouter(Endpoints(up.URL, "", "", ""), "", nil)

	res, body := do(t, r, http.MethodPost, "/api/proxy/providers", "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusTeapot, res.Code)
	assert.Equal(t, "Failed to add provider", body["error"])
	assert.Equal(t, float64(http.StatusTeapot), body["status"])
	assert.NotContains(t, res.Body.String(), "internal")
}

func TestConnectionFailed(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	base := up.URL
	up.Close()

	rec := &outcomes{}
	r := newRouter(Endpoints(base, "", "", ""), "", rec)

	res, body := do(t, r, http.MethodPost, "/api/proxy/cli-agent/execute", "application/json", strings.NewReader(`{"cmd":"ls"}`))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Equal(t, "Connection failed", body["error"])
	assert.Equal(t, float64(503), body["status"])
	assert.Equal(t, []string{"cli_execute:connection_failed"}, rec.got)
}

func TestNotConfigured(t *testing.T) {
	r := newRouter(Endpoints("", "", "", ""), "", nil)

	res, body := do(t, r, http.MethodGet, "/api/proxy/providers", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Equal(t, "UAS_API_URL not configured", body["error"])

	res, body = do(t, r, http.MethodPost, "/api/proxy/editor/send", "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Equal(t, "VS Code API not configured", body["error"])

	res, body = do(t, r, http.MethodGet, "/api/proxy/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestEmptyFallback(t *testing.T) {
	up := newUpstream(t, http.StatusInternalServerError, `boom`)
	rec := &outcomes{}
	r := newRouter(Endpoints(up.URL, "", "", ""), "", rec)

	for _, path := range []string{"/api/proxy/prompt-templates", "/api/proxy/loadbalancer/instances", "/api/proxy/memory/conversations", "/api/proxy/memory/c1"} {
		res, _ := do(t, r, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, res.Code, path)
		assert.JSONEq(t, `[]`, res.Body.String(), path)
	}
	assert.Contains(t, rec.got, "memory_conversations:fallback")
	assert.Equal(t, "/memory/conversations", up.seen[2].path)
}

func TestDefaultQuery(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `[]`)
	r := newRouter(Endpoints(up.URL, "", "", ""), "", nil)

	do(t, r, http.MethodGet, "/api/proxy/chat/history?conversationId=c9", "", nil)
	assert.Equal(t, "conversationId=c9&limit=50", up.last(t).query)

	do(t, r, http.MethodGet, "/api/proxy/chat/history?limit=5", "", nil)
	assert.Equal(t, "limit=5", up.last(t).query)
}

func TestAcknowledgeDelete(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{"deleted":"c1"}`)
	r := newRouter(Endpoints(up.URL, "", "", ""), "", nil)

	res, _ := do(t, r, http.MethodDelete, "/api/proxy/memory/c1", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"success":true}`, res.Body.String())
	assert.Equal(t, http.MethodDelete, up.last(t).method)
}

func TestHealthShapes(t *testing.T) {
	up := newUpstream(t, http.StatusBadGateway, ``)
	r := newRouter(Endpoints(up.URL, "", "", ""), "", nil)

	res, body := do(t, r, http.MethodGet, "/api/proxy/health", "", nil)
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, float64(0), body["uptime"])
}

func TestInvalidJSONBody(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	r := newRouter(Endpoints(up.URL, "", "", ""), "", nil)

	res, body := do(t, r, http.MethodPost, "/api/proxy/providers", "application/json", strings.NewReader(`{nope`))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Invalid request body", body["error"])
	assert.Empty(t, up.seen)
}

func TestMultipartPassthrough(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{"text":"hi"}`)
	audio := newUpstream(t, http.StatusOK, `{"processed":true}`)
	r := newRouter(Endpoints(up.URL, "", "", audio.URL), "k", nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	require.NoError(t, err)
	fw.Write([]byte("RIFF...."))
	require.NoError(t, mw.Close())

	res, body := do(t, r, http.MethodPost, "/api/proxy/audio/process", mw.FormDataContentType(), bytes.NewReader(buf.Bytes()))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, body["processed"])

	got := audio.last(t)
	assert.Equal(t, "/audio/process", got.path)
	assert.Equal(t, mw.FormDataContentType(), got.header.Get("Content-Type"))
	assert.Equal(t, buf.Bytes(), got.body)
	assert.Empty(t, up.seen)

	res, _ = do(t, r, http.MethodPost, "/api/proxy/chat/speech-to-text", "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAudioFallsBackToUAS(t *testing.T) {
	eps := Endpoints("http://uas.local", "", "", "")
	assert.Equal(t, "http://uas.local", eps[UpstreamAudio].BaseURL)
}

func TestSettingsMasksSecrets(t *testing.T) {
	src := SettingsSource{
		UASAPIURL: "http://uas.local",
		UASAPIKey: "sk-abcdef1234",
	}
	vars := src.EnvVars()

	byKey := map[string]EnvVar{}
	for _, v := range vars {
		byKey[v.Key] = v
	}
	assert.NotContains(t, byKey, "NEXT_PUBLIC_APP_URL")
	assert.Equal(t, "****1234", byKey["UAS_API_KEY"].Value)
	assert.True(t, byKey["UAS_API_KEY"].IsSecret)
	assert.Equal(t, "false", byKey["MEMORY_AGENT_ENABLED"].Value)

	rec := httptest.NewRecorder()
	SettingsHandler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "abcdef")
}
