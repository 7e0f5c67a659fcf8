// Package gateway forwards /api/proxy requests to the configured upstream
// services, injecting credentials and normalizing failures.
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"uas-server/internal/util"
)

// Upstream identifies one backing service.
type Upstream int

const (
	UpstreamUAS Upstream = iota
	UpstreamEditor
	UpstreamMobileEditor
	UpstreamAudio
)

// Auth selects how the shared credential is attached.
type Auth int

const (
	AuthNone Auth = iota
	// AuthBearer sets "Authorization: Bearer <key>" when a key is configured.
	AuthBearer
	// AuthAPIKey always sets "X-API-Key", empty when no key is configured.
	AuthAPIKey
)

// Body describes what the gateway reads from the caller.
type Body int

const (
	BodyNone Body = iota
	BodyJSON
	BodyMultipart
)

// Route is one gateway entry.
type Route struct {
	Name     string
	Method   string
	Path     string // mux pattern below the gateway prefix
	Target   string // upstream path; empty means Path. {id} is substituted.
	Upstream Upstream
	Auth     Auth
	Body     Body
	Failure  string

	// EmptyFallback answers [] with 200 when the upstream fails.
	EmptyFallback bool
	// DefaultQuery is merged into the caller's query for missing keys.
	DefaultQuery url.Values
	// Health answers failures with an {status:"unhealthy"} document.
	Health bool
	// Acknowledge replaces a successful upstream body with {success:true}.
	Acknowledge bool
}

// Endpoint is a configured upstream base URL.
type Endpoint struct {
	// Name appears in the "not configured" error.
	Name    string
	BaseURL string
}

// Recorder receives one outcome per proxied request.
type Recorder interface {
	RecordGateway(route, result string)
}

// Outcomes reported to the Recorder.
const (
	ResultOK               = "ok"
	ResultUpstreamError    = "upstream_error"
	ResultConnectionFailed = "connection_failed"
	ResultNotConfigured    = "not_configured"
	ResultFallback         = "fallback"
	ResultBadRequest       = "bad_request"
)

const maxUpstreamBody = 10 << 20

// Options configure a Gateway.
type Options struct {
	Endpoints    map[Upstream]Endpoint
	APIKey       string
	Timeout      time.Duration
	MaxBodyBytes int64
	Recorder     Recorder
}

// Gateway forwards requests for a fixed route table. It holds no state
// between requests.
type Gateway struct {
	endpoints map[Upstream]Endpoint
	apiKey    string
	maxBody   int64
	client    *http.Client
	recorder  Recorder
	logger    *slog.Logger
}

// New creates a gateway.
func New(opts Options, logger *slog.Logger) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	return &Gateway{
		endpoints: opts.Endpoints,
		apiKey:    opts.APIKey,
		maxBody:   opts.MaxBodyBytes,
		client:    &http.Client{Timeout: opts.Timeout},
		recorder:  opts.Recorder,
		logger:    logger,
	}
}

// Register mounts every route in routes on r.
func (g *Gateway) Register(r *mux.Router, routes []Route) {
	for _, rt := range routes {
		r.Handle(rt.Path, g.Handler(rt)).Methods(rt.Method)
	}
}

// Handler returns the forwarding handler for rt.
func (g *Gateway) Handler(rt Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := g.forward(w, r, rt)
		if g.recorder != nil {
			g.recorder.RecordGateway(rt.Name, result)
		}
	})
}

func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, rt Route) string {
	ep := g.endpoints[rt.Upstream]
	if ep.BaseURL == "" {
		msg := ep.Name + " not configured"
		if rt.Health {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": msg})
		} else {
			writeFailure(w, http.StatusServiceUnavailable, msg)
		}
		return ResultNotConfigured
	}

	target, err := g.targetURL(ep.BaseURL, r, rt)
	if err != nil {
		g.logger.Error("gateway target invalid", "route", rt.Name, "err", err)
		writeFailure(w, http.StatusServiceUnavailable, "Connection failed")
		return ResultConnectionFailed
	}

	body, contentType, err := g.requestBody(r, rt)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return ResultBadRequest
	}

	req, err := http.NewRequestWithContext(r.Context(), rt.Method, target, body)
	if err != nil {
		g.logger.Error("gateway request build failed", "route", rt.Name, "err", err)
		writeFailure(w, http.StatusServiceUnavailable, "Connection failed")
		return ResultConnectionFailed
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if rt.Body == BodyMultipart {
		req.ContentLength = r.ContentLength
	}
	req.Header.Set("Accept", "application/json")
	g.authorize(req, rt.Auth)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("gateway upstream unreachable", "route", rt.Name, "err", err)
		return g.connectionFailed(w, rt)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxUpstreamBody))
		g.logger.Warn("gateway upstream error", "route", rt.Name, "status", resp.StatusCode)
		switch {
		case rt.EmptyFallback:
			writeJSON(w, http.StatusOK, []any{})
			return ResultFallback
		case rt.Health:
			writeJSON(w, resp.StatusCode, map[string]any{"status": "unhealthy", "uptime": 0})
		default:
			writeFailure(w, resp.StatusCode, rt.Failure)
		}
		return ResultUpstreamError
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		g.logger.Warn("gateway upstream read failed", "route", rt.Name, "err", err)
		return g.connectionFailed(w, rt)
	}
	if rt.Acknowledge || len(bytes.TrimSpace(data)) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return ResultOK
	}
	if !json.Valid(data) {
		g.logger.Warn("gateway upstream returned invalid JSON", "route", rt.Name)
		return g.connectionFailed(w, rt)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return ResultOK
}

func (g *Gateway) connectionFailed(w http.ResponseWriter, rt Route) string {
	switch {
	case rt.EmptyFallback:
		writeJSON(w, http.StatusOK, []any{})
		return ResultFallback
	case rt.Health:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": "Connection failed"})
	default:
		writeFailure(w, http.StatusServiceUnavailable, "Connection failed")
	}
	return ResultConnectionFailed
}

func (g *Gateway) targetURL(base string, r *http.Request, rt Route) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse upstream %q: %w", base, err)
	}

	path := rt.Target
	if path == "" {
		path = rt.Path
	}
	for k, v := range mux.Vars(r) {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	u = u.JoinPath(path)

	q := r.URL.Query()
	for k, vs := range rt.DefaultQuery {
		if q.Get(k) == "" {
			q[k] = vs
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// requestBody returns the body to forward and its content type. JSON bodies
// are validated and compacted; multipart bodies pass through untouched.
func (g *Gateway) requestBody(r *http.Request, rt Route) (io.Reader, string, error) {
	switch rt.Body {
	case BodyJSON:
		var raw json.RawMessage
		if err := util.DecodeJSON(r, g.maxBody, &raw); err != nil {
			if errors.Is(err, util.ErrEmptyBody) {
				return bytes.NewReader([]byte("{}")), "application/json", nil
			}
			return nil, "", err
		}
		return bytes.NewReader(util.CompactJSON(raw)), "application/json", nil
	case BodyMultipart:
		ct := r.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, "multipart/") {
			return nil, "", fmt.Errorf("expected multipart body, got %q", ct)
		}
		return http.MaxBytesReader(nil, r.Body, g.maxBody), ct, nil
	default:
		return nil, "", nil
	}
}

func (g *Gateway) authorize(req *http.Request, auth Auth) {
	switch auth {
	case AuthBearer:
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
	case AuthAPIKey:
		req.Header.Set("X-API-Key", g.apiKey)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "status": status})
}
