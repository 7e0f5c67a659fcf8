package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"uas-server/internal/util"
)

const (
	// HealthHealthy and HealthUnhealthy are the two HealthCheck states.
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"

	// NoResponse replaces an empty completion.
	NoResponse = "No response generated"
)

// Timeouts bound each kind of upstream call.
type Timeouts struct {
	Generate time.Duration // generate and chat
	Stream   time.Duration
	Pull     time.Duration
	Probe    time.Duration // connection test
	List     time.Duration // tags and show
}

// DefaultTimeouts returns the runtime client's standard bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Generate: 30 * time.Second,
		Stream:   60 * time.Second,
		Pull:     5 * time.Minute,
		Probe:    5 * time.Second,
		List:     10 * time.Second,
	}
}

// Client talks to the Ollama HTTP API.
//
// Every call is bounded by one of Timeouts and failures come back as
// *UpstreamError wrapping a generic sentinel. Nothing is retried.
type Client struct {
	BaseURL      *url.URL
	HTTP         *http.Client
	DefaultModel string
	Timeouts     Timeouts

	// Observe, if set, is called once per finished upstream operation.
	Observe func(op string, err error)

	logger *slog.Logger
}

// NewClient constructs an Ollama client.
func NewClient(base, defaultModel string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		BaseURL:      u,
		HTTP:         &http.Client{},
		DefaultModel: defaultModel,
		Timeouts:     DefaultTimeouts(),
		logger:       logger,
	}
	return c, nil
}

// Model is one entry of GET /api/tags.
type Model struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails describes a model's format and quantization.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// Message is a role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Health is the result of HealthCheck.
type Health struct {
	Status       string `json:"status"`
	Models       int    `json:"models"`
	DefaultModel string `json:"defaultModel"`
}

// Healthy reports whether the runtime answered the model listing.
func (h Health) Healthy() bool {
	return h.Status == HealthHealthy
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// ListModels returns the models installed in the runtime.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.List)
	defer cancel()

	var out tagsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, c.fail("list_models", ErrListModels, err)
	}
	c.observe("list_models", nil)
	if out.Models == nil {
		out.Models = []Model{}
	}
	return out.Models, nil
}

// Generate runs a one-shot, non-streaming completion.
func (c *Client) Generate(ctx context.Context, prompt, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Generate)
	defer cancel()

	var out generateResponse
	req := generateRequest{Model: c.model(model), Prompt: prompt, Stream: false}
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate", req, &out); err != nil {
		return "", c.fail("generate", ErrGenerate, err)
	}
	c.observe("generate", nil)
	if out.Response == "" {
		return NoResponse, nil
	}
	return out.Response, nil
}

// Chat sends a message sequence and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Generate)
	defer cancel()

	if messages == nil {
		messages = []Message{}
	}
	var out chatResponse
	req := chatRequest{Model: c.model(model), Messages: messages, Stream: false}
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return "", c.fail("chat", ErrChat, err)
	}
	c.observe("chat", nil)
	if out.Message.Content == "" {
		return NoResponse, nil
	}
	return out.Message.Content, nil
}

// PullModel asks the runtime to download a model and waits for it.
// Any failure is reported as false.
func (c *Client) PullModel(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Pull)
	defer cancel()

	payload := map[string]any{"model": name, "stream": false}
	if err := c.doJSON(ctx, http.MethodPost, "/api/pull", payload, nil); err != nil {
		c.logger.Error("ollama pull failed", "model", name, "err", err)
		c.observe("pull", err)
		return false
	}
	c.observe("pull", nil)
	return true
}

// HealthCheck reports whether the runtime can list its models. It never fails.
func (c *Client) HealthCheck(ctx context.Context) Health {
	models, err := c.ListModels(ctx)
	if err != nil {
		return Health{Status: HealthUnhealthy, Models: 0, DefaultModel: c.DefaultModel}
	}
	return Health{Status: HealthHealthy, Models: len(models), DefaultModel: c.DefaultModel}
}

// TestConnection performs a short GET /api/tags.
func (c *Client) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Probe)
	defer cancel()

	resp, err := c.send(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		c.logger.Debug("ollama connection test failed", "err", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ShowResponse is the response from POST /api/show.
//
// We keep fields as they appear in Ollama so future additions are ignored safely.
type ShowResponse struct {
	Modelfile  string         `json:"modelfile"`
	Parameters string         `json:"parameters"`
	Template   string         `json:"template"`
	ModelInfo  map[string]any `json:"model_info"`
	Details    map[string]any `json:"details"`
	License    any            `json:"license"`
	ModifiedAt string         `json:"modified_at"`
}

// Show fetches model metadata from Ollama.
func (c *Client) Show(ctx context.Context, model string, verbose bool) (ShowResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.List)
	defer cancel()

	payload := map[string]any{"model": model}
	if verbose {
		payload["verbose"] = true
	}
	var out ShowResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/show", payload, &out); err != nil {
		return ShowResponse{}, c.fail("show", ErrShow, err)
	}
	c.observe("show", nil)
	return out, nil
}

// MaxContextLength returns the maximum context length reported by the model (if present).
//
// In /api/show, Ollama puts this in model_info as e.g. "qwen2.context_length".
func (s ShowResponse) MaxContextLength() (int, bool) {
	max := 0
	for k, v := range s.ModelInfo {
		if strings.HasSuffix(k, "context_length") {
			if n, ok := util.ToInt(v); ok && n > max {
				max = n
			}
		}
	}
	if max > 0 {
		return max, true
	}
	return 0, false
}

func (c *Client) model(m string) string {
	if m == "" {
		return c.DefaultModel
	}
	return m
}

// fail logs the upstream cause and returns the generic sentinel in its place.
func (c *Client) fail(op string, sentinel, cause error) error {
	c.logger.Error("ollama request failed", "op", op, "err", cause)
	c.observe(op, cause)
	return &UpstreamError{Op: op, StatusCode: StatusCode(cause), Err: sentinel}
}

func (c *Client) observe(op string, err error) {
	if c.Observe != nil {
		c.Observe(op, err)
	}
}

// send issues a request and returns the response only for 2xx statuses.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}

	u := c.BaseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := ioReadAllLimit(resp.Body, 64*1024)
		resp.Body.Close()
		return nil, &UpstreamError{
			Op:         path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(buf))),
		}
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func ioReadAllLimit(r io.Reader, max int64) ([]byte, error) {
	buf := &bytes.Buffer{}
	if max <= 0 {
		return io.ReadAll(r)
	}
	_, err := io.CopyN(buf, r, max+1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	b := buf.Bytes()
	if int64(len(b)) > max {
		return b[:max], nil
	}
	return b, nil
}
