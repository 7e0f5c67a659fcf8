// Package agents describes the logical agents the server exposes and routes
// agent calls to the model runtime.
package agents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"uas-server/internal/ollama"
	"uas-server/internal/util"
)

// Agent ids.
const (
	OllamaAgent = "ollama-agent"
	MemoryAgent = "memory-agent"
	CLIAgent    = "cli-agent"
)

// Agent states.
const (
	StateActive   = "active"
	StateInactive = "inactive"
)

// ActionGenerateCode is the only action the model runtime agent accepts.
const ActionGenerateCode = "generate_code"

var (
	// ErrUnknownAgent is returned for an id outside the registry.
	ErrUnknownAgent = errors.New("agent not found")
	// ErrNotCallable is returned by Call for agents that take no actions.
	ErrNotCallable = errors.New("agent not found or not callable")
	// ErrInvalidAction is returned by Call for an unsupported action or a
	// missing prompt.
	ErrInvalidAction = errors.New("invalid action for agent")
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// Settings are the deployment facts reported in agent descriptors.
type Settings struct {
	OllamaEndpoint string
	MemoryEnabled  bool
	CLIEnabled     bool
	Workdir        string
	CLITimeout     time.Duration
}

// Metrics are placeholder counters; nothing tracks them per agent.
type Metrics struct {
	RequestCount    int `json:"requestCount"`
	AvgResponseTime int `json:"avgResponseTime"`
	ErrorRate       int `json:"errorRate"`
}

// Descriptor is a full agent listing entry.
type Descriptor struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Endpoint     string         `json:"endpoint"`
	Priority     int            `json:"priority"`
	Capabilities []string       `json:"capabilities"`
	Metrics      Metrics        `json:"metrics"`
	Config       map[string]any `json:"config"`
}

// Summary is the short form used in the system status report.
type Summary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Endpoint     string   `json:"endpoint"`
	Model        string   `json:"model,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// Health is the per-agent health block of Status.
type Health struct {
	Status            string `json:"status"`
	Models            *int   `json:"models,omitempty"`
	DefaultModel      string `json:"defaultModel,omitempty"`
	StorageAvailable  *bool  `json:"storageAvailable,omitempty"`
	CommandsAvailable *bool  `json:"commandsAvailable,omitempty"`
	ResponseTime      int    `json:"responseTime"`
}

// Status is the answer to GET /agents/{id}/status.
type Status struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	LastRequest string  `json:"lastRequest"`
	Health      Health  `json:"health"`
}

// CallResult is the output of a successful Call.
type CallResult struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

// Registry holds the three fixed agents.
type Registry struct {
	settings  Settings
	generator Generator
	started   time.Time
	now       func() time.Time
}

// NewRegistry creates a registry. started is the process start time used
// for uptime.
func NewRegistry(settings Settings, generator Generator, started time.Time) *Registry {
	return &Registry{
		settings:  settings,
		generator: generator,
		started:   started,
		now:       time.Now,
	}
}

// IDs returns the agent ids in priority order.
func (r *Registry) IDs() []string {
	return []string{OllamaAgent, MemoryAgent, CLIAgent}
}

// Known reports whether id names a registered agent.
func (r *Registry) Known(id string) bool {
	return slices.Contains(r.IDs(), id)
}

// List returns full descriptors; the model runtime entry reflects h.
func (r *Registry) List(h ollama.Health) []Descriptor {
	return []Descriptor{
		{
			ID:           OllamaAgent,
			Name:         "Ollama Agent",
			Type:         "ai_model",
			Status:       state(h.Healthy()),
			Endpoint:     r.settings.OllamaEndpoint,
			Priority:     1,
			Capabilities: []string{"text_generation", "chat", "streaming", "code_generation"},
			Config: map[string]any{
				"defaultModel":    h.DefaultModel,
				"availableModels": h.Models,
				"maxTokens":       2048,
				"temperature":     0.7,
			},
		},
		{
			ID:           MemoryAgent,
			Name:         "Memory Agent",
			Type:         "memory",
			Status:       state(r.settings.MemoryEnabled),
			Endpoint:     "http://localhost:8001",
			Priority:     2,
			Capabilities: []string{"conversation_history", "context_management", "data_persistence"},
			Config: map[string]any{
				"storageType":      "file",
				"maxHistoryLength": 100,
				"autoCleanup":      true,
			},
		},
		{
			ID:           CLIAgent,
			Name:         "CLI Agent",
			Type:         "command",
			Status:       state(r.settings.CLIEnabled),
			Endpoint:     "http://localhost:8001/v1",
			Priority:     3,
			Capabilities: []string{"command_execution", "file_operations", "system_monitoring"},
			Config: map[string]any{
				"allowedCommands":  []string{"ls", "cd", "mkdir", "touch", "cat", "grep"},
				"workingDirectory": r.settings.Workdir,
				"timeout":          r.settings.CLITimeout.Milliseconds(),
			},
		},
	}
}

// Summaries returns the short descriptors used by /status.
func (r *Registry) Summaries(h ollama.Health) []Summary {
	return []Summary{
		{
			ID:           OllamaAgent,
			Name:         "Ollama Agent",
			Type:         "ai_model",
			Status:       state(h.Healthy()),
			Endpoint:     r.settings.OllamaEndpoint,
			Model:        h.DefaultModel,
			Capabilities: []string{"text_generation", "chat", "streaming"},
		},
		{
			ID:           MemoryAgent,
			Name:         "Memory Agent",
			Type:         "memory",
			Status:       state(r.settings.MemoryEnabled),
			Endpoint:     "http://localhost:8001",
			Capabilities: []string{"conversation_history", "context_management"},
		},
		{
			ID:           CLIAgent,
			Name:         "CLI Agent",
			Type:         "command",
			Status:       state(r.settings.CLIEnabled),
			Endpoint:     "http://localhost:8001/v1",
			Capabilities: []string{"command_execution", "file_operations"},
		},
	}
}

// Status reports one agent. h is only consulted for the model runtime agent.
func (r *Registry) Status(id string, h ollama.Health) (Status, error) {
	now := r.now()
	st := Status{
		ID:          id,
		Uptime:      now.Sub(r.started).Seconds(),
		LastRequest: util.Timestamp(now),
	}
	yes := true

	switch id {
	case OllamaAgent:
		models := h.Models
		st.Name = "Ollama Agent"
		st.Status = state(h.Healthy())
		st.Health = Health{Status: h.Status, Models: &models, DefaultModel: h.DefaultModel}
	case MemoryAgent:
		st.Name = "Memory Agent"
		st.Status = state(r.settings.MemoryEnabled)
		st.Health = Health{Status: ollama.HealthHealthy, StorageAvailable: &yes}
	case CLIAgent:
		st.Name = "CLI Agent"
		st.Status = state(r.settings.CLIEnabled)
		st.Health = Health{Status: ollama.HealthHealthy, CommandsAvailable: &yes}
	default:
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return st, nil
}

// Call runs action on agent id. Only the model runtime agent is callable,
// and only with ActionGenerateCode and a non-empty prompt.
func (r *Registry) Call(ctx context.Context, id, action, prompt string) (CallResult, error) {
	if id != OllamaAgent {
		return CallResult{}, fmt.Errorf("%w: %s", ErrNotCallable, id)
	}
	if action != ActionGenerateCode || prompt == "" {
		return CallResult{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	code, err := r.generator.Generate(ctx, prompt, "")
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{Code: code, Explanation: "Code generated successfully"}, nil
}

func state(active bool) string {
	if active {
		return StateActive
	}
	return StateInactive
}
