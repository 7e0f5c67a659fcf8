package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.OllamaBaseURL != "http://localhost:11434" {
		t.Errorf("OllamaBaseURL = %q, want http://localhost:11434", cfg.OllamaBaseURL)
	}
	if cfg.OllamaDefaultModel != "codellama:7b" {
		t.Errorf("OllamaDefaultModel = %q, want codellama:7b", cfg.OllamaDefaultModel)
	}
	if cfg.GenerateTimeout != 30*time.Second {
		t.Errorf("GenerateTimeout = %v, want 30s", cfg.GenerateTimeout)
	}
	if cfg.StreamTimeout != 60*time.Second {
		t.Errorf("StreamTimeout = %v, want 60s", cfg.StreamTimeout)
	}
	if cfg.PullTimeout != 5*time.Minute {
		t.Errorf("PullTimeout = %v, want 5m", cfg.PullTimeout)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.MemoryBackend != MemoryMap {
		t.Errorf("MemoryBackend = %v, want %v", cfg.MemoryBackend, MemoryMap)
	}
	if cfg.Features.MemoryAgent || cfg.Features.CLIAgent {
		t.Error("feature flags should default to false")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
	t.Setenv("OLLAMA_DEFAULT_MODEL", "llama3")
	t.Setenv("MEMORY_AGENT_ENABLED", "true")
	t.Setenv("CLI_AGENT_ENABLED", "false")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("NODE_ENV", "production")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.OllamaBaseURL != "http://ollama:11434" {
		t.Errorf("OllamaBaseURL = %q", cfg.OllamaBaseURL)
	}
	if cfg.OllamaDefaultModel != "llama3" {
		t.Errorf("OllamaDefaultModel = %q", cfg.OllamaDefaultModel)
	}
	if !cfg.Features.MemoryAgent {
		t.Error("MEMORY_AGENT_ENABLED=true should enable the memory agent")
	}
	if cfg.Features.CLIAgent {
		t.Error("CLI_AGENT_ENABLED=false should keep the cli agent disabled")
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", cfg.HeartbeatInterval)
	}
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q, want production", cfg.Environment)
	}
}

func TestInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("CLI_TIMEOUT", "soon")
	t.Setenv("WS_SEND_BUFFER", "lots")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CLITimeout != 30*time.Second {
		t.Errorf("CLITimeout = %v, want default 30s", cfg.CLITimeout)
	}
	if cfg.SendBuffer != 256 {
		t.Errorf("SendBuffer = %d, want default 256", cfg.SendBuffer)
	}
}

func TestFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uas.toml")
	content := `
listen_addr = ":9000"
ollama_default_model = "mistral"
cli_timeout = "10s"

[features]
audio_chat = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LISTEN_ADDR", ":9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":9100" {
		t.Errorf("ListenAddr = %q, env should win over file", cfg.ListenAddr)
	}
	if cfg.OllamaDefaultModel != "mistral" {
		t.Errorf("OllamaDefaultModel = %q, want mistral from file", cfg.OllamaDefaultModel)
	}
	if cfg.CLITimeout != 10*time.Second {
		t.Errorf("CLITimeout = %v, want 10s from file", cfg.CLITimeout)
	}
	if !cfg.Features.AudioChat {
		t.Error("features.audio_chat from file should be true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad base url", func(c *Config) { c.OllamaBaseURL = "not a url" }, "OLLAMA_BASE_URL"},
		{"bad backend", func(c *Config) { c.MemoryBackend = "redis" }, "MEMORY_BACKEND"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }, "WS_HEARTBEAT_INTERVAL"},
		{"negative rate", func(c *Config) { c.CLIRateLimit = -1 }, "CLI_RATE_LIMIT"},
		{"bad gateway url", func(c *Config) { c.UASAPIURL = "localhost" }, "UAS_API_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}

	if err := Defaults().Validate(); err != nil {
		t.Errorf("Defaults().Validate() = %v", err)
	}
}

func TestAudioBaseURLFallback(t *testing.T) {
	cfg := Defaults()
	cfg.UASAPIURL = "http://uas:8000"
	if got := cfg.AudioBaseURL(); got != "http://uas:8000" {
		t.Errorf("AudioBaseURL() = %q, want UAS fallback", got)
	}
	cfg.AudioAPIURL = "http://audio:9000"
	if got := cfg.AudioBaseURL(); got != "http://audio:9000" {
		t.Errorf("AudioBaseURL() = %q, want audio url", got)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stdout, combined, errorsOnly bytes.Buffer
	logger := SetupLoggerWithWriters(&stdout, &combined, &errorsOnly, slog.LevelInfo)

	logger.Info("hello", "k", "v")
	logger.Error("boom")
	logger.Debug("hidden")

	if n := strings.Count(combined.String(), "\n"); n != 2 {
		t.Errorf("combined got %d lines, want 2", n)
	}
	if n := strings.Count(errorsOnly.String(), "\n"); n != 1 {
		t.Errorf("error log got %d lines, want 1", n)
	}

	var rec map[string]any
	first := strings.SplitN(stdout.String(), "\n", 2)[0]
	if err := json.Unmarshal([]byte(first), &rec); err != nil {
		t.Fatalf("stdout line is not JSON: %v", err)
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestReloadLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uas.toml")
	if err := os.WriteFile(path, []byte(`log_level = "debug"`), 0o644); err != nil {
		t.Fatal(err)
	}

	lvl := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reloadLogLevel(path, lvl, logger)

	if lvl.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lvl.Level())
	}

	if err := os.WriteFile(path, []byte(`log_level = "shouting"`), 0o644); err != nil {
		t.Fatal(err)
	}
	reloadLogLevel(path, lvl, logger)
	if lvl.Level() != slog.LevelDebug {
		t.Errorf("invalid level should be ignored, got %v", lvl.Level())
	}
}
