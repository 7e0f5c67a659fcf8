package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// MemoryBackend selects the key/value store behind /memory.
type MemoryBackend string

const (
	MemoryMap    MemoryBackend = "map"
	MemorySQLite MemoryBackend = "sqlite"
)

// Features are the per-agent enable flags reported by /health and /status.
type Features struct {
	MemoryAgent  bool `toml:"memory_agent"`
	CLIAgent     bool `toml:"cli_agent"`
	LoadBalancer bool `toml:"load_balancer"`
	AudioChat    bool `toml:"audio_chat"`
}

// Config contains all runtime configuration for the server.
type Config struct {
	// Core
	ListenAddr  string `toml:"listen_addr"`
	Environment string `toml:"environment"`
	LogLevel    string `toml:"log_level"`
	LogDir      string `toml:"log_dir"`

	// DashboardDir serves /dashboard from disk instead of the embedded
	// assets.
	DashboardDir string `toml:"dashboard_dir"`

	// Model runtime
	OllamaBaseURL      string        `toml:"ollama_base_url"`
	OllamaDefaultModel string        `toml:"ollama_default_model"`
	GenerateTimeout    time.Duration `toml:"generate_timeout"`
	StreamTimeout      time.Duration `toml:"stream_timeout"`
	PullTimeout        time.Duration `toml:"pull_timeout"`
	ProbeTimeout       time.Duration `toml:"probe_timeout"`
	ShowCacheTTL       time.Duration `toml:"show_cache_ttl"`

	// Gateway upstreams
	UASAPIURL          string        `toml:"uas_api_url"`
	UASAPIKey          string        `toml:"uas_api_key"`
	EditorAPIURL       string        `toml:"editor_api_url"`
	MobileEditorAPIURL string        `toml:"mobile_editor_api_url"`
	AudioAPIURL        string        `toml:"audio_api_url"`
	AppURL             string        `toml:"app_url"`
	GatewayTimeout     time.Duration `toml:"gateway_timeout"`

	Features Features `toml:"features"`

	// Local services
	MemoryBackend MemoryBackend `toml:"memory_backend"`
	Workdir       string        `toml:"workdir"`
	CLITimeout    time.Duration `toml:"cli_timeout"`
	CLIRateLimit  int           `toml:"cli_rate_limit"`

	// Broadcast
	HeartbeatInterval time.Duration `toml:"ws_heartbeat_interval"`
	SendBuffer        int           `toml:"ws_send_buffer"`
	MetricsInterval   time.Duration `toml:"metrics_broadcast_interval"`

	// Health
	HealthCheckInterval time.Duration `toml:"health_check_interval"`
	HealthCheckTimeout  time.Duration `toml:"health_check_timeout"`

	// HTTP
	CORSAllowOrigin      string        `toml:"cors_allow_origin"`
	RequestBodyMaxBytes  int64         `toml:"request_body_max_bytes"`
	SlowRequestThreshold time.Duration `toml:"slow_request_threshold"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return Config{
		ListenAddr:  ":8000",
		Environment: "development",
		LogLevel:    "info",
		LogDir:      "logs",

		OllamaBaseURL:      "http://localhost:11434",
		OllamaDefaultModel: "codellama:7b",
		GenerateTimeout:    30 * time.Second,
		StreamTimeout:      60 * time.Second,
		PullTimeout:        5 * time.Minute,
		ProbeTimeout:       5 * time.Second,
		ShowCacheTTL:       5 * time.Minute,

		GatewayTimeout: 30 * time.Second,

		MemoryBackend: MemoryMap,
		Workdir:       wd,
		CLITimeout:    30 * time.Second,

		HeartbeatInterval: 30 * time.Second,
		SendBuffer:        256,
		MetricsInterval:   15 * time.Second,

		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,

		CORSAllowOrigin:      "*",
		RequestBodyMaxBytes:  10 * 1024 * 1024,
		SlowRequestThreshold: time.Second,
	}
}

// Load builds a validated Config.
//
// Precedence, lowest first: defaults, the TOML file at path (if any),
// a .env file in the working directory, the process environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes a TOML file on top of cfg.
func LoadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnvString("LISTEN_ADDR", c.ListenAddr)
	c.Environment = getEnvString("ENVIRONMENT", getEnvString("NODE_ENV", c.Environment))
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.LogDir = getEnvString("LOG_DIR", c.LogDir)
	c.DashboardDir = getEnvString("DASHBOARD_DIR", c.DashboardDir)

	c.OllamaBaseURL = getEnvString("OLLAMA_BASE_URL", c.OllamaBaseURL)
	c.OllamaDefaultModel = getEnvString("OLLAMA_DEFAULT_MODEL", c.OllamaDefaultModel)
	c.GenerateTimeout = getEnvDuration("OLLAMA_GENERATE_TIMEOUT", c.GenerateTimeout)
	c.StreamTimeout = getEnvDuration("OLLAMA_STREAM_TIMEOUT", c.StreamTimeout)
	c.PullTimeout = getEnvDuration("OLLAMA_PULL_TIMEOUT", c.PullTimeout)
	c.ProbeTimeout = getEnvDuration("OLLAMA_PROBE_TIMEOUT", c.ProbeTimeout)
	c.ShowCacheTTL = getEnvDuration("SHOW_CACHE_TTL", c.ShowCacheTTL)

	c.UASAPIURL = getEnvString("UAS_API_URL", c.UASAPIURL)
	c.UASAPIKey = getEnvString("UAS_API_KEY", c.UASAPIKey)
	c.EditorAPIURL = getEnvString("NEXT_PUBLIC_EDITOR_API", getEnvString("VSCODE_API_URL", c.EditorAPIURL))
	c.MobileEditorAPIURL = getEnvString("MOBILE_EDITOR_API_URL", c.MobileEditorAPIURL)
	c.AudioAPIURL = getEnvString("NEXT_PUBLIC_AUDIO_API", getEnvString("AUDIO_API_URL", c.AudioAPIURL))
	c.AppURL = getEnvString("NEXT_PUBLIC_APP_URL", getEnvString("APP_URL", c.AppURL))
	c.GatewayTimeout = getEnvDuration("GATEWAY_TIMEOUT", c.GatewayTimeout)

	c.Features.MemoryAgent = getEnvBool("MEMORY_AGENT_ENABLED", c.Features.MemoryAgent)
	c.Features.CLIAgent = getEnvBool("CLI_AGENT_ENABLED", c.Features.CLIAgent)
	c.Features.LoadBalancer = getEnvBool("LOAD_BALANCER_ENABLED", c.Features.LoadBalancer)
	c.Features.AudioChat = getEnvBool("AUDIO_CHAT_ENABLED", c.Features.AudioChat)

	c.MemoryBackend = MemoryBackend(getEnvString("MEMORY_BACKEND", string(c.MemoryBackend)))
	c.Workdir = getEnvString("WORKDIR", c.Workdir)
	c.CLITimeout = getEnvDuration("CLI_TIMEOUT", c.CLITimeout)
	c.CLIRateLimit = getEnvInt("CLI_RATE_LIMIT", c.CLIRateLimit)

	c.HeartbeatInterval = getEnvDuration("WS_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.SendBuffer = getEnvInt("WS_SEND_BUFFER", c.SendBuffer)
	c.MetricsInterval = getEnvDuration("METRICS_BROADCAST_INTERVAL", c.MetricsInterval)

	c.HealthCheckInterval = getEnvDuration("HEALTH_CHECK_INTERVAL", c.HealthCheckInterval)
	c.HealthCheckTimeout = getEnvDuration("HEALTH_CHECK_TIMEOUT", c.HealthCheckTimeout)

	c.CORSAllowOrigin = getEnvString("CORS_ALLOW_ORIGIN", c.CORSAllowOrigin)
	c.RequestBodyMaxBytes = getEnvInt64("REQUEST_BODY_MAX_BYTES", c.RequestBodyMaxBytes)
	c.SlowRequestThreshold = getEnvDuration("SLOW_REQUEST_THRESHOLD", c.SlowRequestThreshold)
}

// AudioBaseURL returns the audio upstream, falling back to the UAS API.
func (c Config) AudioBaseURL() string {
	if c.AudioAPIURL != "" {
		return c.AudioAPIURL
	}
	return c.UASAPIURL
}

// Validate checks configuration constraints.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	u, err := url.Parse(c.OllamaBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid OLLAMA_BASE_URL: %q", c.OllamaBaseURL)
	}
	if c.OllamaDefaultModel == "" {
		return fmt.Errorf("OLLAMA_DEFAULT_MODEL must not be empty")
	}

	for name, raw := range map[string]string{
		"UAS_API_URL":           c.UASAPIURL,
		"VSCODE_API_URL":        c.EditorAPIURL,
		"MOBILE_EDITOR_API_URL": c.MobileEditorAPIURL,
		"AUDIO_API_URL":         c.AudioAPIURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}

	switch c.MemoryBackend {
	case MemoryMap, MemorySQLite:
		// ok
	default:
		return fmt.Errorf("invalid MEMORY_BACKEND: %q (must be map|sqlite)", c.MemoryBackend)
	}

	if c.Workdir == "" {
		return fmt.Errorf("WORKDIR must not be empty")
	}

	// Timeouts
	if c.GenerateTimeout <= 0 || c.StreamTimeout <= 0 || c.PullTimeout <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("ollama timeouts must be > 0")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be > 0")
	}
	if c.CLITimeout <= 0 {
		return fmt.Errorf("CLI_TIMEOUT must be > 0")
	}
	if c.CLIRateLimit < 0 {
		return fmt.Errorf("CLI_RATE_LIMIT must be >= 0")
	}

	// Broadcast
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL must be > 0")
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be >= 1")
	}
	if c.MetricsInterval < 0 {
		return fmt.Errorf("METRICS_BROADCAST_INTERVAL must be >= 0")
	}

	// Health check
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be > 0")
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be > 0")
	}

	if c.RequestBodyMaxBytes <= 0 {
		return fmt.Errorf("REQUEST_BODY_MAX_BYTES must be > 0")
	}

	return nil
}

// ParseLevel maps a LOG_LEVEL string to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL: %q (must be debug|info|warn|error)", level)
	}
}

// Helper functions for parsing environment variables

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
