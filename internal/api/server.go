// Package api wires the HTTP surface of the server: the JSON routes, the
// streaming relay, the WebSocket endpoint, the proxy gateway and the
// operational endpoints.
package api

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"uas-server/internal/agents"
	"uas-server/internal/broadcast"
	"uas-server/internal/cliagent"
	"uas-server/internal/config"
	"uas-server/internal/editor"
	"uas-server/internal/gateway"
	"uas-server/internal/memory"
	"uas-server/internal/monitor"
	"uas-server/internal/ollama"
	"uas-server/internal/util"
)

const (
	// GatewayPrefix is the mount point of the proxy gateway.
	GatewayPrefix = "/api/proxy"

	serverName = "UAS Server"
)

// Deps are the services the API serves. Health, Hub and Dashboard may be
// nil; Shows and Conversations get defaults.
type Deps struct {
	Config        config.Config
	Version       string
	Started       time.Time
	Ollama        *ollama.Client
	Shows         *ollama.ShowCache
	Hub           *broadcast.Hub
	Metrics       *monitor.Metrics
	Health        *monitor.HealthChecker
	Memory        memory.Store
	Conversations *memory.Conversations
	CLI           *cliagent.Executor
	Workspace     *editor.Workspace
	Agents        *agents.Registry
	Gateway       *gateway.Gateway
	Dashboard     fs.FS
}

// Server handles every HTTP route.
type Server struct {
	cfg           config.Config
	version       string
	started       time.Time
	ollama        *ollama.Client
	shows         *ollama.ShowCache
	hub           *broadcast.Hub
	metrics       *monitor.Metrics
	health        *monitor.HealthChecker
	memory        memory.Store
	conversations *memory.Conversations
	cli           *cliagent.Executor
	workspace     *editor.Workspace
	agents        *agents.Registry
	gateway       *gateway.Gateway
	dashboard     fs.FS
	logger        *slog.Logger
	now           func() time.Time

	handler http.Handler
}

// NewServer creates the API server and builds its router.
func NewServer(d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Started.IsZero() {
		d.Started = time.Now()
	}
	if d.Shows == nil {
		d.Shows = ollama.NewShowCache(d.Ollama, 0)
	}
	if d.Conversations == nil {
		d.Conversations = memory.NewConversations()
	}
	s := &Server{
		cfg:           d.Config,
		version:       d.Version,
		started:       d.Started,
		ollama:        d.Ollama,
		shows:         d.Shows,
		hub:           d.Hub,
		metrics:       d.Metrics,
		health:        d.Health,
		memory:        d.Memory,
		conversations: d.Conversations,
		cli:           d.CLI,
		workspace:     d.Workspace,
		agents:        d.Agents,
		gateway:       d.Gateway,
		dashboard:     d.Dashboard,
		logger:        logger,
		now:           time.Now,
	}
	s.handler = withRequestID(s.cors(s.recoverer(s.routes())))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	r.Use(s.observe)

	chat := s.sub(r, "/chat")
	chat.HandleFunc("/message", s.handleChatMessage).Methods(http.MethodPost)
	chat.HandleFunc("/stream", s.handleChatStream).Methods(http.MethodPost)
	chat.HandleFunc("/generate", s.handleChatGenerate).Methods(http.MethodPost)
	chat.HandleFunc("/history", s.handleChatHistory).Methods(http.MethodGet)

	models := s.sub(r, "/models")
	models.HandleFunc("", s.handleListModels).Methods(http.MethodGet)
	models.HandleFunc("/pull", s.handlePullModel).Methods(http.MethodPost)
	models.HandleFunc("/test", s.handleTestModel).Methods(http.MethodPost)
	models.HandleFunc("/{name}", s.handleGetModel).Methods(http.MethodGet)

	ag := s.sub(r, "/agents")
	ag.HandleFunc("", s.handleListAgents).Methods(http.MethodGet)
	ag.HandleFunc("/{id}/status", s.handleAgentStatus).Methods(http.MethodGet)
	ag.HandleFunc("/{id}/start", s.handleAgentStart).Methods(http.MethodPost)
	ag.HandleFunc("/{id}/stop", s.handleAgentStop).Methods(http.MethodPost)
	ag.HandleFunc("/{id}/call", s.handleAgentCall).Methods(http.MethodPost)

	cli := s.sub(r, "/cli-agent")
	cli.HandleFunc("/execute", s.handleCLIExecute).Methods(http.MethodPost)
	cli.HandleFunc("/system-info", s.handleCLISystemInfo).Methods(http.MethodGet)
	cli.HandleFunc("/allowed-commands", s.handleCLIAllowedCommands).Methods(http.MethodGet)
	cli.HandleFunc("/test", s.handleCLITest).Methods(http.MethodPost)

	ed := s.sub(r, "/editor")
	ed.HandleFunc("/send", s.handleEditorSend).Methods(http.MethodPost)
	ed.HandleFunc("/file-info", s.handleEditorFileInfo).Methods(http.MethodGet)
	ed.HandleFunc("/list-directory", s.handleEditorListDirectory).Methods(http.MethodGet)
	ed.HandleFunc("/test", s.handleEditorTest).Methods(http.MethodGet)

	mem := s.sub(r, "/memory")
	mem.HandleFunc("/conversations", s.handleConversations).Methods(http.MethodGet)
	mem.HandleFunc("/store", s.handleMemoryStore).Methods(http.MethodPost)
	mem.HandleFunc("/search", s.handleMemorySearch).Methods(http.MethodPost)
	mem.HandleFunc("/retrieve/{key}", s.handleMemoryRetrieve).Methods(http.MethodGet)
	mem.HandleFunc("/{id}", s.handleConversationMessages).Methods(http.MethodGet)
	mem.HandleFunc("/{id}", s.handleConversationDelete).Methods(http.MethodDelete)

	st := s.sub(r, "/status")
	st.HandleFunc("", s.handleStatus).Methods(http.MethodGet)
	st.HandleFunc("/agents", s.handleStatusAgents).Methods(http.MethodGet)
	st.HandleFunc("/models", s.handleStatusModels).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", s.handleHealthDetailed).Methods(http.MethodGet)

	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	if s.gateway != nil {
		gw := s.sub(r, GatewayPrefix)
		gw.Handle("/settings/env", gateway.SettingsHandler(gateway.SettingsSource{
			AppURL:              s.cfg.AppURL,
			UASAPIURL:           s.cfg.UASAPIURL,
			UASAPIKey:           s.cfg.UASAPIKey,
			EditorAPIURL:        s.cfg.EditorAPIURL,
			MemoryAgentEnabled:  s.cfg.Features.MemoryAgent,
			LoadBalancerEnabled: s.cfg.Features.LoadBalancer,
		})).Methods(http.MethodGet)
		s.gateway.Register(gw, gateway.Routes())
	}

	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz)
	r.HandleFunc("/healthz/upstream", s.handleHealthzUpstream)
	r.PathPrefix("/dashboard").HandlerFunc(s.handleDashboard).Methods(http.MethodGet)

	return r
}

// sub returns a subrouter for prefix with the JSON 405 handler. mux only
// consults the handler of the router that owns the route.
func (s *Server) sub(r *mux.Router, prefix string) *mux.Router {
	sr := r.PathPrefix(prefix).Subrouter()
	sr.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	return sr
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, "Route not found", "path", r.URL.Path)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "path", r.URL.Path)
}

// Helper functions

func (s *Server) timestamp() string {
	return util.Timestamp(s.now())
}

func (s *Server) uptime() float64 {
	return s.now().Sub(s.started).Seconds()
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "err", err)
	}
}

// writeOK answers 200 with {success:true, ...fields, timestamp}.
func (s *Server) writeOK(w http.ResponseWriter, fields map[string]any) {
	body := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	body["timestamp"] = s.timestamp()
	s.writeJSON(w, http.StatusOK, body)
}

// writeError answers with the failure envelope. kv adds extra key/value
// pairs, slog style.
func (s *Server) writeError(w http.ResponseWriter, code int, msg string, kv ...any) {
	body := map[string]any{
		"success":   false,
		"error":     msg,
		"timestamp": s.timestamp(),
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			body[k] = kv[i+1]
		}
	}
	s.writeJSON(w, code, body)
}

// decode reads a JSON body into dst using the configured size limit.
func (s *Server) decode(r *http.Request, dst any) error {
	return util.DecodeJSON(r, s.cfg.RequestBodyMaxBytes, dst)
}

// bind decodes a JSON body into dst and validates it.
func (s *Server) bind(r *http.Request, dst any) error {
	err := util.DecodeAndValidate(r, s.cfg.RequestBodyMaxBytes, dst)
	if err != nil {
		s.logger.Debug("invalid request body",
			"request_id", RequestID(r.Context()),
			"path", r.URL.Path,
			"fields", util.ValidationFields(err),
			"err", err,
		)
	}
	return err
}

// healthSnapshot asks the model runtime for its health.
func (s *Server) healthSnapshot(r *http.Request) ollama.Health {
	return s.ollama.HealthCheck(r.Context())
}
