package api

import (
	"context"
	"net/http"

	"uas-server/internal/broadcast"
	"uas-server/internal/cliagent"
	"uas-server/internal/ollama"
	"uas-server/internal/util"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// probe lists the models once and derives the runtime health from it.
func (s *Server) probe(ctx context.Context) (ollama.Health, []ollama.Model) {
	models, err := s.ollama.ListModels(ctx)
	if err != nil {
		s.logger.Debug("model runtime probe failed", "err", err)
		return ollama.Health{Status: ollama.HealthUnhealthy, DefaultModel: s.ollama.DefaultModel}, nil
	}
	return ollama.Health{
		Status:       ollama.HealthHealthy,
		Models:       len(models),
		DefaultModel: s.ollama.DefaultModel,
	}, models
}

func overall(h ollama.Health) (string, int) {
	if h.Healthy() {
		return statusHealthy, http.StatusOK
	}
	return statusDegraded, http.StatusServiceUnavailable
}

func (s *Server) features() map[string]bool {
	return map[string]bool{
		"memoryAgent":  s.cfg.Features.MemoryAgent,
		"cliAgent":     s.cfg.Features.CLIAgent,
		"loadBalancer": s.cfg.Features.LoadBalancer,
		"audioChat":    s.cfg.Features.AudioChat,
	}
}

func (s *Server) systemInfo(ctx context.Context) cliagent.SystemInfo {
	return cliagent.CollectSystemInfo(ctx, s.workspace.Root(), s.cfg.Environment, s.started, s.logger)
}

// handleStatus reports the server, its models, agents and features.
// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	h, models := s.probe(r.Context())
	responseTime := s.now().Sub(start).Milliseconds()
	info := s.systemInfo(r.Context())

	available := make([]map[string]any, 0, len(models))
	for _, m := range models {
		available = append(available, map[string]any{
			"name":     m.Name,
			"size":     m.Size,
			"modified": m.ModifiedAt,
			"digest":   m.Digest,
			"status":   "available",
		})
	}

	snap := s.metrics.Snapshot()

	s.writeOK(w, map[string]any{
		"server": map[string]any{
			"name":         serverName,
			"version":      s.version,
			"status":       "running",
			"uptime":       s.uptime(),
			"environment":  s.cfg.Environment,
			"timestamp":    s.timestamp(),
			"responseTime": responseTime,
		},
		"models": available,
		"agents": s.agents.Summaries(h),
		"stats": map[string]any{
			"activeConnections": s.clientCount(),
			"totalRequests":     snap["httpRequests"],
			"memoryUsage": map[string]uint64{
				"used":  info.Memory.Used,
				"total": info.Memory.Total,
			},
			"cpuUsage": info.CPU,
			"uptime":   s.uptime(),
		},
		"features": map[string]any{
			"ollama": map[string]any{
				"available":    h.Healthy(),
				"modelsCount":  h.Models,
				"defaultModel": h.DefaultModel,
			},
			"memory":       map[string]bool{"enabled": s.cfg.Features.MemoryAgent},
			"cli":          map[string]bool{"enabled": s.cfg.Features.CLIAgent},
			"loadBalancer": map[string]bool{"enabled": s.cfg.Features.LoadBalancer},
			"audioChat":    map[string]bool{"enabled": s.cfg.Features.AudioChat},
		},
	})
}

// handleStatusAgents reports the model runtime agent's health.
// GET /status/agents
func (s *Server) handleStatusAgents(w http.ResponseWriter, r *http.Request) {
	h := s.healthSnapshot(r)
	s.writeOK(w, map[string]any{
		"agents": []map[string]any{{
			"id":     "ollama-agent",
			"name":   "Ollama Agent",
			"status": s.agents.Summaries(h)[0].Status,
			"health": map[string]any{
				"status":       h.Status,
				"models":       h.Models,
				"defaultModel": h.DefaultModel,
				"responseTime": 0,
			},
			"metrics": map[string]int{
				"requests":        0,
				"avgResponseTime": 0,
				"errorRate":       0,
			},
		}},
	})
}

// handleStatusModels reports every installed model as available.
// GET /status/models
func (s *Server) handleStatusModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.ollama.ListModels(r.Context())
	if err != nil {
		s.logger.Error("models status check failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to get models status")
		return
	}
	out := make([]map[string]any, 0, len(models))
	for _, m := range models {
		out = append(out, map[string]any{
			"name":     m.Name,
			"status":   "available",
			"size":     m.Size,
			"modified": m.ModifiedAt,
			"details":  m.Details,
		})
	}
	s.writeOK(w, map[string]any{
		"models": out,
		"total":  len(models),
	})
}

// handleHealth answers 200 when the model runtime is reachable and 503
// otherwise.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	h := s.healthSnapshot(r)
	responseTime := s.now().Sub(start).Milliseconds()
	info := s.systemInfo(r.Context())
	status, code := overall(h)

	s.writeJSON(w, code, map[string]any{
		"status":    status,
		"uptime":    s.uptime(),
		"timestamp": s.timestamp(),
		"services": map[string]any{
			"ollama": map[string]any{
				"status":       h.Status,
				"models":       h.Models,
				"defaultModel": h.DefaultModel,
				"responseTime": responseTime,
			},
			"server": map[string]any{
				"status": statusHealthy,
				"memory": info.Memory,
				"cpu":    info.CPU,
			},
		},
		"version":     s.version,
		"environment": s.cfg.Environment,
	})
}

// handleHealthDetailed adds the model list, runtime facts and feature
// flags to the health report.
// GET /health/detailed
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	h, models := s.probe(r.Context())
	responseTime := s.now().Sub(start).Milliseconds()
	info := s.systemInfo(r.Context())
	status, code := overall(h)

	available := make([]map[string]any, 0, len(models))
	for _, m := range models {
		available = append(available, map[string]any{
			"name":     m.Name,
			"size":     m.Size,
			"modified": m.ModifiedAt,
		})
	}

	upstream := map[string]any{
		"status":          h.Status,
		"models":          h.Models,
		"defaultModel":    h.DefaultModel,
		"availableModels": available,
	}
	if s.health != nil {
		upstream["lastCheck"] = util.Timestamp(s.health.LastCheck())
		if e := s.health.LastError(); e != "" {
			upstream["lastError"] = e
		}
	}

	s.writeJSON(w, code, map[string]any{
		"status":       status,
		"uptime":       s.uptime(),
		"timestamp":    s.timestamp(),
		"responseTime": responseTime,
		"services": map[string]any{
			"ollama": upstream,
			"server": map[string]any{
				"status":    statusHealthy,
				"memory":    info.Memory,
				"cpu":       info.CPU,
				"platform":  info.Platform,
				"goVersion": info.GoVersion,
				"host":      info.Host,
			},
			"websocket": s.websocketInfo(),
		},
		"features": s.features(),
	})
}

func (s *Server) clientCount() int {
	if s.hub == nil {
		return 0
	}
	return s.hub.ClientCount()
}

func (s *Server) websocketInfo() map[string]any {
	if s.hub == nil {
		return map[string]any{"clients": 0, "connections": []broadcast.ClientInfo{}}
	}
	conns := s.hub.Clients()
	return map[string]any{
		"clients":     len(conns),
		"connections": conns,
	}
}
