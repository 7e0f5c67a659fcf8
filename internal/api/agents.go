package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"uas-server/internal/agents"
	"uas-server/internal/util"
)

type agentCallRequest struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// prompt pulls payload.prompt out of the call body when it is a string.
func (req agentCallRequest) prompt() string {
	if len(req.Payload) == 0 {
		return ""
	}
	m, err := util.DecodeJSONMap(req.Payload)
	if err != nil {
		return ""
	}
	p, _ := m["prompt"].(string)
	return p
}

// handleListAgents lists the three agents with live runtime health.
// GET /agents
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	list := s.agents.List(s.healthSnapshot(r))
	s.writeOK(w, map[string]any{
		"agents": list,
		"total":  len(list),
	})
}

// handleAgentStatus reports one agent.
// GET /agents/{id}/status
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.agents.Known(id) {
		s.writeError(w, http.StatusNotFound, "Agent not found", "agentId", id)
		return
	}
	st, err := s.agents.Status(id, s.healthSnapshot(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get agent status", "message", err.Error())
		return
	}
	s.writeOK(w, map[string]any{"agent": st})
}

// handleAgentStart acknowledges a start request. Agents run in-process, so
// nothing is started; subscribers are told the agent is active.
// POST /agents/{id}/start
func (s *Server) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	s.toggleAgent(w, mux.Vars(r)["id"], agents.StateActive, "started")
}

// handleAgentStop acknowledges a stop request.
// POST /agents/{id}/stop
func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	s.toggleAgent(w, mux.Vars(r)["id"], agents.StateInactive, "stopped")
}

func (s *Server) toggleAgent(w http.ResponseWriter, id, state, verb string) {
	if s.hub != nil {
		s.hub.BroadcastAgentStatus(id, state)
	}
	s.logger.Info("agent "+verb, "agent_id", id)
	s.writeOK(w, map[string]any{
		"message": fmt.Sprintf("Agent %s %s successfully", id, verb),
		"agentId": id,
	})
}

// handleAgentCall runs an action on a callable agent.
// POST /agents/{id}/call
func (s *Server) handleAgentCall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req agentCallRequest
	if err := s.decode(r, &req); err != nil && !errors.Is(err, util.ErrEmptyBody) {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start := s.now()
	result, err := s.agents.Call(r.Context(), id, req.Action, req.prompt())
	switch {
	case errors.Is(err, agents.ErrNotCallable):
		s.writeError(w, http.StatusNotFound, "Agent not found or not callable")
		return
	case errors.Is(err, agents.ErrInvalidAction):
		s.writeError(w, http.StatusBadRequest, "Invalid action for Ollama agent")
		return
	case err != nil:
		s.logger.Error("agent call failed", "agent_id", id, "action", req.Action, "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to call agent", "message", err.Error())
		return
	}

	s.writeOK(w, map[string]any{
		"result":        result,
		"executionTime": s.now().Sub(start).Milliseconds(),
		"agentId":       id,
		"action":        req.Action,
	})
}
