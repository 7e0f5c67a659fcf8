package api

import (
	"errors"
	"net/http"

	"uas-server/internal/cliagent"
)

type cliExecuteRequest struct {
	Cmd string `json:"cmd" validate:"required"`
}

// nullable maps "" to JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// handleCLIExecute runs an allowed command in the working directory.
// POST /cli-agent/execute
func (s *Server) handleCLIExecute(w http.ResponseWriter, r *http.Request) {
	var req cliExecuteRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Command is required and must be a string")
		return
	}

	res, err := s.cli.Execute(r.Context(), req.Cmd)
	switch {
	case errors.Is(err, cliagent.ErrEmptyCommand):
		s.metrics.RecordCLICommand("invalid")
		s.writeError(w, http.StatusBadRequest, "Command is required and must be a string")
		return
	case errors.Is(err, cliagent.ErrNotAllowed):
		s.metrics.RecordCLICommand("denied")
		s.logger.Warn("cli command rejected", "request_id", RequestID(r.Context()), "command", req.Cmd)
		s.writeError(w, http.StatusForbidden, "Command not allowed for security reasons",
			"allowedCommands", cliagent.AllowedNames(10))
		return
	case errors.Is(err, cliagent.ErrRateLimited):
		s.metrics.RecordCLICommand("rate_limited")
		s.writeError(w, http.StatusTooManyRequests, "Too many commands, try again later")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "Failed to execute command", "message", err.Error())
		return
	}

	if res.Success {
		s.metrics.RecordCLICommand("success")
	} else {
		s.metrics.RecordCLICommand("failed")
	}

	body := map[string]any{
		"success":       res.Success,
		"command":       res.Command,
		"output":        res.Output,
		"executionTime": res.ExecutionTime.Milliseconds(),
		"timestamp":     s.timestamp(),
	}
	if res.Success {
		body["error"] = nullable(res.Error)
	} else {
		body["error"] = res.Error
	}
	s.writeJSON(w, http.StatusOK, body)
}

// handleCLISystemInfo reports process and host facts.
// GET /cli-agent/system-info
func (s *Server) handleCLISystemInfo(w http.ResponseWriter, r *http.Request) {
	info := cliagent.CollectSystemInfo(r.Context(), s.cli.Workdir(), s.cfg.Environment, s.started, s.logger)
	s.writeOK(w, map[string]any{"systemInfo": info})
}

// handleCLIAllowedCommands lists the documented commands.
// GET /cli-agent/allowed-commands
func (s *Server) handleCLIAllowedCommands(w http.ResponseWriter, r *http.Request) {
	cmds := cliagent.Documented()
	s.writeOK(w, map[string]any{
		"allowedCommands": cmds,
		"total":           len(cmds),
	})
}

// handleCLITest runs the fixed echo self-test.
// POST /cli-agent/test
func (s *Server) handleCLITest(w http.ResponseWriter, r *http.Request) {
	res := s.cli.SelfTest(r.Context())
	if !res.Success {
		s.logger.Error("cli self-test failed", "error", res.Error)
		s.writeError(w, http.StatusInternalServerError, "CLI test failed", "message", res.Error)
		return
	}
	s.writeOK(w, map[string]any{
		"message":       "CLI Agent is working correctly",
		"testCommand":   cliagent.SelfTestCommand,
		"output":        res.Output,
		"error":         nullable(res.Error),
		"executionTime": res.ExecutionTime.Milliseconds(),
	})
}
