package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"uas-server/internal/ollama"
)

// modelDescriptor is the client-facing shape of one installed model.
type modelDescriptor struct {
	Name     string       `json:"name"`
	Model    string       `json:"model"`
	Size     int64        `json:"size"`
	Modified string       `json:"modified"`
	Digest   string       `json:"digest"`
	Details  modelDetails `json:"details"`
}

type modelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameterSize"`
	QuantizationLevel string `json:"quantizationLevel"`
}

func describeModels(models []ollama.Model) []modelDescriptor {
	out := make([]modelDescriptor, 0, len(models))
	for _, m := range models {
		out = append(out, modelDescriptor{
			Name:     m.Name,
			Model:    m.Model,
			Size:     m.Size,
			Modified: m.ModifiedAt,
			Digest:   m.Digest,
			Details: modelDetails{
				Format:            m.Details.Format,
				Family:            m.Details.Family,
				ParameterSize:     m.Details.ParameterSize,
				QuantizationLevel: m.Details.QuantizationLevel,
			},
		})
	}
	return out
}

type modelRequest struct {
	ModelName string `json:"modelName" validate:"required"`
	Prompt    string `json:"prompt"`
}

const defaultTestPrompt = "Hello, how are you?"

// handleListModels lists the installed models.
// GET /models
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.ollama.ListModels(r.Context())
	if err != nil {
		s.logger.Error("failed to list models", "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch models", "message", err.Error())
		return
	}
	s.writeOK(w, map[string]any{
		"models": describeModels(models),
		"total":  len(models),
	})
}

// handleGetModel returns the runtime's description of one model.
// GET /models/{name}
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	info, err := s.shows.Get(r.Context(), name)
	if err != nil {
		s.logger.Error("failed to get model info", "model", name, "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to get model information", "message", err.Error())
		return
	}

	body := map[string]any{
		"model": name,
		"info":  info,
	}
	if n, ok := info.MaxContextLength(); ok {
		body["contextLength"] = n
	}
	s.writeOK(w, body)
}

// handlePullModel downloads a model into the runtime.
// POST /models/pull
func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Model name is required")
		return
	}

	if !s.ollama.PullModel(r.Context(), req.ModelName) {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to pull model %s", req.ModelName))
		return
	}
	s.shows.Invalidate(req.ModelName)
	s.logger.Info("model pulled", "model", req.ModelName)
	s.writeOK(w, map[string]any{
		"message": fmt.Sprintf("Model %s pulled successfully", req.ModelName),
		"model":   req.ModelName,
	})
}

// handleTestModel sends a short prompt to a model.
// POST /models/test
func (s *Server) handleTestModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Model name is required")
		return
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultTestPrompt
	}

	response, err := s.ollama.Generate(r.Context(), prompt, req.ModelName)
	if err != nil {
		s.logger.Error("model test failed", "model", req.ModelName, "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to test model", "message", err.Error())
		return
	}
	s.writeOK(w, map[string]any{
		"model":      req.ModelName,
		"testPrompt": prompt,
		"response":   response,
	})
}
