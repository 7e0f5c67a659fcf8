package api

import (
	"encoding/json"
	"net/http"
	"time"

	"uas-server/internal/ollama"
	"uas-server/internal/relay"
	"uas-server/internal/util"
)

type chatMessageRequest struct {
	Message             string          `json:"message" validate:"required"`
	Model               string          `json:"model"`
	ConversationHistory json.RawMessage `json:"conversation_history"`
}

type chatStreamRequest struct {
	Message string `json:"message" validate:"required"`
	Model   string `json:"model"`
}

type generateRequest struct {
	Prompt string `json:"prompt" validate:"required"`
	Model  string `json:"model"`
}

// historyEntry is one row of the chat history stub.
type historyEntry struct {
	ID        string           `json:"id"`
	Timestamp string           `json:"timestamp"`
	Messages  []ollama.Message `json:"messages"`
}

// history decodes prior turns. Anything that is not a list of role/content
// messages is ignored.
func (req chatMessageRequest) history() []ollama.Message {
	if len(req.ConversationHistory) == 0 {
		return nil
	}
	var msgs []ollama.Message
	if err := json.Unmarshal(req.ConversationHistory, &msgs); err != nil {
		return nil
	}
	return msgs
}

func (s *Server) modelOrDefault(model string) string {
	if model == "" {
		return s.cfg.OllamaDefaultModel
	}
	return model
}

// handleChatMessage runs one chat turn.
// POST /chat/message
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Message is required and must be a string")
		return
	}

	messages := append(req.history(), ollama.Message{Role: "user", Content: req.Message})
	response, err := s.ollama.Chat(r.Context(), messages, req.Model)
	if err != nil {
		s.logger.Error("chat failed", "request_id", RequestID(r.Context()), "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to generate response", "message", err.Error())
		return
	}

	model := s.modelOrDefault(req.Model)
	s.logger.Info("chat interaction",
		"user_message", truncate(req.Message, 100),
		"response_length", len(response),
		"model", model,
	)
	if s.hub != nil {
		s.hub.BroadcastChatMessage(req.Message, response, req.Model)
	}

	s.writeOK(w, map[string]any{
		"response": response,
		"model":    model,
		"conversation": map[string]string{
			"user":      req.Message,
			"assistant": response,
		},
	})
}

// handleChatStream relays a streaming generation as server-sent events.
// Input errors are answered as JSON before any event is written.
// POST /chat/stream
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Message is required and must be a string")
		return
	}

	sw, err := relay.NewWriter(w, s.cfg.CORSAllowOrigin)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	res, err := relay.Relay(sw, func() (relay.Source, error) {
		stream, err := s.ollama.StreamGenerate(r.Context(), req.Message, req.Model)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})
	s.metrics.RecordStreamChunks(res.Chunks)
	if err != nil {
		s.logger.Error("stream chat failed",
			"request_id", RequestID(r.Context()),
			"chunks", res.Chunks,
			"err", err,
		)
		return
	}
	s.logger.Info("stream chat completed",
		"user_message", truncate(req.Message, 100),
		"response_length", len(res.Text),
		"chunks", res.Chunks,
		"model", s.modelOrDefault(req.Model),
	)
}

// handleChatGenerate runs a single prompt completion.
// POST /chat/generate
func (s *Server) handleChatGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Prompt is required and must be a string")
		return
	}

	response, err := s.ollama.Generate(r.Context(), req.Prompt, req.Model)
	if err != nil {
		s.logger.Error("generate failed", "request_id", RequestID(r.Context()), "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to generate response", "message", err.Error())
		return
	}

	s.writeOK(w, map[string]any{
		"prompt":   req.Prompt,
		"response": response,
		"model":    s.modelOrDefault(req.Model),
	})
}

// handleChatHistory returns a fixed sample history; there is no chat
// persistence behind it.
// GET /chat/history
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, map[string]any{
		"conversations": []historyEntry{{
			ID:        "1",
			Timestamp: util.Timestamp(s.now().Add(-time.Hour)),
			Messages: []ollama.Message{
				{Role: "user", Content: "Hello, how are you?"},
				{Role: "assistant", Content: "I am doing well, thank you for asking!"},
			},
		}},
	})
}

// truncate cuts s to at most n runes for logging.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
