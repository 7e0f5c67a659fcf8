package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"uas-server/internal/memory"
	"uas-server/internal/util"
)

// searchRelevance is reported for every search hit; matching is substring
// only and produces no ranking.
const searchRelevance = 0.95

const defaultSearchLimit = 10

type memoryStoreRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	TTL   float64         `json:"ttl"`
}

type memorySearchRequest struct {
	Query string `json:"query" validate:"required"`
	Limit *int   `json:"limit" validate:"omitnil,gte=0"`
}

type searchHit struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Relevance float64         `json:"relevance"`
	CreatedAt string          `json:"createdAt"`
}

// ttlDuration converts a ttl in seconds, saturating at the Duration range.
// Negative values store the entry already expired.
func ttlDuration(seconds float64) time.Duration {
	ns := seconds * float64(time.Second)
	switch {
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case ns <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ns)
}

func expiresAt(e memory.Entry) *string {
	if e.ExpiresAt == nil {
		return nil
	}
	ts := util.Timestamp(*e.ExpiresAt)
	return &ts
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// handleConversations lists the sample conversations.
// GET /memory/conversations
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs := s.conversations.List()
	s.writeOK(w, map[string]any{
		"conversations": convs,
		"total":         len(convs),
	})
}

// handleConversationMessages returns a window of one conversation.
// GET /memory/{id}?limit=&offset=
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", memory.DefaultMessageLimit)
	offset := queryInt(r, "offset", 0)

	msgs, total := s.conversations.Messages(id, limit, offset)
	s.writeOK(w, map[string]any{
		"conversationId": id,
		"messages":       msgs,
		"total":          total,
		"limit":          limit,
		"offset":         offset,
	})
}

// handleConversationDelete acknowledges a delete; the sample conversations
// are fixed.
// DELETE /memory/{id}
func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.writeOK(w, map[string]any{
		"message":        "Conversation deleted successfully",
		"conversationId": id,
	})
}

// handleMemoryStore saves a value under a key with an optional ttl in
// seconds.
// POST /memory/store
func (s *Server) handleMemoryStore(w http.ResponseWriter, r *http.Request) {
	var req memoryStoreRequest
	if err := s.decode(r, &req); err != nil || req.Key == "" || len(req.Value) == 0 {
		s.writeError(w, http.StatusBadRequest, "Key and value are required")
		return
	}

	entry, err := s.memory.Put(r.Context(), req.Key, util.CompactJSON(req.Value), ttlDuration(req.TTL))
	if err != nil {
		s.logger.Error("failed to store data", "key", req.Key, "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to store data", "message", err.Error())
		return
	}
	s.writeOK(w, map[string]any{
		"key":       entry.Key,
		"expiresAt": expiresAt(entry),
	})
}

// handleMemoryRetrieve returns a stored value. Expired entries are removed
// on read.
// GET /memory/retrieve/{key}
func (s *Server) handleMemoryRetrieve(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	entry, err := s.memory.Get(r.Context(), key)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Data not found", "key", key)
		return
	case errors.Is(err, memory.ErrExpired):
		s.writeError(w, http.StatusNotFound, "Data has expired", "key", key)
		return
	case err != nil:
		s.logger.Error("failed to retrieve data", "key", key, "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve data", "message", err.Error())
		return
	}
	s.writeOK(w, map[string]any{
		"key":       entry.Key,
		"value":     entry.Value,
		"createdAt": util.Timestamp(entry.CreatedAt),
		"expiresAt": expiresAt(entry),
	})
}

// handleMemorySearch finds entries whose key or value contains the query.
// POST /memory/search
func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	var req memorySearchRequest
	if err := s.bind(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}
	limit := defaultSearchLimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	entries, total, err := s.memory.Search(r.Context(), req.Query, limit)
	if err != nil {
		s.logger.Error("memory search failed", "query", req.Query, "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to search memory", "message", err.Error())
		return
	}

	hits := make([]searchHit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, searchHit{
			Key:       e.Key,
			Value:     e.Value,
			Relevance: searchRelevance,
			CreatedAt: util.Timestamp(e.CreatedAt),
		})
	}
	s.writeOK(w, map[string]any{
		"results": hits,
		"total":   total,
		"query":   req.Query,
	})
}
