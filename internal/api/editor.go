package api

import (
	"errors"
	"fmt"
	"net/http"

	"uas-server/internal/editor"
	"uas-server/internal/util"
)

type editorSendRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Action  string `json:"action"`
}

const accessDenied = "Access denied - path outside working directory"

// handleEditorSend opens, saves or appends to a file in the workspace.
// POST /editor/send
func (s *Server) handleEditorSend(w http.ResponseWriter, r *http.Request) {
	var req editorSendRequest
	if err := s.decode(r, &req); err != nil && !errors.Is(err, util.ErrEmptyBody) {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	action := editor.Action(req.Action)

	res, err := s.workspace.Send(action, req.Path, req.Content)
	switch {
	case errors.Is(err, editor.ErrPathRequired):
		s.writeError(w, http.StatusBadRequest, "File path is required")
		return
	case errors.Is(err, editor.ErrInvalidAction):
		s.writeError(w, http.StatusBadRequest, "Action must be one of: open, save, insert")
		return
	case errors.Is(err, editor.ErrOutsideWorkspace):
		s.logger.Warn("editor path rejected", "request_id", RequestID(r.Context()), "path", req.Path)
		s.writeError(w, http.StatusForbidden, accessDenied)
		return
	case errors.Is(err, editor.ErrContentRequired):
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Content is required for %s action", action))
		return
	case errors.Is(err, editor.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "File not found", "path", req.Path)
		return
	case err != nil:
		msg := "Failed to save file"
		if action == editor.ActionInsert {
			msg = "Failed to insert content"
		}
		s.logger.Error("editor action failed", "action", action, "path", req.Path, "err", err)
		s.writeError(w, http.StatusInternalServerError, msg, "message", err.Error())
		return
	}

	s.logger.Info("editor action completed", "action", action, "path", req.Path)
	body := map[string]any{
		"message": res.Message,
		"path":    res.Path,
	}
	if res.Content != nil {
		body["content"] = *res.Content
	}
	if res.Size != nil {
		body["size"] = *res.Size
	}
	if res.InsertedLength != nil {
		body["insertedLength"] = *res.InsertedLength
	}
	if res.TotalLength != nil {
		body["totalLength"] = *res.TotalLength
	}
	s.writeOK(w, body)
}

// handleEditorFileInfo stats a path in the workspace.
// GET /editor/file-info?path=
func (s *Server) handleEditorFileInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	info, err := s.workspace.Stat(path)
	switch {
	case errors.Is(err, editor.ErrPathRequired):
		s.writeError(w, http.StatusBadRequest, "File path is required")
		return
	case errors.Is(err, editor.ErrOutsideWorkspace):
		s.writeError(w, http.StatusForbidden, accessDenied)
		return
	case errors.Is(err, editor.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "File not found", "path", path)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "Failed to get file information", "message", err.Error())
		return
	}
	s.writeOK(w, map[string]any{"fileInfo": info})
}

// handleEditorListDirectory lists a workspace directory; the root when no
// path is given.
// GET /editor/list-directory?path=
func (s *Server) handleEditorListDirectory(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	entries, err := s.workspace.List(dir)
	if dir == "" {
		dir = s.workspace.Root()
	}
	switch {
	case errors.Is(err, editor.ErrOutsideWorkspace):
		s.writeError(w, http.StatusForbidden, accessDenied)
		return
	case errors.Is(err, editor.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Directory not found", "path", dir)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "Failed to list directory contents", "message", err.Error())
		return
	}
	s.writeOK(w, map[string]any{
		"path":     dir,
		"contents": entries,
		"total":    len(entries),
	})
}

// handleEditorTest writes the integration test file.
// GET /editor/test
func (s *Server) handleEditorTest(w http.ResponseWriter, r *http.Request) {
	n, err := s.workspace.SelfTest()
	if err != nil {
		s.logger.Error("editor self-test failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create test file", "message", err.Error())
		return
	}
	s.writeOK(w, map[string]any{
		"message":       "Editor integration test successful",
		"testFile":      editor.TestFileName,
		"contentLength": n,
	})
}
