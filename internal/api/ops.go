package api

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"uas-server/internal/util"
)

// handleHealthz is the liveness probe. It reports the background checker's
// last verdict and never calls the model runtime itself.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil && !s.health.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleHealthzUpstream(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"healthy":    true,
			"last_check": s.timestamp(),
		})
		return
	}

	healthy := s.health.Healthy()
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	response := map[string]any{
		"healthy":    healthy,
		"last_check": util.Timestamp(s.health.LastCheck()),
	}
	if lastError := s.health.LastError(); lastError != "" {
		response["last_error"] = lastError
	}
	s.writeJSON(w, code, response)
}

// handleDashboard serves the embedded status page at /dashboard and
// /dashboard/*. Unknown paths fall back to index.html.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.dashboard == nil {
		http.Error(w, "Dashboard assets not available", http.StatusServiceUnavailable)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/dashboard")
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		name = "index.html"
	}

	file, err := s.dashboard.Open(name)
	if err != nil {
		name = "index.html"
		file, err = s.dashboard.Open(name)
		if err != nil {
			http.Error(w, "Dashboard not found", http.StatusNotFound)
			return
		}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "Failed to read dashboard", http.StatusInternalServerError)
		return
	}
	if stat.IsDir() {
		file.Close()
		name = path.Join(name, "index.html")
		file, err = s.dashboard.Open(name)
		if err != nil {
			http.Error(w, "Dashboard not found", http.StatusNotFound)
			return
		}
		defer file.Close()
		if stat, err = file.Stat(); err != nil {
			http.Error(w, "Failed to read dashboard", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Length", strconv.FormatInt(stat.Size(), 10))
	if !strings.HasSuffix(name, ".html") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}

	if seeker, ok := file.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, stat.ModTime(), seeker)
		return
	}
	_, _ = io.Copy(w, file)
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".ico":
		return "image/x-icon"
	}
	return "application/octet-stream"
}
