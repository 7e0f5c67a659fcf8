package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
)

// statusRecorder wraps an http.ResponseWriter to capture the status code and
// count bytes written. It forwards Flush for SSE and Hijack for WebSocket
// upgrades.
type statusRecorder struct {
	http.ResponseWriter
	bytesWritten int64
	statusCode   int
	wroteHeader  bool
	hijacked     bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	atomic.AddInt64(&w.bytesWritten, int64(n))
	return n, err
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// BytesWritten returns the total bytes written.
func (w *statusRecorder) BytesWritten() int64 {
	return atomic.LoadInt64(&w.bytesWritten)
}

// StatusCode returns the HTTP status code.
func (w *statusRecorder) StatusCode() int {
	if w.hijacked {
		return http.StatusSwitchingProtocols
	}
	return w.statusCode
}

// Flush implements http.Flusher if the underlying writer supports it.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wroteHeader = true
		f.Flush()
	}
}

// Hijack implements http.Hijacker if the underlying writer supports it.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.hijacked = true
	}
	return conn, rw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
