// Package relay forwards a model runtime fragment stream to an HTTP client
// as Server-Sent Events.
package relay

import (
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"time"

	"uas-server/internal/util"
)

// Event types written on the wire.
const (
	TypeStart    = "start"
	TypeChunk    = "chunk"
	TypeComplete = "complete"
	TypeError    = "error"
)

const (
	startMessage = "Starting response generation..."
	failureText  = "Failed to generate streaming response"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Source is a fragment sequence that can be relayed.
type Source interface {
	Chunks() iter.Seq[string]
	Err() error
	Text() string
	Close() error
}

type startEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type chunkEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type completeEvent struct {
	Type         string `json:"type"`
	FullResponse string `json:"fullResponse"`
	Timestamp    string `json:"timestamp"`
}

type errorEvent struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// FormatEvent formats v as one SSE data frame.
func FormatEvent(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return "data: " + string(data) + "\n\n", nil
}

// Writer writes SSE frames and flushes after each one.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	now     func() time.Time
}

// NewWriter sets the event-stream headers and commits a 200 response.
// Validation errors must be answered before calling it.
func NewWriter(w http.ResponseWriter, allowOrigin string) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	if allowOrigin != "" {
		h.Set("Access-Control-Allow-Origin", allowOrigin)
	}
	h.Set("Access-Control-Allow-Headers", "Cache-Control")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher, now: time.Now}, nil
}

func (s *Writer) send(v any) error {
	frame, err := FormatEvent(v)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Writer) timestamp() string {
	return util.Timestamp(s.now())
}

func (s *Writer) Start() error {
	return s.send(startEvent{Type: TypeStart, Message: startMessage, Timestamp: s.timestamp()})
}

func (s *Writer) Chunk(content string) error {
	return s.send(chunkEvent{Type: TypeChunk, Content: content, Timestamp: s.timestamp()})
}

func (s *Writer) Complete(full string) error {
	return s.send(completeEvent{Type: TypeComplete, FullResponse: full, Timestamp: s.timestamp()})
}

// Fail writes the terminal error event. cause should already be safe to show.
func (s *Writer) Fail(cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.send(errorEvent{Type: TypeError, Error: failureText, Message: msg, Timestamp: s.timestamp()})
}

// Result summarizes one relayed stream.
type Result struct {
	Text   string
	Chunks int
}

// Relay writes start, opens the source, forwards every fragment as a chunk
// event in order, and ends with complete or error.
//
// The returned error is the source or client write failure, if any; the
// client has already been told about source failures.
func Relay(sw *Writer, open func() (Source, error)) (Result, error) {
	var res Result
	if err := sw.Start(); err != nil {
		return res, err
	}

	src, err := open()
	if err != nil {
		_ = sw.Fail(err)
		return res, err
	}
	defer src.Close()

	for chunk := range src.Chunks() {
		if err := sw.Chunk(chunk); err != nil {
			return Result{Text: src.Text(), Chunks: res.Chunks}, err
		}
		res.Chunks++
	}
	res.Text = src.Text()

	if err := src.Err(); err != nil {
		_ = sw.Fail(err)
		return res, err
	}
	return res, sw.Complete(res.Text)
}
