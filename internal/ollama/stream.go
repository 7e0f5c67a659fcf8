package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// maxFragmentBytes bounds a single NDJSON line from the runtime.
const maxFragmentBytes = 1024 * 1024

type streamFragment struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Stream is the fragment sequence of one streaming generation.
//
// It is lazy (nothing is read until Chunks is ranged over), finite (it ends
// on a done fragment or EOF) and non-restartable (only the first range over
// Chunks yields anything).
type Stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	logger *slog.Logger
	report func(error)

	started   sync.Once
	closeOnce sync.Once

	text strings.Builder
	err  error
}

// StreamGenerate opens a streaming generation. The returned Stream must be
// closed by the caller; ranging Chunks to completion also closes it.
func (c *Client) StreamGenerate(ctx context.Context, prompt, model string) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Stream)

	req := generateRequest{Model: c.model(model), Prompt: prompt, Stream: true}
	resp, err := c.send(ctx, http.MethodPost, "/api/generate", req)
	if err != nil {
		cancel()
		return nil, c.fail("stream", ErrStream, err)
	}

	s := &Stream{
		body:   resp.Body,
		cancel: cancel,
		logger: c.logger,
		report: func(err error) { c.observe("stream", err) },
	}
	return s, nil
}

// StreamGenerateFunc calls onChunk for each fragment in order and returns
// the concatenated text.
func (c *Client) StreamGenerateFunc(ctx context.Context, prompt, model string, onChunk func(string)) (string, error) {
	s, err := c.StreamGenerate(ctx, prompt, model)
	if err != nil {
		return "", err
	}
	defer s.Close()

	for chunk := range s.Chunks() {
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return s.Text(), s.Err()
}

// Chunks yields each non-empty response fragment in upstream order.
// Malformed lines are skipped.
func (s *Stream) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		first := false
		s.started.Do(func() { first = true })
		if !first {
			return
		}
		defer s.Close()

		sc := bufio.NewScanner(s.body)
		sc.Buffer(make([]byte, 0, 64*1024), maxFragmentBytes)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var frag streamFragment
			if err := json.Unmarshal(line, &frag); err != nil {
				continue
			}
			if frag.Response != "" {
				s.text.WriteString(frag.Response)
				if !yield(frag.Response) {
					return
				}
			}
			if frag.Done {
				s.finish(nil)
				return
			}
		}
		if err := sc.Err(); err != nil {
			s.logger.Error("ollama stream read failed", "err", err)
			s.finish(&UpstreamError{Op: "stream", Err: ErrStream})
			return
		}
		s.finish(nil)
	}
}

// Text returns everything yielded so far.
func (s *Stream) Text() string {
	return s.text.String()
}

// Err returns the read error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the upstream response. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.cancel()
	})
	return err
}

func (s *Stream) finish(err error) {
	s.err = err
	if s.report != nil {
		s.report(err)
	}
}
