package ollama

import (
	"errors"
	"fmt"
)

// Generic failures surfaced to callers. The upstream cause is logged by the
// client and never included in these messages.
var (
	ErrListModels = errors.New("failed to fetch models from Ollama")
	ErrGenerate   = errors.New("failed to generate response from Ollama")
	ErrChat       = errors.New("failed to chat with Ollama")
	ErrStream     = errors.New("Failed to stream generate from Ollama")
	ErrShow       = errors.New("failed to get model info from Ollama")
)

// UpstreamError reports a failed call to the model runtime.
//
// StatusCode is the upstream HTTP status, or 0 when the request never got a
// response (connection refused, timeout).
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ollama %s failed", e.Op)
	}
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the upstream status from err, or 0 if there is none.
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}
