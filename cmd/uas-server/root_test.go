package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(configError{errors.New("bad")}))
	assert.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", configError{errors.New("bad")})))
	assert.Equal(t, 1, exitCode(errUnhealthy))
}

func TestCheckReportsRuntimeHealth(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:8b"}]}`))
	}))
	defer up.Close()

	t.Setenv("OLLAMA_BASE_URL", up.URL)
	t.Setenv("WORKDIR", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check"})
	require.NoError(t, rootCmd.ExecuteContext(t.Context()))
	assert.Contains(t, out.String(), `"status": "healthy"`)
	assert.Contains(t, out.String(), `"models": 1`)

	up.Close()
	out.Reset()
	rootCmd.SetArgs([]string{"check"})
	err := rootCmd.ExecuteContext(t.Context())
	assert.ErrorIs(t, err, errUnhealthy)
	assert.Contains(t, out.String(), `"status": "unhealthy"`)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.ExecuteContext(t.Context()))
	assert.Equal(t, "uas-server "+Version+"\n", out.String())
}
