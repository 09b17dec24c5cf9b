package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeOllama serves /api/version and /api/generate the way an Ollama server does.
type fakeOllama struct {
	*httptest.Server
	probes atomic.Int32
	calls  atomic.Int32
}

func newFakeOllama(t *testing.T, words ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, _ *http.Request) {
		f.probes.Add(1)
		fmt.Fprint(w, `{"version":"0.11.10"}`)
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		var req struct {
			Model  string `json:"model"`
			Stream *bool  `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		if req.Stream != nil && *req.Stream {
			for _, word := range words {
				_ = enc.Encode(map[string]any{"model": req.Model, "response": word, "done": false})
			}
			_ = enc.Encode(map[string]any{"model": req.Model, "response": "", "done": true, "eval_count": len(words)})
			return
		}
		_ = enc.Encode(map[string]any{"model": req.Model, "response": strings.Join(words, ""), "done": true, "eval_count": len(words)})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// writeTestConfig writes a single-backend config routed to endpoint.
func writeTestConfig(t *testing.T, endpoint string, extra string) string {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MODELGATE_CONFIG_KEY", "")
	dir := t.TempDir()
	content := fmt.Sprintf(`backends:
  - id: local
    endpoint: %s
    model: llama3.2:3b
    max_tokens: 512
    temperature_range: {min: 0.1, max: 0.9}
routes:
  default: [local]
  agents:
    - agent: writer
      backends: [local]
fallback:
  enabled: false
logger:
  level: error
  output: %s
server:
  addr: 127.0.0.1:0
%s`, endpoint, filepath.Join(dir, "modelgate.log"), extra)
	path := filepath.Join(dir, "modelgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}
