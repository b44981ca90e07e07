package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shroomp/shroomload/internal/backend"
)

const testConfig = `name: cli-test
gracefulStop: 1s
workload:
  thinkTimeMin: 5ms
  thinkTimeMax: 10ms
  seed: 7
`

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BASE_URL", "")
	t.Setenv("SHROOMLOAD_BASEURL", "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shroomload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func startBackend(t *testing.T, cfg backend.Config) *httptest.Server {
	t.Helper()
	s, err := backend.NewServer(cfg, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_Passes(t *testing.T) {
	clearEnv(t)
	srv := startBackend(t, backend.Config{})

	out, err := execute(t, "run",
		"--config", writeConfig(t, testConfig),
		"--base-url", srv.URL,
		"--stages", "300ms:2,200ms:0",
		"--no-color",
		"--progress-interval", "50ms",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "cli-test - Running")
	assert.Contains(t, out, "cli-test - Completed ✓")
	assert.Contains(t, out, "✓ status is 201")
	assert.Contains(t, out, "✓ http_req_failed rate<0.1")
	assert.NotContains(t, out, "\033[")
}

func TestRun_ThresholdsFail(t *testing.T) {
	clearEnv(t)
	srv := startBackend(t, backend.Config{FailureRate: 1})

	out, err := execute(t, "run",
		"--config", writeConfig(t, testConfig),
		"--base-url", srv.URL,
		"--stages", "300ms:2,200ms:0",
		"--no-color",
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrThresholdsFailed))
	assert.Equal(t, ExitThresholdsFailed, ExitCode(err))

	assert.Contains(t, out, "Failed ✗")
	assert.Contains(t, out, "✗ status is 201")
	assert.Contains(t, out, "✗ http_req_failed rate<0.1")
}

func TestRun_JSON(t *testing.T) {
	clearEnv(t)
	srv := startBackend(t, backend.Config{})
	resultPath := filepath.Join(t.TempDir(), "out", "result.json")

	out, err := execute(t, "run",
		"--config", writeConfig(t, testConfig),
		"--base-url", srv.URL,
		"--stages", "200ms:1",
		"--json",
		"--output", resultPath,
	)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result), "stdout must be pure JSON: %s", out)
	assert.Equal(t, "cli-test", result["name"])
	assert.Equal(t, true, result["passed"])
	assert.Equal(t, srv.URL, result["baseUrl"])

	data, err := os.ReadFile(resultPath)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestRun_Quiet(t *testing.T) {
	clearEnv(t)
	srv := startBackend(t, backend.Config{})

	out, err := execute(t, "run",
		"--config", writeConfig(t, testConfig),
		"--base-url", srv.URL,
		"--stages", "200ms:1",
		"--quiet",
	)
	require.NoError(t, err)
	assert.Equal(t, "PASSED\n", out)
}

func TestRun_MetricsEndpoint(t *testing.T) {
	clearEnv(t)
	srv := startBackend(t, backend.Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfgPath := writeConfig(t, testConfig)
	done := make(chan error, 1)
	go func() {
		_, err := execute(t, "run",
			"--config", cfgPath,
			"--base-url", srv.URL,
			"--stages", "1500ms:2",
			"--quiet",
			"--metrics-addr", addr,
		)
		done <- err
	}()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return strings.Contains(body, "shroomload_http_reqs_total")
	}, 3*time.Second, 50*time.Millisecond)

	assert.Contains(t, body, "shroomload_vus")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestRun_InvalidInput(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad stages", []string{"run", "--stages", "30s"}, "invalid --stages"},
		{"bad base url", []string{"run", "--base-url", "ftp://example.com", "--stages", "1s:1"}, "baseUrl"},
		{"missing config", []string{"run", "--config", "/does/not/exist.yaml"}, "failed to load config file"},
		{"extra args", []string{"run", "now"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, ExitError, ExitCode(err))
		})
	}
}

func TestConfigCmd(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "config",
		"--config", writeConfig(t, testConfig),
		"--base-url", "http://localhost:8080",
		"--stages", "10s:5,10s:0",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "name: cli-test")
	assert.Contains(t, out, "baseUrl: http://localhost:8080")
	assert.Contains(t, out, "thinkTimeMin: 5ms")
	assert.Contains(t, out, "target: 5")
}

func TestConfigCmd_Invalid(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, "config", "--config", writeConfig(t, `
thresholds:
  http_req_duration: ["p(95) less than 2s"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestConfigCmd_EnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_URL", "http://from-env:9000")

	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "baseUrl: http://from-env:9000")

	// flags win over the environment
	out, err = execute(t, "config", "--base-url", "http://from-flag:1")
	require.NoError(t, err)
	assert.Contains(t, out, "baseUrl: http://from-flag:1")
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "shroomload version "+Version+"\n", out)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitThresholdsFailed, ExitCode(fmt.Errorf("wrapped: %w", ErrThresholdsFailed)))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
}

func TestServeCmd_InvalidFailureRate(t *testing.T) {
	_, err := execute(t, "serve", "--failure-rate", "1.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure rate")
}
