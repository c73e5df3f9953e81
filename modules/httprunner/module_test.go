package httprunner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/registry"
)

func decodeInput(t *testing.T, doc string) *Input {
	t.Helper()
	input := &Input{}
	require.NoError(t, yaml.Unmarshal([]byte(doc), input))
	return input
}

func TestRunner_IteratePlaysRequestList(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.Write([]byte("pong"))
		case "/api/models":
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	input := decodeInput(t, `
default-address: `+server.URL+`
timeout: 2s
requests:
- /ping
- url: /api/models
  method: POST
  expect-status: 201
  label: register-model
`)

	runner, err := newRunner(context.Background(), "health-check", input)
	require.NoError(t, err)
	defer runner.Close()

	// --- Act ---
	samples, err := runner.Iterate(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, samples, 2)

	require.Equal(t, "/ping", samples[0].Label)
	require.Equal(t, http.StatusOK, samples[0].Status)
	require.Empty(t, samples[0].Error)
	require.Equal(t, int64(4), samples[0].Bytes)
	require.Greater(t, samples[0].Latency, time.Duration(0))

	require.Equal(t, "register-model", samples[1].Label)
	require.Equal(t, http.StatusCreated, samples[1].Status)
	require.Empty(t, samples[1].Error)
}

func TestRunner_StatusExpectations(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	input := decodeInput(t, `
default-address: `+server.URL+`
requests:
- /ping
`)
	runner, err := newRunner(context.Background(), "health-check", input)
	require.NoError(t, err)
	defer runner.Close()

	// --- Act ---
	samples, err := runner.Iterate(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, http.StatusBadGateway, samples[0].Status)
	require.Contains(t, samples[0].Error, "unexpected status")
}

func TestRunner_ConnectionErrorBecomesErrorSample(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// A server that is already closed guarantees a connection error.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	input := decodeInput(t, `
default-address: `+addr+`
timeout: 500ms
requests:
- /ping
`)
	runner, err := newRunner(context.Background(), "health-check", input)
	require.NoError(t, err)
	defer runner.Close()

	// --- Act ---
	samples, err := runner.Iterate(context.Background())

	// --- Assert ---
	require.NoError(t, err, "transport errors are samples, not iteration failures")
	require.Len(t, samples, 1)
	require.NotEmpty(t, samples[0].Error)
	require.Zero(t, samples[0].Status)
}

func TestRunnerMaker_RejectsEmptyRequestList(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// An empty request list must already fail when the scenario is resolved,
	// not when the first virtual user starts.
	r := registry.New()
	(&Module{}).Register(r)
	scenario := &config.Scenario{}
	require.NoError(t, yaml.Unmarshal([]byte("executor: http\ntimeout: 2s"), scenario))

	// --- Act ---
	_, err := r.RunnerMaker("empty", scenario)

	// --- Assert ---
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-empty request list")
}

func TestModule_RegistersHTTPExecutor(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	r := registry.New()
	(&Module{}).Register(r)

	scenario := &config.Scenario{}
	require.NoError(t, yaml.Unmarshal([]byte("requests:\n- /ping"), scenario))
	require.Equal(t, "http", scenario.Executor)

	// --- Act ---
	maker, err := r.RunnerMaker("smoke", scenario)

	// --- Assert ---
	require.NoError(t, err)
	runner, err := maker(context.Background())
	require.NoError(t, err)
	require.NoError(t, runner.Close())
}
