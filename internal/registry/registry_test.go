package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/stats"
)

type nopRunner struct{}

func (nopRunner) Iterate(ctx context.Context) ([]stats.Sample, error) { return nil, nil }
func (nopRunner) Close() error                                        { return nil }

type echoInput struct {
	Target string `yaml:"target"`
}

func echoFactory(captured *echoInput) *Factory {
	return &Factory{
		NewInput: func() any { return new(echoInput) },
		New: func(ctx context.Context, scenarioName string, input any) (Runner, error) {
			*captured = *input.(*echoInput)
			return nopRunner{}, nil
		},
	}
}

func scenarioFromYAML(t *testing.T, doc string) *config.Scenario {
	t.Helper()
	s := &config.Scenario{}
	require.NoError(t, yaml.Unmarshal([]byte(doc), s))
	return s
}

func TestRegistry_RunnerMakerDecodesOptions(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	r := New()
	var captured echoInput
	r.Register("echo", echoFactory(&captured))
	scenario := scenarioFromYAML(t, "executor: echo\ntarget: http://localhost:9000")

	// --- Act ---
	maker, err := r.RunnerMaker("smoke", scenario)
	require.NoError(t, err)
	runner, err := maker(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	require.NotNil(t, runner)
	require.Equal(t, "http://localhost:9000", captured.Target)
}

func TestRegistry_RunnerMakerValidatesOptions(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	r := New()
	var captured echoInput
	factory := echoFactory(&captured)
	factory.Validate = func(scenarioName string, input any) error {
		if input.(*echoInput).Target == "" {
			return fmt.Errorf("scenario %q: target is required", scenarioName)
		}
		return nil
	}
	r.Register("echo", factory)
	scenario := scenarioFromYAML(t, "executor: echo")

	// --- Act ---
	_, err := r.RunnerMaker("smoke", scenario)

	// --- Assert ---
	require.Error(t, err)
	require.Contains(t, err.Error(), "target is required")
}

func TestRegistry_UnknownExecutor(t *testing.T) {
	t.Parallel()

	r := New()

	_, err := r.RunnerMaker("smoke", &config.Scenario{Executor: "grpc"})

	require.Error(t, err)
	require.Contains(t, err.Error(), `no executor registered for "grpc"`)
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	r := New()
	var captured echoInput
	r.Register("echo", echoFactory(&captured))

	// --- Act / Assert ---
	require.Panics(t, func() {
		r.Register("echo", echoFactory(&captured))
	})
}
