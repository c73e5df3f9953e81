// Package registry maps scenario executor names to the Go modules that
// implement them. Modules register themselves at startup; plans select them
// by the scenario's executor key.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/stats"
)

// Module is the interface every executor module implements to be registered.
type Module interface {
	Register(r *Registry)
}

// Runner is one virtual user's live scenario instance. It is created when
// the virtual user starts, iterated until the user stops, and then closed,
// so connections survive across iterations.
type Runner interface {
	// Iterate performs one pass over the scenario and returns the samples it
	// produced. A non-nil error means the iteration could not run at all;
	// per-request failures are reported inside the samples instead.
	Iterate(ctx context.Context) ([]stats.Sample, error)
	Close() error
}

// Factory holds the compiled Go parts of one executor type.
type Factory struct {
	// NewInput returns a fresh options struct for the scenario body to be
	// decoded into.
	NewInput func() any
	// Validate, when set, checks the decoded options. It runs once per
	// scenario before any virtual user (or hook) starts.
	Validate func(scenarioName string, input any) error
	// New creates a per-virtual-user runner from decoded options.
	New func(ctx context.Context, scenarioName string, input any) (Runner, error)
}

// Registry holds the executor factories of a single application instance.
type Registry struct {
	factories map[string]*Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]*Factory)}
}

// Register adds an executor factory. Registering the same name twice is a
// programmer error and panics.
func (r *Registry) Register(executor string, f *Factory) {
	if _, exists := r.factories[executor]; exists {
		panic(fmt.Sprintf("executor %q already registered", executor))
	}
	slog.Debug("Registering executor.", "executor", executor)
	r.factories[executor] = f
}

// Executors returns the registered executor names.
func (r *Registry) Executors() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// RunnerMaker decodes the scenario options against the executor's input
// struct and returns a constructor for per-virtual-user runners.
func (r *Registry) RunnerMaker(name string, scenario *config.Scenario) (func(ctx context.Context) (Runner, error), error) {
	factory, ok := r.factories[scenario.Executor]
	if !ok {
		return nil, fmt.Errorf("scenario %q: no executor registered for %q", name, scenario.Executor)
	}

	input := factory.NewInput()
	if scenario.Options.Kind != 0 {
		if err := scenario.Options.Decode(input); err != nil {
			return nil, fmt.Errorf("scenario %q: failed to decode options: %w", name, err)
		}
	}
	if factory.Validate != nil {
		if err := factory.Validate(name, input); err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context) (Runner, error) {
		return factory.New(ctx, name, input)
	}, nil
}
