package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/criteria"
	"github.com/vk/perfgate/internal/ctxlog"
	"github.com/vk/perfgate/internal/registry"
	"github.com/vk/perfgate/modules/httprunner"
	"github.com/vk/perfgate/modules/socketiorunner"
)

// coreModules are the executors compiled into the binary.
var coreModules = []registry.Module{
	&httprunner.Module{},
	&socketiorunner.Module{},
}

// App encapsulates one run's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	runID    string
	model    *config.Model
	criteria []*criteria.Criterion
	makers   []func(context.Context) (registry.Runner, error)
}

// NewApp loads and validates the plan and returns a fully initialized App.
// Plan errors are fatal startup errors and panic; the entrypoint recovers
// them into a clean exit, and library callers should do the same.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader, modules ...registry.Module) *App {
	runID := uuid.NewString()[:8]
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW).With("run_id", runID)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, appConfig.PlanPaths...)
	if err != nil {
		panic(fmt.Errorf("failed to load plan: %w", err))
	}
	if err := model.Validate(); err != nil {
		panic(fmt.Errorf("invalid plan: %w", err))
	}
	logger.Debug("Plan loaded and validated.",
		"executions", len(model.Executions),
		"scenarios", len(model.Scenarios),
		"criteria", len(model.Criteria),
	)

	compiled, err := criteria.ParseAll(model.Criteria)
	if err != nil {
		panic(fmt.Errorf("invalid plan: %w", err))
	}
	for _, c := range compiled {
		if c.NeedsMonitoring() && model.Monitoring == nil {
			panic(fmt.Errorf("invalid plan: criterion %q needs the monitoring module, which is not configured", c.Raw))
		}
		if model.Monitoring == nil {
			continue
		}
		enabled := model.Monitoring.EnabledMetrics()
		for _, metric := range c.MonitoringMetrics() {
			if !enabled[metric] {
				panic(fmt.Errorf("invalid plan: criterion %q reads metric %q, which monitoring does not collect", c.Raw, metric))
			}
		}
	}

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("Executor modules registered.", "executors", reg.Executors())

	// Resolve every execution's runner up front: a typo in a scenario or an
	// empty request list must surface before any hook touches the target.
	makers := make([]func(context.Context) (registry.Runner, error), len(model.Executions))
	for i, execution := range model.Executions {
		maker, err := reg.RunnerMaker(execution.Scenario, model.Scenarios[execution.Scenario])
		if err != nil {
			panic(fmt.Errorf("invalid plan: %w", err))
		}
		makers[i] = maker
	}

	return &App{
		outW:     outW,
		logger:   logger,
		runID:    runID,
		model:    model,
		criteria: compiled,
		makers:   makers,
	}
}

// RunID returns the run's identifier.
func (a *App) RunID() string {
	return a.runID
}

// Model returns the loaded plan. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}
