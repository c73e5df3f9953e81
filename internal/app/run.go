package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/perfgate/internal/criteria"
	"github.com/vk/perfgate/internal/ctxlog"
	"github.com/vk/perfgate/internal/hooks"
	"github.com/vk/perfgate/internal/monitor"
	"github.com/vk/perfgate/internal/report"
	"github.com/vk/perfgate/internal/scheduler"
	"github.com/vk/perfgate/internal/stats"
	"github.com/vk/perfgate/internal/telemetry"
)

// CriteriaError reports a run that completed but breached fail criteria.
type CriteriaError struct {
	Triggered []string
}

// Error implements the error interface.
func (e *CriteriaError) Error() string {
	return fmt.Sprintf("run failed on criteria: %s", strings.Join(e.Triggered, "; "))
}

// postProcessTimeout bounds the teardown hooks, which run on their own
// context because the run context is usually cancelled by then.
const postProcessTimeout = time.Minute

// Run executes the loaded plan end to end.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	metrics := telemetry.New()
	aggregator := stats.NewAggregator()
	recorder := stats.MultiRecorder{aggregator, metrics}
	startedAt := time.Now()

	if appConfig.StatusPort > 0 {
		stop := a.startStatusServer(ctx, appConfig.StatusPort, metrics)
		defer stop()
	}

	hookRunner := hooks.New(a.model.Services, []string{"PERFGATE_RUN_ID=" + a.runID})
	if err := hookRunner.Prepare(ctx); err != nil {
		a.postProcess(hookRunner)
		return fmt.Errorf("prepare hooks failed: %w", err)
	}
	defer a.postProcess(hookRunner)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	var mon *monitor.Monitor
	if a.model.Monitoring != nil {
		reader, err := monitor.NewProcReader(a.model.Monitoring.ProcessPattern)
		if err != nil {
			return err
		}
		mon = monitor.New(reader, a.model.Monitoring)
		mon.OnSample = metrics.SetGauges
		go mon.Run(runCtx)
	}

	source := func(window time.Duration) map[string]cty.Value {
		var gauges *monitor.Gauges
		var enabled func(string) bool
		if mon != nil {
			gauges = mon.Latest()
			enabled = mon.Enabled
		}
		return criteria.BuildVariables(aggregator.Window(window), gauges, enabled)
	}
	engine := criteria.NewEngine(a.criteria, source)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(runCtx, a.model.Settings.EffectiveCheckInterval(), stopRun)
	}()

	a.logger.Info("Starting load.", "executions", len(a.model.Executions))
	var wg sync.WaitGroup
	errCh := make(chan error, len(a.model.Executions))
	for i, execution := range a.model.Executions {
		wg.Add(1)
		go func(sched *scheduler.Scheduler) {
			defer wg.Done()
			if err := sched.Run(runCtx); err != nil {
				errCh <- err
			}
		}(scheduler.New(execution, a.makers[i], recorder))
	}
	wg.Wait()
	close(errCh)
	execErr := <-errCh

	// Stop the periodic evaluation before the final pass so criterion state
	// is no longer shared, then judge the completed run once more: short
	// runs may finish between ticks.
	stopRun()
	<-engineDone
	engine.Tick(ctx, time.Now())

	summary := &report.Summary{
		RunID:     a.runID,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		KPI:       aggregator.Cumulative(),
		Criteria:  engine.Results(),
		Passed:    execErr == nil && !engine.Failed(),
	}
	if mon != nil {
		summary.Monitoring = mon.Latest()
	}
	summary.WriteConsole(a.outW)
	if appConfig.ReportPath != "" {
		if err := summary.WriteJSON(appConfig.ReportPath); err != nil {
			a.logger.Error("Failed to write results file.", "error", err)
		} else {
			a.logger.Info("Results written.", "path", appConfig.ReportPath)
		}
	}

	if execErr != nil {
		return fmt.Errorf("execution failed: %w", execErr)
	}
	if engine.Failed() {
		var triggered []string
		for _, result := range engine.Results() {
			if result.Triggered && result.Fail {
				triggered = append(triggered, result.Criterion)
			}
		}
		return &CriteriaError{Triggered: triggered}
	}
	a.logger.Info("Run passed.")
	return nil
}

// postProcess tears the target down on a fresh context so cleanup survives
// run cancellation.
func (a *App) postProcess(hookRunner *hooks.ShellExec) {
	ctx, cancel := context.WithTimeout(context.Background(), postProcessTimeout)
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if err := hookRunner.PostProcess(ctx); err != nil {
		a.logger.Error("Post-process hooks failed.", "error", err)
	}
}
