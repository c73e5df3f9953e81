package criteria

import (
	"context"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/perfgate/internal/ctxlog"
)

// Source supplies the evaluation scope for one criterion. The window is the
// criterion's timeframe; a zero window means the cumulative run aggregate.
type Source func(window time.Duration) map[string]cty.Value

// Result is the final verdict of one criterion.
type Result struct {
	Criterion   string    `json:"criterion"`
	Triggered   bool      `json:"triggered"`
	TriggeredAt time.Time `json:"triggered_at,omitempty"`
	Stop        bool      `json:"stop"`
	Fail        bool      `json:"fail"`
}

// Engine drives all criteria of a run on a fixed cadence.
type Engine struct {
	criteria []*Criterion
	source   Source
}

// NewEngine creates an engine over compiled criteria.
func NewEngine(criteria []*Criterion, source Source) *Engine {
	return &Engine{criteria: criteria, source: source}
}

// Tick evaluates every criterion once. It returns true when a newly
// triggered criterion requests the run to stop.
func (e *Engine) Tick(ctx context.Context, now time.Time) bool {
	logger := ctxlog.FromContext(ctx)

	stop := false
	for _, c := range e.criteria {
		triggered, err := c.Evaluate(e.source(c.Timeframe), now)
		if err != nil {
			logger.Warn("Criterion evaluation failed.", "criterion", c.Raw, "error", err)
			continue
		}
		if !triggered {
			continue
		}
		logger.Error("Criterion triggered.", "criterion", c.Raw, "stop", c.Stop, "fail", c.Fail)
		if c.Stop {
			stop = true
		}
	}
	return stop
}

// Run evaluates on every interval tick until ctx is cancelled, invoking
// stopRun when a stop criterion triggers.
func (e *Engine) Run(ctx context.Context, interval time.Duration, stopRun context.CancelFunc) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Criteria engine started.", "interval", interval, "criteria", len(e.criteria))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Criteria engine stopped.")
			return
		case now := <-ticker.C:
			if e.Tick(ctx, now) {
				logger.Info("Stopping run on criteria breach.")
				stopRun()
			}
		}
	}
}

// Failed reports whether any fail-flagged criterion triggered.
func (e *Engine) Failed() bool {
	for _, c := range e.criteria {
		if c.Triggered() && c.Fail {
			return true
		}
	}
	return false
}

// Results returns the verdict of every criterion.
func (e *Engine) Results() []Result {
	results := make([]Result, 0, len(e.criteria))
	for _, c := range e.criteria {
		results = append(results, Result{
			Criterion:   c.Raw,
			Triggered:   c.Triggered(),
			TriggeredAt: c.TriggeredAt(),
			Stop:        c.Stop,
			Fail:        c.Fail,
		})
	}
	return results
}
