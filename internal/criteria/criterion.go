// Package criteria implements the pass/fail rules of a run: HCL conditions
// evaluated on a fixed cadence against KPI and monitoring variables, with a
// breach window that must elapse before a criterion triggers.
package criteria

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/monitor"
	"github.com/vk/perfgate/internal/stats"
)

// KPI variable names exposed to conditions.
const (
	VarSuccess = "succ"
	VarFail    = "fail"
	VarHits    = "hits"
	VarErrors  = "errors"
	VarBytes   = "bytes"
	VarAvgRT   = "avg_rt"
	VarP50RT   = "p50_rt"
	VarP90RT   = "p90_rt"
	VarP99RT   = "p99_rt"
)

// monitoringVarMetrics maps each monitoring condition variable (including
// the short aliases the original thresholds were written against) to the
// metric that produces it.
var monitoringVarMetrics = map[string]string{
	config.MetricTotalProcesses: config.MetricTotalProcesses,
	config.MetricTotalFDs:       config.MetricTotalFDs,
	config.MetricTotalMemRSS:    config.MetricTotalMemRSS,
	"total_procs":               config.MetricTotalProcesses,
	"total_fds":                 config.MetricTotalFDs,
	"total_mem":                 config.MetricTotalMemRSS,
}

var kpiVariables = map[string]bool{
	VarSuccess: true,
	VarFail:    true,
	VarHits:    true,
	VarErrors:  true,
	VarBytes:   true,
	VarAvgRT:   true,
	VarP50RT:   true,
	VarP90RT:   true,
	VarP99RT:   true,
}

// Criterion is one compiled pass/fail rule plus its evaluation state.
type Criterion struct {
	Raw       string
	Timeframe time.Duration
	Stop      bool
	Fail      bool

	expr hcl.Expression

	breachSince time.Time
	triggered   bool
	triggeredAt time.Time
}

// compile parses the condition and checks that every referenced variable is
// one the engine can supply.
func compile(condition string) (hcl.Expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(condition), "criteria", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid condition %q: %w", condition, diags)
	}
	for _, traversal := range expr.Variables() {
		name := traversal.RootName()
		if _, isMonitoring := monitoringVarMetrics[name]; !kpiVariables[name] && !isMonitoring {
			return nil, fmt.Errorf("condition %q references unknown variable %q", condition, name)
		}
	}
	return expr, nil
}

// Variables returns the names referenced by the condition, sorted.
func (c *Criterion) Variables() []string {
	seen := make(map[string]bool)
	for _, traversal := range c.expr.Variables() {
		seen[traversal.RootName()] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MonitoringMetrics returns the monitoring metrics the condition reads,
// sorted and deduplicated across aliases.
func (c *Criterion) MonitoringMetrics() []string {
	seen := make(map[string]bool)
	for _, name := range c.Variables() {
		if metric, ok := monitoringVarMetrics[name]; ok {
			seen[metric] = true
		}
	}
	metrics := make([]string, 0, len(seen))
	for metric := range seen {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	return metrics
}

// NeedsMonitoring reports whether the condition reads monitoring gauges.
func (c *Criterion) NeedsMonitoring() bool {
	return len(c.MonitoringMetrics()) > 0
}

// Evaluate checks the condition against the given variables and advances the
// breach window. It returns true on the tick the criterion triggers.
// A triggered criterion stays triggered.
func (c *Criterion) Evaluate(vars map[string]cty.Value, now time.Time) (bool, error) {
	if c.triggered {
		return false, nil
	}

	val, diags := c.expr.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return false, fmt.Errorf("failed to evaluate %q: %w", c.Raw, diags)
	}
	val, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition %q is not boolean: %w", c.Raw, err)
	}

	if val.False() {
		c.breachSince = time.Time{}
		return false, nil
	}

	if c.breachSince.IsZero() {
		c.breachSince = now
	}
	if now.Sub(c.breachSince) >= c.Timeframe {
		c.triggered = true
		c.triggeredAt = now
		return true, nil
	}
	return false, nil
}

// Triggered reports whether the criterion has fired.
func (c *Criterion) Triggered() bool {
	return c.triggered
}

// TriggeredAt returns the trigger time (zero when not triggered).
func (c *Criterion) TriggeredAt() time.Time {
	return c.triggeredAt
}

// BuildVariables assembles the evaluation scope from a KPI window and the
// latest monitoring gauges. gauges may be nil when monitoring is disabled,
// and enabled (nil means everything) restricts the exposed metrics to the
// plan's selection; conditions referencing an absent variable then fail to
// evaluate, which validation prevents up front.
func BuildVariables(w stats.Window, gauges *monitor.Gauges, enabled func(metric string) bool) map[string]cty.Value {
	vars := map[string]cty.Value{
		VarSuccess: cty.NumberFloatVal(w.SuccessPct),
		VarFail:    cty.NumberFloatVal(100 - w.SuccessPct),
		VarHits:    cty.NumberIntVal(int64(w.Hits)),
		VarErrors:  cty.NumberIntVal(int64(w.Errors)),
		VarBytes:   cty.NumberIntVal(w.Bytes),
		VarAvgRT:   cty.NumberFloatVal(w.AvgRT),
		VarP50RT:   cty.NumberFloatVal(w.P50RT),
		VarP90RT:   cty.NumberFloatVal(w.P90RT),
		VarP99RT:   cty.NumberFloatVal(w.P99RT),
	}
	if gauges != nil {
		include := func(metric string) bool { return enabled == nil || enabled(metric) }
		if include(config.MetricTotalProcesses) {
			procs := cty.NumberIntVal(int64(gauges.Processes))
			vars[config.MetricTotalProcesses] = procs
			vars["total_procs"] = procs
		}
		if include(config.MetricTotalFDs) {
			fds := cty.NumberIntVal(int64(gauges.FileDescriptors))
			vars[config.MetricTotalFDs] = fds
			vars["total_fds"] = fds
		}
		if include(config.MetricTotalMemRSS) {
			mem := cty.NumberIntVal(int64(gauges.ResidentBytes))
			vars[config.MetricTotalMemRSS] = mem
			vars["total_mem"] = mem
		}
	}
	return vars
}
