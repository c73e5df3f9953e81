package criteria

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/monitor"
	"github.com/vk/perfgate/internal/stats"
)

func boolPtr(b bool) *bool { return &b }

func TestParse_StructuredForm(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	spec := &config.CriterionSpec{
		Condition: "succ < 100",
		Timeframe: config.Duration(10 * time.Second),
		Stop:      boolPtr(true),
		Fail:      boolPtr(false),
	}

	// --- Act ---
	c, err := Parse(spec)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, c.Timeframe)
	require.True(t, c.Stop)
	require.False(t, c.Fail)
	require.Equal(t, []string{"succ"}, c.Variables())
}

func TestParse_ShortForm(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		raw       string
		timeframe time.Duration
		stop      bool
		fail      bool
	}{
		{"full", "avg_rt>2500 for 10s, stop as failed", 10 * time.Second, true, true},
		{"continue non-failed", "hits = 0 for 30s, continue as non-failed", 30 * time.Second, false, false},
		{"no flags", "total_procs > 120 for 5s", 5 * time.Second, true, true},
		{"no timeframe", "sum_all_memory_rss > 419430400", 0, true, true},
		{"hyphenated alias", "p90-rt>=1000 for 7s, stop as failed", 7 * time.Second, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, err := Parse(&config.CriterionSpec{Short: tc.raw})

			require.NoError(t, err)
			require.Equal(t, tc.timeframe, c.Timeframe)
			require.Equal(t, tc.stop, c.Stop)
			require.Equal(t, tc.fail, c.Fail)
		})
	}
}

func TestParse_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		spec *config.CriterionSpec
		want string
	}{
		{"unknown variable", &config.CriterionSpec{Condition: "cpu_pct > 90"}, `unknown variable "cpu_pct"`},
		{"empty", &config.CriterionSpec{}, "no condition"},
		{"bad timeframe", &config.CriterionSpec{Short: "succ < 100 for ten seconds"}, "invalid timeframe"},
		{"bad flags", &config.CriterionSpec{Short: "succ < 100, halt as failed"}, `invalid action "halt"`},
		{"bad verdict", &config.CriterionSpec{Short: "succ < 100, stop as broken"}, `invalid verdict`},
		{"syntax error", &config.CriterionSpec{Condition: "succ <"}, "invalid condition"},
		{"timeframe beyond retention", &config.CriterionSpec{Condition: "hits > 0", Timeframe: config.Duration(15 * time.Minute)}, "exceeds the 10m0s aggregation window"},
		{"short timeframe beyond retention", &config.CriterionSpec{Short: "avg_rt>100 for 11m"}, "exceeds the 10m0s aggregation window"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tc.spec)

			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCriterion_BreachWindow(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	c, err := Parse(&config.CriterionSpec{Short: "avg_rt>100 for 10s, stop as failed"})
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	breach := map[string]cty.Value{VarAvgRT: cty.NumberFloatVal(250)}
	healthy := map[string]cty.Value{VarAvgRT: cty.NumberFloatVal(50)}

	// --- Act / Assert ---
	// Breach begins but the window has not elapsed.
	triggered, err := c.Evaluate(breach, now)
	require.NoError(t, err)
	require.False(t, triggered)

	triggered, err = c.Evaluate(breach, now.Add(5*time.Second))
	require.NoError(t, err)
	require.False(t, triggered)

	// Recovery resets the window.
	triggered, err = c.Evaluate(healthy, now.Add(6*time.Second))
	require.NoError(t, err)
	require.False(t, triggered)

	// A fresh breach must last the full timeframe again.
	_, err = c.Evaluate(breach, now.Add(7*time.Second))
	require.NoError(t, err)
	triggered, err = c.Evaluate(breach, now.Add(17*time.Second))
	require.NoError(t, err)
	require.True(t, triggered)
	require.True(t, c.Triggered())
	require.Equal(t, now.Add(17*time.Second), c.TriggeredAt())

	// Triggered criteria stay triggered and do not re-fire.
	triggered, err = c.Evaluate(breach, now.Add(18*time.Second))
	require.NoError(t, err)
	require.False(t, triggered)
	require.True(t, c.Triggered())
}

func TestCriterion_ZeroTimeframeTriggersImmediately(t *testing.T) {
	t.Parallel()

	c, err := Parse(&config.CriterionSpec{Condition: "errors > 0"})
	require.NoError(t, err)

	triggered, err := c.Evaluate(map[string]cty.Value{VarErrors: cty.NumberIntVal(1)}, time.Now())

	require.NoError(t, err)
	require.True(t, triggered)
}

func TestCriterion_NeedsMonitoring(t *testing.T) {
	t.Parallel()

	kpiOnly, err := Parse(&config.CriterionSpec{Condition: "succ < 100"})
	require.NoError(t, err)
	withGauges, err := Parse(&config.CriterionSpec{Condition: "total_fds > 1024 && hits > 0"})
	require.NoError(t, err)

	require.False(t, kpiOnly.NeedsMonitoring())
	require.True(t, withGauges.NeedsMonitoring())
}

func TestBuildVariables_MonitoringAliases(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	w := stats.Window{Hits: 10, Errors: 1, SuccessPct: 90, AvgRT: 12.5}
	gauges := &monitor.Gauges{Processes: 42, FileDescriptors: 500, ResidentBytes: 1 << 20}

	// --- Act ---
	vars := BuildVariables(w, gauges, nil)

	// --- Assert ---
	require.Equal(t, vars["total_procs"], vars[config.MetricTotalProcesses])
	require.Equal(t, vars["total_fds"], vars[config.MetricTotalFDs])
	require.Equal(t, vars["total_mem"], vars[config.MetricTotalMemRSS])

	procs, _ := vars["total_procs"].AsBigFloat().Int64()
	require.Equal(t, int64(42), procs)

	// Without gauges, monitoring variables are absent entirely.
	bare := BuildVariables(w, nil, nil)
	_, ok := bare["total_mem"]
	require.False(t, ok)
}

func TestBuildVariables_MetricSelection(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	gauges := &monitor.Gauges{Processes: 42, FileDescriptors: 500, ResidentBytes: 1 << 20}
	memOnly := (&config.Monitoring{Metrics: []string{config.MetricTotalMemRSS}}).EnabledMetrics()

	// --- Act ---
	vars := BuildVariables(stats.Window{}, gauges, func(metric string) bool { return memOnly[metric] })

	// --- Assert ---
	require.Contains(t, vars, "total_mem")
	require.Contains(t, vars, config.MetricTotalMemRSS)
	require.NotContains(t, vars, "total_procs")
	require.NotContains(t, vars, config.MetricTotalFDs)
}

func TestCriterion_MonitoringMetrics(t *testing.T) {
	t.Parallel()

	c, err := Parse(&config.CriterionSpec{Condition: "total_mem > 0 && sum_all_memory_rss > 0 && total_fds > 0"})
	require.NoError(t, err)

	require.Equal(t, []string{config.MetricTotalFDs, config.MetricTotalMemRSS}, c.MonitoringMetrics())
}

func TestEngine_TickStopsOnBreach(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	stopC, err := ParseAll([]*config.CriterionSpec{
		{Short: "succ < 50"},
		{Condition: "hits > 1000", Stop: boolPtr(false), Fail: boolPtr(false)},
	})
	require.NoError(t, err)

	succ := 100.0
	source := func(window time.Duration) map[string]cty.Value {
		return BuildVariables(stats.Window{SuccessPct: succ}, nil, nil)
	}
	engine := NewEngine(stopC, source)
	ctx := context.Background()

	// --- Act / Assert ---
	require.False(t, engine.Tick(ctx, time.Now()))
	require.False(t, engine.Failed())

	succ = 10
	require.True(t, engine.Tick(ctx, time.Now()))
	require.True(t, engine.Failed())

	results := engine.Results()
	require.Len(t, results, 2)
	require.True(t, results[0].Triggered)
	require.False(t, results[1].Triggered)
}
