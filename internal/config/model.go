package config

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader is the interface for a format-specific plan loader.
type Loader interface {
	// Load reads one or more plan files, resolves variable placeholders,
	// and merges the documents into a single model.
	Load(ctx context.Context, paths ...string) (*Model, error)
}

// Model is the unified representation of an entire test plan.
type Model struct {
	Settings   Settings
	Executions []*Execution
	Scenarios  map[string]*Scenario
	Services   []*Service
	Monitoring *Monitoring
	Criteria   []*CriterionSpec
}

// Settings holds engine-level knobs.
type Settings struct {
	CheckInterval Duration `yaml:"check-interval"`
}

// DefaultCheckInterval is the criteria evaluation cadence when the plan does
// not set one.
const DefaultCheckInterval = time.Second

// EffectiveCheckInterval returns the configured cadence or the default.
func (s Settings) EffectiveCheckInterval() time.Duration {
	if s.CheckInterval <= 0 {
		return DefaultCheckInterval
	}
	return time.Duration(s.CheckInterval)
}

// Execution describes one load block: how many virtual users, how fast they
// start, and how long they hold at full concurrency.
type Execution struct {
	Concurrency int      `yaml:"concurrency"`
	RampUp      Duration `yaml:"ramp-up"`
	HoldFor     Duration `yaml:"hold-for"`
	Iterations  int      `yaml:"iterations"`
	Scenario    string   `yaml:"scenario"`
}

// Scenario names an executor module and carries the module-specific options
// as the raw document node, decoded later against the module's input struct.
type Scenario struct {
	Executor string
	Options  yaml.Node
}

// DefaultExecutor is assumed when a scenario does not name one.
const DefaultExecutor = "http"

// UnmarshalYAML keeps the whole mapping node for the executor module to
// decode, extracting only the executor selector here.
func (s *Scenario) UnmarshalYAML(value *yaml.Node) error {
	var selector struct {
		Executor string `yaml:"executor"`
	}
	if err := value.Decode(&selector); err != nil {
		return err
	}
	s.Executor = selector.Executor
	if s.Executor == "" {
		s.Executor = DefaultExecutor
	}
	s.Options = *value
	return nil
}

// Service describes shell hooks that bracket the load: prepare commands run
// before, post-process commands run after (even on failure).
type Service struct {
	Module      string   `yaml:"module"`
	Prepare     []string `yaml:"prepare"`
	PostProcess []string `yaml:"post-process"`
	WaitFor     string   `yaml:"wait-for"`
	WaitTimeout Duration `yaml:"wait-timeout"`
}

// Monitoring configures the local OS metrics poller.
type Monitoring struct {
	Interval       Duration `yaml:"interval"`
	ProcessPattern string   `yaml:"process-pattern"`
	Metrics        []string `yaml:"metrics"`
}

// Known monitoring metric names.
const (
	MetricTotalProcesses = "total_processes"
	MetricTotalFDs       = "sum_all_file_descriptors"
	MetricTotalMemRSS    = "sum_all_memory_rss"
)

// KnownMonitoringMetrics is the set of metric names the poller can produce.
var KnownMonitoringMetrics = map[string]bool{
	MetricTotalProcesses: true,
	MetricTotalFDs:       true,
	MetricTotalMemRSS:    true,
}

// EnabledMetrics returns the selected metric set. An empty metrics list
// selects everything the poller can produce.
func (m *Monitoring) EnabledMetrics() map[string]bool {
	enabled := make(map[string]bool, len(KnownMonitoringMetrics))
	if len(m.Metrics) == 0 {
		for name := range KnownMonitoringMetrics {
			enabled[name] = true
		}
		return enabled
	}
	for _, name := range m.Metrics {
		enabled[name] = true
	}
	return enabled
}

// CriterionSpec is one pass/fail rule before parsing. It arrives either as a
// structured mapping or as a Taurus-style short-form string.
type CriterionSpec struct {
	Condition string   `yaml:"condition"`
	Timeframe Duration `yaml:"timeframe"`
	Stop      *bool    `yaml:"stop"`
	Fail      *bool    `yaml:"fail"`

	// Short holds the raw string when the criterion was given in short form,
	// e.g. "avg_rt>2500 for 10s, stop as failed".
	Short string `yaml:"-"`
}

// UnmarshalYAML accepts both the scalar short form and the mapping form.
func (c *CriterionSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&c.Short)
	}
	type plain CriterionSpec
	return value.Decode((*plain)(c))
}

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("30s") or a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}
