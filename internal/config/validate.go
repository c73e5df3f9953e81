package config

import (
	"errors"
	"fmt"
)

// Validate checks the structural invariants of a loaded plan. Criterion
// condition syntax is checked separately by the criteria package.
func (m *Model) Validate() error {
	var errs []error

	if len(m.Executions) == 0 {
		errs = append(errs, errors.New("plan defines no execution blocks"))
	}
	for i, exec := range m.Executions {
		if exec.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("execution[%d]: concurrency must be at least 1, got %d", i, exec.Concurrency))
		}
		if exec.Scenario == "" {
			errs = append(errs, fmt.Errorf("execution[%d]: scenario reference is required", i))
			continue
		}
		if _, ok := m.Scenarios[exec.Scenario]; !ok {
			errs = append(errs, fmt.Errorf("execution[%d]: scenario %q is not defined", i, exec.Scenario))
		}
		if exec.HoldFor <= 0 && exec.Iterations <= 0 {
			errs = append(errs, fmt.Errorf("execution[%d]: either hold-for or iterations must be set", i))
		}
		if exec.RampUp < 0 {
			errs = append(errs, fmt.Errorf("execution[%d]: ramp-up must not be negative", i))
		}
	}

	for i, svc := range m.Services {
		// A prepare hook that starts a process must have a matching shutdown:
		// the load target would otherwise outlive the run.
		if len(svc.Prepare) > 0 && len(svc.PostProcess) == 0 {
			errs = append(errs, fmt.Errorf("services[%d]: prepare hooks require matching post-process hooks", i))
		}
		if svc.WaitFor != "" && svc.WaitTimeout < 0 {
			errs = append(errs, fmt.Errorf("services[%d]: wait-timeout must not be negative", i))
		}
	}

	if m.Monitoring != nil {
		for _, metric := range m.Monitoring.Metrics {
			if !KnownMonitoringMetrics[metric] {
				errs = append(errs, fmt.Errorf("monitoring: unknown metric %q", metric))
			}
		}
		if m.Monitoring.Interval < 0 {
			errs = append(errs, errors.New("monitoring: interval must not be negative"))
		}
	}

	return errors.Join(errs...)
}
