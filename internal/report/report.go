// Package report renders the final verdict of a run: a console summary and
// an optional machine-readable results file.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vk/perfgate/internal/criteria"
	"github.com/vk/perfgate/internal/monitor"
	"github.com/vk/perfgate/internal/stats"
)

// Summary is everything a run leaves behind.
type Summary struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
	KPI        stats.Window      `json:"kpi"`
	Criteria   []criteria.Result `json:"criteria"`
	Monitoring *monitor.Gauges   `json:"monitoring,omitempty"`
	Passed     bool              `json:"passed"`
}

// WriteConsole renders the human-readable summary.
func (s *Summary) WriteConsole(w io.Writer) {
	verdict := "PASSED"
	if !s.Passed {
		verdict = "FAILED"
	}

	fmt.Fprintf(w, "\nRun %s %s in %s\n", s.RunID, verdict, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  hits: %d  errors: %d  success: %.2f%%\n", s.KPI.Hits, s.KPI.Errors, s.KPI.SuccessPct)
	fmt.Fprintf(w, "  latency ms: avg %.1f  p50 %.1f  p90 %.1f  p99 %.1f\n", s.KPI.AvgRT, s.KPI.P50RT, s.KPI.P90RT, s.KPI.P99RT)

	if s.Monitoring != nil {
		fmt.Fprintf(w, "  monitored: %d processes, %d fds, %d bytes rss\n",
			s.Monitoring.Processes, s.Monitoring.FileDescriptors, s.Monitoring.ResidentBytes)
	}

	if len(s.Criteria) == 0 {
		return
	}
	fmt.Fprintln(w, "  criteria:")
	for _, result := range s.Criteria {
		state := "ok"
		if result.Triggered {
			state = fmt.Sprintf("TRIGGERED at %s", result.TriggeredAt.Format(time.RFC3339))
		}
		fmt.Fprintf(w, "    [%s] %s\n", state, result.Criterion)
	}
}

// WriteJSON writes the summary to the given path.
func (s *Summary) WriteJSON(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report %q: %w", path, err)
	}
	return nil
}
