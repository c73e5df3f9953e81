// Package monitor polls local OS metrics during a run: process count,
// aggregate open file descriptors, and aggregate resident memory, optionally
// restricted to the process tree of the system under test.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/ctxlog"
)

// Gauges is one snapshot of the monitored metrics.
type Gauges struct {
	Processes       int
	FileDescriptors int
	ResidentBytes   uint64
	SampledAt       time.Time
}

// Reader produces one gauge snapshot per call.
type Reader interface {
	Read() (Gauges, error)
}

// DefaultInterval applies when the plan enables monitoring without an interval.
const DefaultInterval = 5 * time.Second

// Monitor runs a Reader on a fixed interval and publishes the latest snapshot.
type Monitor struct {
	reader   Reader
	interval time.Duration
	enabled  map[string]bool

	mu     sync.RWMutex
	latest *Gauges

	// OnSample, when set, is invoked with every successful snapshot. Used to
	// feed the live metrics endpoint.
	OnSample func(Gauges)
}

// New creates a monitor from the plan's monitoring block.
func New(reader Reader, cfg *config.Monitoring) *Monitor {
	interval := cfg.Interval.D()
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Monitor{reader: reader, interval: interval, enabled: cfg.EnabledMetrics()}
}

// Enabled reports whether the plan asked for the given metric.
func (m *Monitor) Enabled(name string) bool {
	return m.enabled[name]
}

// Latest returns the most recent snapshot, or nil before the first poll
// succeeds.
func (m *Monitor) Latest() *Gauges {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Run polls immediately and then on every interval tick until ctx is
// cancelled. Read errors are logged and the previous snapshot is kept.
func (m *Monitor) Run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Monitor started.", "interval", m.interval)

	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Monitor stopped.")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	gauges, err := m.reader.Read()
	if err != nil {
		logger.Warn("Monitoring poll failed.", "error", err)
		return
	}

	// Metrics the plan did not ask for are dropped from the snapshot.
	if !m.Enabled(config.MetricTotalProcesses) {
		gauges.Processes = 0
	}
	if !m.Enabled(config.MetricTotalFDs) {
		gauges.FileDescriptors = 0
	}
	if !m.Enabled(config.MetricTotalMemRSS) {
		gauges.ResidentBytes = 0
	}
	logger.Debug("Monitoring poll.",
		"total_processes", gauges.Processes,
		"sum_all_file_descriptors", gauges.FileDescriptors,
		"sum_all_memory_rss", gauges.ResidentBytes,
	)

	m.mu.Lock()
	m.latest = &gauges
	m.mu.Unlock()

	if m.OnSample != nil {
		m.OnSample(gauges)
	}
}
