package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/require"

	"github.com/vk/perfgate/internal/config"
)

// fakeReader returns canned snapshots, failing when told to.
type fakeReader struct {
	mu     sync.Mutex
	gauges Gauges
	err    error
	polls  int
}

func (f *fakeReader) Read() (Gauges, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.err != nil {
		return Gauges{}, f.err
	}
	return f.gauges, nil
}

func TestMonitor_PublishesLatestSnapshot(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	reader := &fakeReader{gauges: Gauges{Processes: 7, FileDescriptors: 300, ResidentBytes: 1 << 24}}
	m := New(reader, &config.Monitoring{Interval: config.Duration(10 * time.Millisecond)})

	var sampled []Gauges
	var mu sync.Mutex
	m.OnSample = func(g Gauges) {
		mu.Lock()
		sampled = append(sampled, g)
		mu.Unlock()
	}

	require.Nil(t, m.Latest(), "no snapshot before the first poll")

	// --- Act ---
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	// --- Assert ---
	latest := m.Latest()
	require.NotNil(t, latest)
	require.Equal(t, 7, latest.Processes)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(sampled), 2, "expected the immediate poll plus at least one tick")
}

func TestMonitor_KeepsPreviousSnapshotOnError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	reader := &fakeReader{gauges: Gauges{Processes: 3}}
	m := New(reader, &config.Monitoring{})

	// First poll succeeds, second fails.
	m.poll(context.Background())
	reader.mu.Lock()
	reader.err = errors.New("proc went away")
	reader.mu.Unlock()

	// --- Act ---
	m.poll(context.Background())

	// --- Assert ---
	latest := m.Latest()
	require.NotNil(t, latest)
	require.Equal(t, 3, latest.Processes)
}

func TestMonitor_MetricSelection(t *testing.T) {
	t.Parallel()

	all := New(&fakeReader{}, &config.Monitoring{})
	require.True(t, all.Enabled(config.MetricTotalProcesses))
	require.True(t, all.Enabled(config.MetricTotalFDs))
	require.True(t, all.Enabled(config.MetricTotalMemRSS))

	subset := New(&fakeReader{}, &config.Monitoring{Metrics: []string{config.MetricTotalMemRSS}})
	require.True(t, subset.Enabled(config.MetricTotalMemRSS))
	require.False(t, subset.Enabled(config.MetricTotalProcesses))
}

func TestMonitor_DropsUnselectedMetrics(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	reader := &fakeReader{gauges: Gauges{Processes: 5, FileDescriptors: 100, ResidentBytes: 1 << 20}}
	m := New(reader, &config.Monitoring{Metrics: []string{config.MetricTotalMemRSS}})

	// --- Act ---
	m.poll(context.Background())

	// --- Assert ---
	latest := m.Latest()
	require.NotNil(t, latest)
	require.Equal(t, uint64(1<<20), latest.ResidentBytes)
	require.Zero(t, latest.Processes)
	require.Zero(t, latest.FileDescriptors)
}

func TestNewProcReader_InvalidPattern(t *testing.T) {
	t.Parallel()

	if _, err := procfs.NewFS(procfs.DefaultMountPoint); err != nil {
		t.Skip("procfs not available on this platform")
	}

	_, err := NewProcReader("(unclosed")

	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid process-pattern")
}

func TestProcReader_ReadsHostGauges(t *testing.T) {
	t.Parallel()

	if _, err := procfs.NewFS(procfs.DefaultMountPoint); err != nil {
		t.Skip("procfs not available on this platform")
	}

	// --- Arrange ---
	reader, err := NewProcReader("")
	require.NoError(t, err)

	// --- Act ---
	gauges, err := reader.Read()

	// --- Assert ---
	require.NoError(t, err)
	// This test process exists, so the host view is never empty.
	require.Greater(t, gauges.Processes, 0)
	require.Greater(t, gauges.ResidentBytes, uint64(0))
}
