// Package stats aggregates per-iteration KPI samples into per-second buckets
// and serves windowed aggregates to the criteria engine and final report.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Sample is the result of a single scenario iteration element (one request,
// one emitted event, ...).
type Sample struct {
	Scenario string
	Label    string
	Start    time.Time
	Latency  time.Duration
	Bytes    int64
	Status   int
	Error    string
}

// OK reports whether the sample represents a successful iteration element.
func (s Sample) OK() bool {
	return s.Error == ""
}

// Recorder consumes samples as they are produced by virtual users.
type Recorder interface {
	Record(Sample)
}

// MultiRecorder fans each sample out to every wrapped recorder.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(s Sample) {
	for _, r := range m {
		r.Record(s)
	}
}

// Window is an aggregate over a time span.
type Window struct {
	Hits       int
	Errors     int
	Bytes      int64
	SuccessPct float64
	AvgRT      float64 // milliseconds
	P50RT      float64
	P90RT      float64
	P99RT      float64
}

// bucket accumulates samples that started within the same wall-clock second.
type bucket struct {
	hits      int
	errors    int
	bytes     int64
	latencies []time.Duration
}

func (b *bucket) add(s Sample) {
	b.hits++
	if !s.OK() {
		b.errors++
	}
	b.bytes += s.Bytes
	b.latencies = append(b.latencies, s.Latency)
}

// Retention bounds how far back windowed queries can reach. Criteria
// timeframes beyond this are rejected when the criteria are parsed.
const Retention = 10 * time.Minute

// Aggregator is a thread-safe sliding-window KPI store.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	total   bucket
	now     func() time.Time
}

// NewAggregator creates an empty aggregator using the wall clock.
func NewAggregator() *Aggregator {
	return newAggregator(time.Now)
}

func newAggregator(now func() time.Time) *Aggregator {
	return &Aggregator{
		buckets: make(map[int64]*bucket),
		now:     now,
	}
}

// Record implements Recorder.
func (a *Aggregator) Record(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sec := s.Start.Unix()
	b, ok := a.buckets[sec]
	if !ok {
		b = &bucket{}
		a.buckets[sec] = b
		a.prune()
	}
	b.add(s)
	a.total.add(s)
}

// prune drops buckets that fell out of the retention span. Caller holds the lock.
func (a *Aggregator) prune() {
	floor := a.now().Add(-Retention).Unix()
	for sec := range a.buckets {
		if sec < floor {
			delete(a.buckets, sec)
		}
	}
}

// Window aggregates the trailing span d. A non-positive d returns the
// cumulative aggregate for the whole run.
func (a *Aggregator) Window(d time.Duration) Window {
	a.mu.Lock()
	defer a.mu.Unlock()

	if d <= 0 {
		return summarize(&a.total)
	}

	floor := a.now().Add(-d).Unix()
	var agg bucket
	for sec, b := range a.buckets {
		if sec < floor {
			continue
		}
		agg.hits += b.hits
		agg.errors += b.errors
		agg.bytes += b.bytes
		agg.latencies = append(agg.latencies, b.latencies...)
	}
	return summarize(&agg)
}

// Cumulative returns the aggregate over the whole run.
func (a *Aggregator) Cumulative() Window {
	return a.Window(0)
}

func summarize(b *bucket) Window {
	w := Window{
		Hits:   b.hits,
		Errors: b.errors,
		Bytes:  b.bytes,
	}
	// No traffic yet: report a clean success ratio so that criteria like
	// "succ < 95" do not fire before the first sample arrives.
	if b.hits == 0 {
		w.SuccessPct = 100
		return w
	}
	w.SuccessPct = float64(b.hits-b.errors) / float64(b.hits) * 100

	sorted := make([]time.Duration, len(b.latencies))
	copy(sorted, b.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	w.AvgRT = toMillis(sum) / float64(len(sorted))
	w.P50RT = toMillis(percentile(sorted, 50))
	w.P90RT = toMillis(percentile(sorted, 90))
	w.P99RT = toMillis(percentile(sorted, 99))
	return w
}

// percentile returns the nearest-rank percentile of a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
