// Package metrics collects in-process operation statistics: handler timings,
// element-model cache hits, download counters, liveness probe outcomes.
// Recording is cheap and never returns errors; the dot-import helpers in
// export.go are the intended surface.
package metrics

import (
	"regexp"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
)

// maxSamples bounds the per-series ring used for percentiles.
const maxSamples = 1000

// Manager owns every series, keyed "topic/operation". One mutex guards the
// lot; recording is a map lookup and a few field writes.
type Manager struct {
	mu       sync.Mutex
	timings  map[string]*timingSeries
	hitMiss  map[string]*hitMissSeries
	counters map[string]*counterSeries
	outcomes map[string]*outcomeSeries

	persistPath  string
	stopAutosave chan struct{}
	saveWG       sync.WaitGroup
}

var (
	std     *Manager
	stdOnce sync.Once
)

// Default returns the process-wide manager.
func Default() *Manager {
	stdOnce.Do(func() { std = newManager() })
	return std
}

func newManager() *Manager {
	return &Manager{
		timings:  make(map[string]*timingSeries),
		hitMiss:  make(map[string]*hitMissSeries),
		counters: make(map[string]*counterSeries),
		outcomes: make(map[string]*outcomeSeries),
	}
}

func seriesKey(topic, op string) string {
	if op == "" {
		return topic
	}
	return topic + "/" + op
}

// ensure returns the series at key, creating a zero one on first use.
// Callers hold the manager mutex.
func ensure[S any](m map[string]*S, key string) *S {
	s, ok := m[key]
	if !ok {
		s = new(S)
		m[key] = s
	}
	return s
}

// RecordDuration folds one elapsed time into the series for topic/op.
func (m *Manager) RecordDuration(topic, op string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := ensure(m.timings, seriesKey(topic, op))
	if s.n == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.n++
	s.total += d
	s.last = d
	if len(s.ring) < maxSamples {
		s.ring = append(s.ring, d)
	} else {
		s.ring[s.next] = d
		s.next = (s.next + 1) % maxSamples
	}
}

// Timer starts a stopwatch for one operation. The returned stop function
// records the elapsed time once, no matter how often it is called.
func (m *Manager) Timer(topic, op string) func() {
	start := time.Now()
	var once sync.Once
	return func() {
		once.Do(func() { m.RecordDuration(topic, op, time.Since(start)) })
	}
}

// RecordHit counts a cache lookup served from the cache.
func (m *Manager) RecordHit(topic, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := ensure(m.hitMiss, seriesKey(topic, op))
	s.hits++
	s.lastHit = time.Now()
}

// RecordMiss counts a cache lookup that had to do the work.
func (m *Manager) RecordMiss(topic, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensure(m.hitMiss, seriesKey(topic, op)).misses++
}

// Increment bumps a plain counter.
func (m *Manager) Increment(topic, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := ensure(m.counters, seriesKey(topic, op))
	s.n++
	s.at = time.Now()
}

// RecordSuccess counts one successful operation.
func (m *Manager) RecordSuccess(topic, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensure(m.outcomes, seriesKey(topic, op)).record(true, "")
}

// RecordFailure counts one failed operation, tallied under reason when one
// is given.
func (m *Manager) RecordFailure(topic, op, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensure(m.outcomes, seriesKey(topic, op)).record(false, reason)
}

func (s *outcomeSeries) record(ok bool, reason string) {
	now := time.Now()
	if ok {
		s.ok++
		s.okAt = now
	} else {
		s.fail++
		s.failAt = now
		if reason != "" {
			if s.reasons == nil {
				s.reasons = make(map[string]int64)
			}
			s.reasons[reason]++
		}
	}
	s.window[s.wi] = ok
	s.wi = (s.wi + 1) % recentWindow
	if s.wn < recentWindow {
		s.wn++
	}
}

// GetSnapshot returns a point-in-time view of every series, keyed by path.
func (m *Manager) GetSnapshot() map[string]*MetricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*MetricSnapshot,
		len(m.timings)+len(m.hitMiss)+len(m.counters)+len(m.outcomes))
	for key, s := range m.timings {
		out[key] = s.snapshot()
	}
	for key, s := range m.hitMiss {
		out[key] = s.snapshot()
	}
	for key, s := range m.counters {
		out[key] = &MetricSnapshot{Health: HealthGood, Data: CounterSnapshot{Value: s.n}}
	}
	for key, s := range m.outcomes {
		out[key] = s.snapshot()
	}
	return out
}

func (s *timingSeries) snapshot() *MetricSnapshot {
	avg := float64(0)
	if s.n > 0 {
		avg = float64(s.total) / float64(s.n) / float64(time.Millisecond)
	}
	return &MetricSnapshot{
		Health: timingHealth(avg),
		Data: TimingSnapshot{
			Count:  s.n,
			AvgMs:  avg,
			MinMs:  float64(s.min) / float64(time.Millisecond),
			MaxMs:  float64(s.max) / float64(time.Millisecond),
			LastMs: float64(s.last) / float64(time.Millisecond),
			P95Ms:  percentileMs(s.ring, 95),
			P99Ms:  percentileMs(s.ring, 99),
		},
	}
}

func (s *hitMissSeries) snapshot() *MetricSnapshot {
	rate := float64(0)
	if total := s.hits + s.misses; total > 0 {
		rate = float64(s.hits) / float64(total) * 100
	}
	return &MetricSnapshot{
		Health: hitRateHealth(rate),
		Data:   HitMissSnapshot{Hits: s.hits, Misses: s.misses, HitRate: rate},
	}
}

func (s *outcomeSeries) snapshot() *MetricSnapshot {
	rate := float64(0)
	if total := s.ok + s.fail; total > 0 {
		rate = float64(s.ok) / float64(total) * 100
	}
	recent := 0
	for i := 0; i < s.wn; i++ {
		if s.window[i] {
			recent++
		}
	}
	recentRate := float64(0)
	if s.wn > 0 {
		recentRate = float64(recent) / float64(s.wn) * 100
	}
	reasons := make(map[string]int64, len(s.reasons))
	for k, v := range s.reasons {
		reasons[k] = v
	}
	return &MetricSnapshot{
		Health: outcomeHealth(rate),
		Data: SuccessFailSnapshot{
			Success:        s.ok,
			Failures:       s.fail,
			SuccessRate:    rate,
			RecentRate:     recentRate,
			FailureReasons: reasons,
		},
	}
}

// percentileMs estimates the pct-th percentile of the ring in milliseconds.
func percentileMs(samples []time.Duration, pct int) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	i := len(sorted) * pct / 100
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return float64(sorted[i]) / float64(time.Millisecond)
}

// Browser round trips are slow by nature; the timing thresholds sit well
// above what an in-process call would tolerate.
func timingHealth(avgMs float64) HealthStatus {
	switch {
	case avgMs > 5000:
		return HealthCritical
	case avgMs > 1500:
		return HealthWarning
	default:
		return HealthGood
	}
}

func hitRateHealth(rate float64) HealthStatus {
	switch {
	case rate < 25:
		return HealthCritical
	case rate < 50:
		return HealthWarning
	default:
		return HealthGood
	}
}

func outcomeHealth(rate float64) HealthStatus {
	switch {
	case rate < 50:
		return HealthCritical
	case rate < 90:
		return HealthWarning
	default:
		return HealthGood
	}
}

var closureSuffix = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

// callerOp names the function that asked for a timer. Frames inside this
// package are skipped and closure suffixes stripped, so the label is the
// method the caller would recognize.
func callerOp() string {
	pcs := make([]uintptr, 10)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		name := frame.Function
		if name != "" && !strings.Contains(name, "internal/metrics") {
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
			if i := strings.IndexByte(name, '.'); i >= 0 {
				name = name[i+1:]
			}
			return closureSuffix.ReplaceAllString(name, "")
		}
		if !more {
			break
		}
	}
	return "unknown"
}
