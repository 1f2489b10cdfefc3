package metrics

import "time"

// HealthStatus grades a series for the status display.
type HealthStatus int

const (
	HealthGood HealthStatus = iota
	HealthWarning
	HealthCritical
)

// timingSeries aggregates durations for one operation. The ring keeps the
// most recent samples so percentiles stay current instead of lifetime.
type timingSeries struct {
	n     int64
	total time.Duration
	min   time.Duration
	max   time.Duration
	last  time.Duration
	ring  []time.Duration
	next  int
}

// hitMissSeries counts cache lookups.
type hitMissSeries struct {
	hits    int64
	misses  int64
	lastHit time.Time
}

// counterSeries is a plain event count.
type counterSeries struct {
	n  int64
	at time.Time
}

// recentWindow is how many recent outcomes feed the short-term rate.
const recentWindow = 100

// outcomeSeries tracks operations that either succeed or fail, with a
// bounded window for the recent rate and a tally per failure reason.
type outcomeSeries struct {
	ok      int64
	fail    int64
	okAt    time.Time
	failAt  time.Time
	reasons map[string]int64
	window  [recentWindow]bool
	wi      int
	wn      int
}

// MetricSnapshot pairs one series' point-in-time numbers with a health
// grade. Data holds one of the snapshot types below.
type MetricSnapshot struct {
	Health HealthStatus
	Data   any
}

// TimingSnapshot reports duration aggregates in milliseconds.
type TimingSnapshot struct {
	Count  int64
	AvgMs  float64
	MinMs  float64
	MaxMs  float64
	LastMs float64
	P95Ms  float64
	P99Ms  float64
}

// HitMissSnapshot reports cache effectiveness. HitRate is a percentage.
type HitMissSnapshot struct {
	Hits    int64
	Misses  int64
	HitRate float64
}

// CounterSnapshot reports a plain count.
type CounterSnapshot struct {
	Value int64
}

// SuccessFailSnapshot reports outcome rates as percentages. RecentRate
// covers only the sliding window, so a recovering operation shows up
// before its lifetime rate does.
type SuccessFailSnapshot struct {
	Success        int64
	Failures       int64
	SuccessRate    float64
	RecentRate     float64
	FailureReasons map[string]int64
}
