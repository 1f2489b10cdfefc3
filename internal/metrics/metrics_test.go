package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordDurationAggregates(t *testing.T) {
	m := newManager()
	m.RecordDuration("watchdog", "browser.click", 10*time.Millisecond)
	m.RecordDuration("watchdog", "browser.click", 30*time.Millisecond)
	m.RecordDuration("watchdog", "browser.click", 20*time.Millisecond)

	snap, ok := m.GetSnapshot()["watchdog/browser.click"]
	if !ok {
		t.Fatal("no snapshot for watchdog/browser.click")
	}
	data := snap.Data.(TimingSnapshot)
	if data.Count != 3 {
		t.Errorf("Count = %d, want 3", data.Count)
	}
	if data.MinMs != 10 || data.MaxMs != 30 {
		t.Errorf("Min/Max = %v/%v, want 10/30", data.MinMs, data.MaxMs)
	}
	if data.AvgMs != 20 {
		t.Errorf("AvgMs = %v, want 20", data.AvgMs)
	}
	if data.LastMs != 20 {
		t.Errorf("LastMs = %v, want 20", data.LastMs)
	}
}

func TestTimerRecordsOnce(t *testing.T) {
	m := newManager()
	stop := m.Timer("dom", "refresh")
	stop()
	stop() // Stopping twice must not double-count

	snap, ok := m.GetSnapshot()["dom/refresh"]
	if !ok {
		t.Fatal("no snapshot for dom/refresh")
	}
	if got := snap.Data.(TimingSnapshot).Count; got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestHitRate(t *testing.T) {
	m := newManager()
	m.RecordHit("dom", "model")
	m.RecordHit("dom", "model")
	m.RecordHit("dom", "model")
	m.RecordMiss("dom", "model")

	snap := m.GetSnapshot()["dom/model"]
	data := snap.Data.(HitMissSnapshot)
	if data.Hits != 3 || data.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 3/1", data.Hits, data.Misses)
	}
	if data.HitRate != 75 {
		t.Errorf("HitRate = %v, want 75", data.HitRate)
	}
}

func TestSuccessFailTracksReasons(t *testing.T) {
	m := newManager()
	m.RecordSuccess("crash", "probe")
	m.RecordFailure("crash", "probe", "unreachable")
	m.RecordFailure("crash", "probe", "unreachable")
	m.RecordFailure("crash", "probe", "")

	snap := m.GetSnapshot()["crash/probe"]
	data := snap.Data.(SuccessFailSnapshot)
	if data.Success != 1 || data.Failures != 3 {
		t.Errorf("success/failures = %d/%d, want 1/3", data.Success, data.Failures)
	}
	if data.SuccessRate != 25 {
		t.Errorf("SuccessRate = %v, want 25", data.SuccessRate)
	}
	if data.RecentRate != 25 {
		t.Errorf("RecentRate = %v, want 25", data.RecentRate)
	}
	if data.FailureReasons["unreachable"] != 2 {
		t.Errorf("FailureReasons = %v, want unreachable:2", data.FailureReasons)
	}
}

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	if got := percentileMs(samples, 95); got != 96 {
		t.Errorf("p95 = %v, want 96", got)
	}
	if got := percentileMs(nil, 95); got != 0 {
		t.Errorf("p95 of no samples = %v, want 0", got)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")

	m1 := newManager()
	m1.enableAt(path)
	m1.RecordDuration("watchdog", "browser.navigate", 150*time.Millisecond)
	m1.Increment("downloads", "files")
	m1.Increment("downloads", "files")
	m1.RecordHit("dom", "model")
	m1.RecordFailure("crash", "probe", "unreachable")
	if err := m1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2 := newManager()
	m2.persistPath = path
	n, err := m2.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 4 {
		t.Errorf("loaded %d metrics, want 4", n)
	}

	snaps := m2.GetSnapshot()
	if got := snaps["downloads/files"].Data.(CounterSnapshot).Value; got != 2 {
		t.Errorf("counter = %d, want 2", got)
	}
	if got := snaps["watchdog/browser.navigate"].Data.(TimingSnapshot).Count; got != 1 {
		t.Errorf("timing count = %d, want 1", got)
	}
	if got := snaps["crash/probe"].Data.(SuccessFailSnapshot).FailureReasons["unreachable"]; got != 1 {
		t.Errorf("failure reasons = %d, want 1", got)
	}
}

func TestLoadIgnoresStaleState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	stale := savedState{
		SavedAt:  time.Now().Add(-8 * 24 * time.Hour),
		Counters: map[string]savedCounter{"downloads/files": {N: 7}},
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	m := newManager()
	m.persistPath = path
	n, err := m.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 0 {
		t.Errorf("loaded %d metrics from stale state, want 0", n)
	}
}

func TestCloseWithoutPersistenceIsNoOp(t *testing.T) {
	m := newManager()
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
