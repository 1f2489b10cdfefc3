package metrics

import (
	"encoding/json"
	"os"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	"github.com/repomirrorhq/better-use-sub001/internal/paths"
)

const (
	autosaveEvery = 5 * time.Minute
	staleAfter    = 7 * 24 * time.Hour
	stateFileName = "metrics.json"
)

// savedState is the on-disk document, one JSON file under the data
// directory. Stats are expendable, so any load problem just means starting
// from zero.
type savedState struct {
	SavedAt  time.Time               `json:"saved_at"`
	Timings  map[string]savedTiming  `json:"timings,omitempty"`
	HitMiss  map[string]savedHitMiss `json:"hit_miss,omitempty"`
	Counters map[string]savedCounter `json:"counters,omitempty"`
	Outcomes map[string]savedOutcome `json:"outcomes,omitempty"`
}

type savedTiming struct {
	N     int64           `json:"n"`
	Total time.Duration   `json:"total"`
	Min   time.Duration   `json:"min"`
	Max   time.Duration   `json:"max"`
	Last  time.Duration   `json:"last"`
	Ring  []time.Duration `json:"ring,omitempty"`
}

type savedHitMiss struct {
	Hits   int64     `json:"hits"`
	Misses int64     `json:"misses"`
	HitAt  time.Time `json:"hit_at"`
}

type savedCounter struct {
	N  int64     `json:"n"`
	At time.Time `json:"at"`
}

type savedOutcome struct {
	OK      int64            `json:"ok"`
	Fail    int64            `json:"fail"`
	OKAt    time.Time        `json:"ok_at"`
	FailAt  time.Time        `json:"fail_at"`
	Reasons map[string]int64 `json:"reasons,omitempty"`
}

// EnablePersistence loads previously saved stats from the data directory and
// starts a background autosave ticker. Degrades to in-memory if anything
// fails.
func (m *Manager) EnablePersistence() {
	path, err := paths.DataPath(stateFileName)
	if err != nil {
		L_warn("metrics: cannot resolve state path, staying in-memory", "error", err)
		return
	}
	m.enableAt(path)
}

func (m *Manager) enableAt(path string) {
	m.persistPath = path

	if n, err := m.load(); err != nil {
		L_warn("metrics: load failed, starting fresh", "path", path, "error", err)
	} else if n > 0 {
		L_debug("metrics: loaded persisted stats", "path", path, "series", n)
	}

	m.stopAutosave = make(chan struct{})
	m.saveWG.Add(1)
	go m.autosaveLoop()
}

func (m *Manager) autosaveLoop() {
	defer m.saveWG.Done()

	ticker := time.NewTicker(autosaveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.save(); err != nil {
				L_warn("metrics: autosave failed", "error", err)
			}
		case <-m.stopAutosave:
			return
		}
	}
}

// Close stops the autosave ticker and performs a final save. Safe to call
// even if persistence was never enabled.
func (m *Manager) Close() error {
	if m.stopAutosave == nil {
		return nil
	}

	close(m.stopAutosave)
	m.saveWG.Wait()
	m.stopAutosave = nil

	err := m.save()
	if err != nil {
		L_warn("metrics: save on close failed", "error", err)
	}
	return err
}

// save writes every series to the state file as one document.
func (m *Manager) save() error {
	if m.persistPath == "" {
		return nil
	}

	state := savedState{
		SavedAt:  time.Now(),
		Timings:  make(map[string]savedTiming),
		HitMiss:  make(map[string]savedHitMiss),
		Counters: make(map[string]savedCounter),
		Outcomes: make(map[string]savedOutcome),
	}

	m.mu.Lock()
	for path, s := range m.timings {
		state.Timings[path] = savedTiming{
			N: s.n, Total: s.total, Min: s.min, Max: s.max, Last: s.last,
			Ring: append([]time.Duration(nil), s.ring...),
		}
	}
	for path, s := range m.hitMiss {
		state.HitMiss[path] = savedHitMiss{Hits: s.hits, Misses: s.misses, HitAt: s.lastHit}
	}
	for path, s := range m.counters {
		state.Counters[path] = savedCounter{N: s.n, At: s.at}
	}
	for path, s := range m.outcomes {
		reasons := make(map[string]int64, len(s.reasons))
		for k, v := range s.reasons {
			reasons[k] = v
		}
		state.Outcomes[path] = savedOutcome{
			OK: s.ok, Fail: s.fail, OKAt: s.okAt, FailAt: s.failAt, Reasons: reasons,
		}
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := paths.EnsureParentDir(m.persistPath); err != nil {
		return err
	}

	// Temp file + rename so a crash mid-write never leaves truncated JSON.
	tmp := m.persistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, m.persistPath)
}

// load restores series from the state file and reports how many came back.
// A missing file is not an error; a stale file is ignored.
func (m *Manager) load() (int, error) {
	data, err := os.ReadFile(m.persistPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var state savedState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, err
	}

	if time.Since(state.SavedAt) > staleAfter {
		L_debug("metrics: persisted stats too old, starting fresh", "saved_at", state.SavedAt)
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for path, v := range state.Timings {
		m.timings[path] = restoreTiming(v)
		n++
	}
	for path, v := range state.HitMiss {
		m.hitMiss[path] = &hitMissSeries{hits: v.Hits, misses: v.Misses, lastHit: v.HitAt}
		n++
	}
	for path, v := range state.Counters {
		m.counters[path] = &counterSeries{n: v.N, at: v.At}
		n++
	}
	for path, v := range state.Outcomes {
		// The sliding window is session-local and starts empty.
		m.outcomes[path] = &outcomeSeries{
			ok: v.OK, fail: v.Fail, okAt: v.OKAt, failAt: v.FailAt, reasons: v.Reasons,
		}
		n++
	}

	return n, nil
}

func restoreTiming(v savedTiming) *timingSeries {
	s := &timingSeries{
		n:     v.N,
		total: v.Total,
		min:   v.Min,
		max:   v.Max,
		last:  v.Last,
		ring:  v.Ring,
	}
	if len(s.ring) > maxSamples {
		s.ring = s.ring[:maxSamples]
	}
	return s
}
