package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/repomirrorhq/better-use-sub001/internal/bus"
	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	. "github.com/repomirrorhq/better-use-sub001/internal/metrics"
)

// WatchdogState is one step of the watchdog lifecycle.
type WatchdogState int32

const (
	WatchdogDetached WatchdogState = iota
	WatchdogAttaching
	WatchdogAttached
	WatchdogDetaching
)

func (s WatchdogState) String() string {
	switch s {
	case WatchdogDetached:
		return "detached"
	case WatchdogAttaching:
		return "attaching"
	case WatchdogAttached:
		return "attached"
	case WatchdogDetaching:
		return "detaching"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// HandlerEntry binds one event tag to its handler in a watchdog's
// registration table.
type HandlerEntry struct {
	Tag string
	Fn  bus.Handler
}

// Watchdog is a session monitor: a named set of event handlers attached to
// the session bus as a unit.
type Watchdog interface {
	// Name identifies the watchdog and owns its bus registrations.
	Name() string
	// Handlers is the registration table consulted at attach. The tags
	// listed here are the only events the watchdog receives.
	Handlers() []HandlerEntry
}

// Ticker is implemented by watchdogs that want a periodic monitoring tick
// while attached. The tick context expires after one interval.
type Ticker interface {
	TickInterval() time.Duration
	OnTick(ctx context.Context) error
}

// Recoverer is implemented by watchdogs that clean up after a failed
// handler. The hook runs after the failure is logged and before the error
// reaches the completion; it cannot suppress the error.
type Recoverer interface {
	Recover(tag string, cause error)
}

// Lifecycle is implemented by watchdogs that hold resources beyond their
// bus registrations. OnAttach runs after the handler table registers and a
// failure rolls the attach back; OnDetach runs on release and must tolerate
// a watchdog that never finished attaching.
type Lifecycle interface {
	OnAttach() error
	OnDetach()
}

// Emitter optionally declares the tags a watchdog dispatches. Advisory
// only, surfaced in attach logging; dispatch never consults it.
type Emitter interface {
	Emits() []string
}

// WatchdogHost attaches watchdogs to one session's bus and runs their
// monitoring ticks on a shared scheduler.
type WatchdogHost struct {
	bus  *bus.Bus
	cron *cron.Cron

	mu       sync.Mutex
	attached map[string]*attachment
}

type attachment struct {
	mu     sync.Mutex // serializes lifecycle transitions
	wd     Watchdog
	state  atomic.Int32
	tickID cron.EntryID
	ticks  bool
}

// NewWatchdogHost creates a host bound to the session bus and starts its
// tick scheduler. Overlapping ticks are skipped, panicking ticks recovered.
func NewWatchdogHost(b *bus.Bus) *WatchdogHost {
	cl := cronLogger{}
	c := cron.New(
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		cron.WithLogger(cl),
	)
	c.Start()
	return &WatchdogHost{
		bus:      b,
		cron:     c,
		attached: make(map[string]*attachment),
	}
}

// Attach registers the watchdog's handler table on the bus and starts its
// tick if it has one. Attaching a watchdog that is not detached fails with
// DuplicateHandlerError before any handler runs.
func (h *WatchdogHost) Attach(wd Watchdog) error {
	name := wd.Name()
	entries := wd.Handlers()

	h.mu.Lock()
	att, ok := h.attached[name]
	if !ok {
		att = &attachment{wd: wd}
		h.attached[name] = att
	}
	h.mu.Unlock()

	att.mu.Lock()
	defer att.mu.Unlock()

	if WatchdogState(att.state.Load()) != WatchdogDetached {
		tag := ""
		if len(entries) > 0 {
			tag = entries[0].Tag
		}
		return &bus.DuplicateHandlerError{Owner: name, Tag: tag}
	}
	att.state.Store(int32(WatchdogAttaching))

	for _, e := range entries {
		if err := h.bus.Subscribe(name, e.Tag, h.wrap(wd, e.Tag, e.Fn)); err != nil {
			h.bus.UnsubscribeOwner(name)
			att.state.Store(int32(WatchdogDetached))
			return err
		}
	}

	if tk, ok := wd.(Ticker); ok {
		if ivl := tk.TickInterval(); ivl > 0 {
			id, err := h.cron.AddFunc(fmt.Sprintf("@every %s", ivl), h.tick(att, tk, ivl))
			if err != nil {
				h.bus.UnsubscribeOwner(name)
				att.state.Store(int32(WatchdogDetached))
				return fmt.Errorf("schedule %s tick: %w", name, err)
			}
			att.tickID = id
			att.ticks = true
		}
	}

	if lc, ok := wd.(Lifecycle); ok {
		if err := lc.OnAttach(); err != nil {
			if att.ticks {
				h.cron.Remove(att.tickID)
				att.ticks = false
			}
			h.bus.UnsubscribeOwner(name)
			att.state.Store(int32(WatchdogDetached))
			return fmt.Errorf("%s attach hook: %w", name, err)
		}
	}

	att.state.Store(int32(WatchdogAttached))
	if em, ok := wd.(Emitter); ok {
		L_debug("watchdog: attached", "watchdog", name, "handlers", len(entries),
			"emits", strings.Join(em.Emits(), ","))
	} else {
		L_debug("watchdog: attached", "watchdog", name, "handlers", len(entries))
	}
	return nil
}

// Detach stops the watchdog's tick and removes its handlers. Detaching a
// watchdog that is not attached is a no-op.
func (h *WatchdogHost) Detach(name string) {
	h.mu.Lock()
	att := h.attached[name]
	h.mu.Unlock()
	if att == nil {
		return
	}

	att.mu.Lock()
	defer att.mu.Unlock()
	if WatchdogState(att.state.Load()) != WatchdogAttached {
		return
	}
	att.state.Store(int32(WatchdogDetaching))
	h.release(name, att)
	att.state.Store(int32(WatchdogDetached))
	L_debug("watchdog: detached", "watchdog", name)
}

// Destroy releases the watchdog regardless of its current state and forgets
// it. Always ends detached with handlers and timers gone.
func (h *WatchdogHost) Destroy(name string) {
	h.mu.Lock()
	att := h.attached[name]
	delete(h.attached, name)
	h.mu.Unlock()
	if att == nil {
		return
	}

	att.mu.Lock()
	defer att.mu.Unlock()
	h.release(name, att)
	att.state.Store(int32(WatchdogDetached))
	L_debug("watchdog: destroyed", "watchdog", name)
}

// release removes the tick entry and bus handlers, then runs the detach
// hook. Caller holds att.mu.
func (h *WatchdogHost) release(name string, att *attachment) {
	if att.ticks {
		h.cron.Remove(att.tickID)
		att.ticks = false
	}
	h.bus.UnsubscribeOwner(name)
	if lc, ok := att.wd.(Lifecycle); ok {
		lc.OnDetach()
	}
}

// Close destroys every watchdog and stops the tick scheduler. The returned
// context is done once running ticks have finished.
func (h *WatchdogHost) Close() context.Context {
	h.mu.Lock()
	names := make([]string, 0, len(h.attached))
	for name := range h.attached {
		names = append(names, name)
	}
	h.mu.Unlock()

	for _, name := range names {
		h.Destroy(name)
	}
	return h.cron.Stop()
}

// State reports the lifecycle state of a watchdog by name. Unknown names
// are detached.
func (h *WatchdogHost) State(name string) WatchdogState {
	h.mu.Lock()
	att := h.attached[name]
	h.mu.Unlock()
	if att == nil {
		return WatchdogDetached
	}
	return WatchdogState(att.state.Load())
}

// Attached lists the names of currently attached watchdogs.
func (h *WatchdogHost) Attached() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.attached))
	for name, att := range h.attached {
		if WatchdogState(att.state.Load()) == WatchdogAttached {
			names = append(names, name)
		}
	}
	return names
}

// wrap instruments a handler with timing logs and the owner's recovery
// hook. Recovery is best-effort and never suppresses the handler error.
func (h *WatchdogHost) wrap(wd Watchdog, tag string, fn bus.Handler) bus.Handler {
	name := wd.Name()
	rec, recoverable := wd.(Recoverer)
	return func(ctx context.Context, ev bus.Event) (any, error) {
		start := time.Now()
		L_trace("watchdog: handler start", "watchdog", name, "tag", tag)
		res, err := fn(ctx, ev)
		MetricDuration(name, tag, time.Since(start))
		if err != nil {
			MetricFail(name, tag)
			L_warn("watchdog: handler failed", "watchdog", name, "tag", tag,
				"elapsed", time.Since(start).String(), "error", err)
			if recoverable {
				runRecovery(name, tag, rec, err)
			}
			return nil, err
		}
		MetricSuccess(name, tag)
		L_elapsed(start, "watchdog: handler done", "watchdog", name, "tag", tag)
		return res, nil
	}
}

func runRecovery(name, tag string, rec Recoverer, cause error) {
	defer func() {
		if r := recover(); r != nil {
			L_error("watchdog: recovery panicked", "watchdog", name, "tag", tag, "panic", r)
		}
	}()
	rec.Recover(tag, cause)
}

// tick wraps OnTick for the scheduler. Failures are logged and never stop
// later ticks; ticks after detach begins are dropped.
func (h *WatchdogHost) tick(att *attachment, tk Ticker, interval time.Duration) func() {
	name := att.wd.Name()
	return func() {
		if WatchdogState(att.state.Load()) != WatchdogAttached {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		start := time.Now()
		err := tk.OnTick(ctx)
		MetricDuration(name, "tick", time.Since(start))
		if err != nil {
			L_warn("watchdog: tick failed", "watchdog", name,
				"elapsed", time.Since(start).String(), "error", err)
		}
	}
}

// cronLogger adapts the tick scheduler's logging to ours.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	L_trace("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	L_error("cron: "+msg, append([]interface{}{"error", err}, kv...)...)
}
