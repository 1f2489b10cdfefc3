package watchdogs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	. "github.com/repomirrorhq/better-use-sub001/internal/metrics"

	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
)

const (
	// crashProbeInterval is how often the liveness probe runs.
	crashProbeInterval = 10 * time.Second
	// crashProbeLimit is how many probes may fail in a row before the
	// session is declared dead.
	crashProbeLimit = 3
)

// CrashWatchdog probes devtools liveness and reacts to renderer crashes. A
// crashed tab gets one reload attempt; an unreachable browser stops the
// session.
type CrashWatchdog struct {
	session  *browser.Session
	failures atomic.Int32
	stopOnce sync.Once
}

func NewCrashWatchdog(s *browser.Session) *CrashWatchdog {
	return &CrashWatchdog{session: s}
}

func (w *CrashWatchdog) Name() string { return "crash" }

func (w *CrashWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagTargetCrashed, Fn: w.onTargetCrashed},
	}
}

func (w *CrashWatchdog) Emits() []string {
	return []string{browser.TagBrowserError}
}

func (w *CrashWatchdog) TickInterval() time.Duration { return crashProbeInterval }

// OnTick probes the devtools connection. The call is wrapped in a recover
// because a torn-down CDP client panics instead of erroring.
func (w *CrashWatchdog) OnTick(ctx context.Context) error {
	b := w.session.Browser()
	if b == nil {
		return nil
	}

	alive := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				L_debug("crash: liveness probe panicked, browser is dead", "panic", r)
				ok = false
			}
		}()
		_, err := b.Call(ctx, "", "Browser.getVersion", nil)
		return err == nil
	}()

	if alive {
		MetricSuccess("crash", "probe")
		w.failures.Store(0)
		return nil
	}

	MetricFailWithReason("crash", "probe", "unreachable")
	n := w.failures.Add(1)
	if n >= crashProbeLimit {
		w.stopOnce.Do(func() {
			L_error("crash: browser unreachable, stopping session", "probes", n)
			go w.session.Stop("browser unreachable")
		})
	}
	return fmt.Errorf("liveness probe failed (%d/%d)", n, crashProbeLimit)
}

// onTargetCrashed reloads the crashed tab once. Chrome keeps the target
// alive after a renderer crash, so a reload usually brings it back.
func (w *CrashWatchdog) onTargetCrashed(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.TargetCrashedEvent](ev)
	if err != nil {
		return nil, err
	}
	L_error("crash: renderer crashed", "target", e.TargetID, "status", e.Status, "code", e.Code)
	w.session.Bus().Dispatch(browser.ErrorEvent{
		Op:  "target-crash",
		Err: fmt.Errorf("target %s crashed: %s (%d)", e.TargetID, e.Status, e.Code),
	})

	page, perr := w.session.PageForTarget(e.TargetID)
	if perr != nil {
		return nil, nil
	}
	if rerr := (proto.PageReload{}).Call(page.Timeout(10 * time.Second)); rerr != nil {
		L_warn("crash: reload of crashed target failed", "target", e.TargetID, "error", rerr)
	} else {
		L_info("crash: reloaded crashed target", "target", e.TargetID)
	}
	return nil, nil
}
