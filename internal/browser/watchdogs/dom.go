// Package watchdogs holds the session monitors attached to every browser
// session: the element model, action execution, navigation, crash and
// dialog handling, URL policy enforcement, downloads, storage state, and
// screenshots. Each watchdog is a handler table over session events; the
// host in the browser package wires them to the bus.
package watchdogs

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	. "github.com/repomirrorhq/better-use-sub001/internal/metrics"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
	"github.com/repomirrorhq/better-use-sub001/internal/dom"
)

// payload narrows a bus event to the concrete type a handler registered for.
func payload[T bus.Event](ev bus.Event) (T, error) {
	e, ok := ev.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected payload %T for tag %s", ev, zero.Tag())
	}
	return e, nil
}

// DOMWatchdog owns the element model of the focused tab. Each cycle
// captures a DOM snapshot, resolves it against the device pixel ratio and
// rebuilds the selector map; the previous cycle stays around as the
// baseline for new-element deltas.
type DOMWatchdog struct {
	session *browser.Session

	mu    sync.Mutex
	state *dom.State
	fresh bool
}

func NewDOMWatchdog(s *browser.Session) *DOMWatchdog {
	return &DOMWatchdog{session: s}
}

func (w *DOMWatchdog) Name() string { return "dom" }

func (w *DOMWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagStateRequest, Fn: w.onStateRequest},
		{Tag: browser.TagNavigationComplete, Fn: w.onPageChanged},
		{Tag: browser.TagTabClosed, Fn: w.onPageChanged},
	}
}

// Current returns the cached element model, or nil when the cache went
// stale since the last build.
func (w *DOMWatchdog) Current() *dom.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.fresh {
		return nil
	}
	return w.state
}

// Invalidate marks the cached model stale. The stale cycle still serves as
// the delta baseline for the next build.
func (w *DOMWatchdog) Invalidate() {
	w.mu.Lock()
	w.fresh = false
	w.mu.Unlock()
}

// Resolve returns the cached model, rebuilding it first when stale.
func (w *DOMWatchdog) Resolve(ctx context.Context) (*dom.State, error) {
	if st := w.Current(); st != nil {
		MetricHit("dom", "model")
		return st, nil
	}
	MetricMiss("dom", "model")
	return w.Refresh(ctx)
}

// Refresh builds a new element model cycle from the focused tab.
func (w *DOMWatchdog) Refresh(ctx context.Context) (*dom.State, error) {
	page, err := w.session.CurrentPage()
	if err != nil {
		return nil, err
	}
	p := page.Context(ctx)

	start := time.Now()
	raw, err := dom.CaptureParams().Call(p)
	if err != nil {
		return nil, browser.NewProtocolError("DOMSnapshot.captureSnapshot", err)
	}

	ratio := 1.0
	if res, err := p.Eval(`window.devicePixelRatio`); err == nil {
		if v := res.Value.Num(); v > 0 {
			ratio = v
		}
	}

	opts := dom.BuildOptions{DevicePixelRatio: ratio}
	if info, err := p.Info(); err == nil {
		opts.URL = info.URL
		opts.Title = info.Title
	}

	w.mu.Lock()
	opts.Previous = w.state
	w.mu.Unlock()

	st := dom.BuildState(raw, dom.Resolve(raw, ratio), opts)

	w.mu.Lock()
	w.state = st
	w.fresh = true
	w.mu.Unlock()

	L_elapsed(start, "dom: rebuilt element model",
		"url", st.URL, "interactive", len(st.Selector)-1)
	return st, nil
}

// onStateRequest rebuilds the model and bundles it with the tab list and,
// when asked, a screenshot. Screenshot failures degrade to a state without
// one rather than failing the request.
func (w *DOMWatchdog) onStateRequest(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.StateRequestEvent](ev)
	if err != nil {
		return nil, err
	}

	st, err := w.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	summary := &browser.StateSummary{State: st}
	if tabs, err := w.session.Tabs(); err == nil {
		summary.Tabs = tabs
	}

	if e.IncludeScreenshot {
		res, err := w.session.Bus().DispatchAndAwait(ctx, browser.ScreenshotEvent{}, 10*time.Second)
		if err != nil {
			L_warn("dom: screenshot for state failed", "error", err)
		} else if shot, ok := res.(*browser.ScreenshotResult); ok {
			summary.Screenshot = shot.Base64
			summary.MIMEType = shot.MIMEType
		}
	}
	return summary, nil
}

func (w *DOMWatchdog) onPageChanged(ctx context.Context, ev bus.Event) (any, error) {
	w.Invalidate()
	return nil, nil
}
