package watchdogs

import (
	"context"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/go-rod/rod"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
)

// NavigationWatchdog drives explicit navigations and tab management. The
// URL policy runs before the browser ever sees the request; the session's
// page monitor reports the resulting lifecycle events.
type NavigationWatchdog struct {
	session *browser.Session
	dom     *DOMWatchdog
}

func NewNavigationWatchdog(s *browser.Session, d *DOMWatchdog) *NavigationWatchdog {
	return &NavigationWatchdog{session: s, dom: d}
}

func (w *NavigationWatchdog) Name() string { return "navigation" }

func (w *NavigationWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagNavigate, Fn: w.onNavigate},
		{Tag: browser.TagSwitchTab, Fn: w.onSwitchTab},
		{Tag: browser.TagCloseTab, Fn: w.onCloseTab},
	}
}

func (w *NavigationWatchdog) onNavigate(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.NavigateEvent](ev)
	if err != nil {
		return nil, err
	}
	if err := w.session.Policy().Validate(e.URL); err != nil {
		return nil, err
	}

	start := time.Now()
	var page *rod.Page
	if e.NewTab {
		if page, err = w.session.NewPage(e.URL); err != nil {
			return nil, err
		}
	} else {
		if page, err = w.session.CurrentPage(); err != nil {
			return nil, err
		}
		if err := page.Context(ctx).Navigate(e.URL); err != nil {
			return nil, browser.NewNavigationError(e.URL, err)
		}
	}

	waitSettled(page.Context(ctx), e.URL)
	w.dom.Invalidate()
	L_elapsed(start, "navigation: done", "url", e.URL, "newTab", e.NewTab)

	info := browser.TabInfo{TargetID: string(page.TargetID), URL: e.URL, Focused: true}
	if pi, err := page.Info(); err == nil {
		info.URL = pi.URL
		info.Title = pi.Title
	}
	return info, nil
}

func (w *NavigationWatchdog) onSwitchTab(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.SwitchTabEvent](ev)
	if err != nil {
		return nil, err
	}
	info, err := w.session.SwitchToTab(e.TargetID)
	if err != nil {
		return nil, err
	}
	w.dom.Invalidate()
	return info, nil
}

func (w *NavigationWatchdog) onCloseTab(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.CloseTabEvent](ev)
	if err != nil {
		return nil, err
	}
	if err := w.session.CloseTab(e.TargetID); err != nil {
		return nil, err
	}
	w.dom.Invalidate()
	return nil, nil
}

// waitSettled waits for the load event and then a short stretch of network
// and layout quiet. Neither wait is fatal: heavy pages and SPAs routinely
// blow through them and stay usable.
func waitSettled(page *rod.Page, url string) {
	start := time.Now()
	if err := page.WaitLoad(); err != nil {
		L_warn("navigation: load wait gave up", "url", url, "took", time.Since(start).String())
	}
	stable := page.Timeout(3 * time.Second)
	if err := stable.WaitStable(500 * time.Millisecond); err != nil {
		L_debug("navigation: page still busy", "url", url, "took", time.Since(start).String())
	}
}
