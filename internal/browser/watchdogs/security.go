package watchdogs

import (
	"context"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
)

// SecurityWatchdog enforces the URL policy on navigations the session did
// not initiate: redirects, window.open targets, and script-driven loads.
// Explicit navigations are validated up front by the navigation watchdog;
// this one catches everything that slips in sideways and parks the
// offending tab on about:blank.
type SecurityWatchdog struct {
	session *browser.Session
}

func NewSecurityWatchdog(s *browser.Session) *SecurityWatchdog {
	return &SecurityWatchdog{session: s}
}

func (w *SecurityWatchdog) Name() string { return "security" }

func (w *SecurityWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagNavigationStarted, Fn: w.onNavigationStarted},
		{Tag: browser.TagNavigationComplete, Fn: w.onNavigationComplete},
		{Tag: browser.TagTabCreated, Fn: w.onTabCreated},
	}
}

func (w *SecurityWatchdog) Emits() []string {
	return []string{browser.TagBrowserError}
}

func (w *SecurityWatchdog) onNavigationStarted(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.NavigationStartedEvent](ev)
	if err != nil {
		return nil, err
	}
	return nil, w.check(ctx, e.TargetID, e.URL)
}

func (w *SecurityWatchdog) onNavigationComplete(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.NavigationCompleteEvent](ev)
	if err != nil {
		return nil, err
	}
	return nil, w.check(ctx, e.TargetID, e.URL)
}

func (w *SecurityWatchdog) onTabCreated(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.TabCreatedEvent](ev)
	if err != nil {
		return nil, err
	}
	return nil, w.check(ctx, e.TargetID, e.URL)
}

// check validates one URL and blanks the tab on a violation. The returned
// error is the policy violation for the record; the block itself already
// happened.
func (w *SecurityWatchdog) check(ctx context.Context, targetID, url string) error {
	if url == "" || url == "about:blank" {
		return nil
	}
	err := w.session.Policy().Validate(url)
	if err == nil {
		return nil
	}

	L_warn("security: blocking disallowed url", "url", url, "target", targetID, "error", err)
	w.session.Bus().Dispatch(browser.ErrorEvent{Op: "security", Err: err})

	page, perr := w.session.PageForTarget(targetID)
	if perr != nil {
		return err
	}
	if nerr := page.Context(ctx).Timeout(5 * time.Second).Navigate("about:blank"); nerr != nil {
		L_debug("security: could not blank the tab", "target", targetID, "error", nerr)
	}
	return err
}
