package watchdogs

import (
	"context"
	"fmt"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
	"github.com/repomirrorhq/better-use-sub001/internal/dom"
)

// waitCap bounds a single wait action regardless of what the caller asked
// for.
const waitCap = 60 * time.Second

// ActionWatchdog executes element interactions, resolving selector indices
// against the DOM watchdog's current cycle.
type ActionWatchdog struct {
	session *browser.Session
	dom     *DOMWatchdog
}

func NewActionWatchdog(s *browser.Session, d *DOMWatchdog) *ActionWatchdog {
	return &ActionWatchdog{session: s, dom: d}
}

func (w *ActionWatchdog) Name() string { return "action" }

func (w *ActionWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagClick, Fn: w.onClick},
		{Tag: browser.TagType, Fn: w.onType},
		{Tag: browser.TagScroll, Fn: w.onScroll},
		{Tag: browser.TagScrollToText, Fn: w.onScrollToText},
		{Tag: browser.TagSendKeys, Fn: w.onSendKeys},
		{Tag: browser.TagUpload, Fn: w.onUpload},
		{Tag: browser.TagDropdownOptions, Fn: w.onDropdownOptions},
		{Tag: browser.TagDropdownSelect, Fn: w.onDropdownSelect},
		{Tag: browser.TagWait, Fn: w.onWait},
	}
}

// Recover drops the cached element model after a failed action. The usual
// cause of an action failure is a model gone stale under the page, so the
// next action starts from a fresh cycle.
func (w *ActionWatchdog) Recover(tag string, cause error) {
	w.dom.Invalidate()
}

// node resolves a selector index against the current element model.
func (w *ActionWatchdog) node(ctx context.Context, index int) (*dom.ElementNode, error) {
	st, err := w.dom.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("no element model: %w", err)
	}
	n, ok := st.Lookup(index)
	if !ok {
		return nil, &browser.ElementNotInteractableError{
			Index:  index,
			Kind:   browser.KindNotFound,
			Reason: "index not in the current element model",
		}
	}
	return n, nil
}

func (w *ActionWatchdog) onClick(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.ClickEvent](ev)
	if err != nil {
		return nil, err
	}
	n, err := w.node(ctx, e.Index)
	if err != nil {
		return nil, err
	}
	mods := 0
	if e.NewTab {
		mods = browser.AcceleratorModifier()
	}
	meta, err := w.session.Click(n, mods)
	if err != nil {
		return nil, err
	}
	if !e.ExpectDownload {
		w.dom.Invalidate()
	}
	return meta, nil
}

func (w *ActionWatchdog) onType(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.TypeEvent](ev)
	if err != nil {
		return nil, err
	}
	// Index zero types into whatever currently holds focus.
	var n *dom.ElementNode
	if e.Index > 0 {
		if n, err = w.node(ctx, e.Index); err != nil {
			return nil, err
		}
	}
	if err := w.session.Type(n, e.Text, e.Clear); err != nil {
		return nil, err
	}
	w.dom.Invalidate()
	return nil, nil
}

func (w *ActionWatchdog) onScroll(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.ScrollEvent](ev)
	if err != nil {
		return nil, err
	}
	var n *dom.ElementNode
	if e.Index > 0 {
		if n, err = w.node(ctx, e.Index); err != nil {
			return nil, err
		}
	}
	if err := w.session.Scroll(n, e.Down, e.Amount); err != nil {
		return nil, err
	}
	w.dom.Invalidate()
	return nil, nil
}

func (w *ActionWatchdog) onScrollToText(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.ScrollToTextEvent](ev)
	if err != nil {
		return nil, err
	}
	if err := w.session.ScrollToText(e.Text); err != nil {
		return nil, err
	}
	w.dom.Invalidate()
	return nil, nil
}

func (w *ActionWatchdog) onSendKeys(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.SendKeysEvent](ev)
	if err != nil {
		return nil, err
	}
	if err := w.session.SendKeys(e.Keys); err != nil {
		return nil, err
	}
	w.dom.Invalidate()
	return nil, nil
}

func (w *ActionWatchdog) onUpload(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.UploadEvent](ev)
	if err != nil {
		return nil, err
	}
	n, err := w.node(ctx, e.Index)
	if err != nil {
		return nil, err
	}
	if err := w.session.Upload(n, e.Paths); err != nil {
		return nil, err
	}
	w.dom.Invalidate()
	return nil, nil
}

func (w *ActionWatchdog) onDropdownOptions(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.DropdownOptionsEvent](ev)
	if err != nil {
		return nil, err
	}
	n, err := w.node(ctx, e.Index)
	if err != nil {
		return nil, err
	}
	return w.session.DropdownOptions(n)
}

func (w *ActionWatchdog) onDropdownSelect(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.DropdownSelectEvent](ev)
	if err != nil {
		return nil, err
	}
	n, err := w.node(ctx, e.Index)
	if err != nil {
		return nil, err
	}
	if err := w.session.DropdownSelect(n, e.Label); err != nil {
		return nil, err
	}
	w.dom.Invalidate()
	return nil, nil
}

func (w *ActionWatchdog) onWait(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.WaitEvent](ev)
	if err != nil {
		return nil, err
	}
	d := time.Duration(e.Seconds * float64(time.Second))
	if d <= 0 {
		return nil, nil
	}
	if d > waitCap {
		L_debug("action: wait capped", "requested", e.Seconds, "cap", waitCap)
		d = waitCap
	}
	select {
	case <-time.After(d):
		return d.Seconds(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
