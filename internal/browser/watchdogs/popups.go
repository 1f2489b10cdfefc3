package watchdogs

import (
	"context"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
)

// PopupsWatchdog answers JavaScript dialogs so they never wedge the page.
// Every dialog is accepted: alerts just need dismissal, confirms and
// beforeunloads should not block automation, and prompts get their default
// text.
type PopupsWatchdog struct {
	session *browser.Session
}

func NewPopupsWatchdog(s *browser.Session) *PopupsWatchdog {
	return &PopupsWatchdog{session: s}
}

func (w *PopupsWatchdog) Name() string { return "popups" }

func (w *PopupsWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagDialogOpened, Fn: w.onDialog},
	}
}

func (w *PopupsWatchdog) onDialog(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.DialogOpenedEvent](ev)
	if err != nil {
		return nil, err
	}
	L_info("popups: answering dialog", "kind", e.Kind, "message", truncateMessage(e.Message))

	page, err := w.session.PageForTarget(e.TargetID)
	if err != nil {
		return nil, err
	}
	err = proto.PageHandleJavaScriptDialog{Accept: true}.Call(page.Timeout(5 * time.Second))
	if err != nil {
		return nil, browser.NewProtocolError("Page.handleJavaScriptDialog", err)
	}
	return nil, nil
}

func truncateMessage(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:80] + "..."
}
