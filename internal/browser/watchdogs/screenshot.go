package watchdogs

import (
	"context"
	"fmt"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
	"github.com/repomirrorhq/better-use-sub001/internal/media"
)

// ScreenshotWatchdog captures the focused tab, squeezes the image through
// the optimizer and files it in the media store. The store is optional;
// without one the image only travels in the result.
type ScreenshotWatchdog struct {
	session *browser.Session
	store   *media.Store
}

func NewScreenshotWatchdog(s *browser.Session, store *media.Store) *ScreenshotWatchdog {
	return &ScreenshotWatchdog{session: s, store: store}
}

func (w *ScreenshotWatchdog) Name() string { return "screenshot" }

func (w *ScreenshotWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagScreenshot, Fn: w.onScreenshot},
	}
}

func (w *ScreenshotWatchdog) onScreenshot(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.ScreenshotEvent](ev)
	if err != nil {
		return nil, err
	}
	page, err := w.session.CurrentPage()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	req := proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		CaptureBeyondViewport: e.FullPage,
	}
	res, err := req.Call(page.Context(ctx).Timeout(10 * time.Second))
	if err != nil {
		return nil, browser.NewProtocolError("Page.captureScreenshot", err)
	}

	img, err := media.Optimize(res.Data)
	if err != nil {
		return nil, fmt.Errorf("optimizing screenshot: %w", err)
	}

	result := &browser.ScreenshotResult{
		Base64:   img.Base64(),
		MIMEType: img.MimeType,
		Width:    img.Width,
		Height:   img.Height,
	}
	if w.store != nil {
		path, err := w.store.SaveScreenshot(img)
		if err != nil {
			L_warn("screenshot: save failed", "error", err)
		} else {
			result.Path = path
		}
	}
	L_elapsed(start, "screenshot: captured",
		"fullPage", e.FullPage, "bytes", img.Size(), "path", result.Path)
	return result, nil
}
