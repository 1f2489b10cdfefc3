package watchdogs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
)

func TestWaitReturnsAfterRequestedDelay(t *testing.T) {
	w := &ActionWatchdog{}

	start := time.Now()
	res, err := w.onWait(context.Background(), browser.WaitEvent{Seconds: 0.05})
	if err != nil {
		t.Fatalf("onWait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("returned after %v, want at least 40ms", elapsed)
	}
	if secs, ok := res.(float64); !ok || secs != 0.05 {
		t.Errorf("result = %v, want 0.05", res)
	}
}

func TestWaitZeroIsImmediate(t *testing.T) {
	w := &ActionWatchdog{}

	start := time.Now()
	if _, err := w.onWait(context.Background(), browser.WaitEvent{}); err != nil {
		t.Fatalf("onWait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("zero wait took %v", elapsed)
	}
}

func TestWaitStopsOnCanceledContext(t *testing.T) {
	w := &ActionWatchdog{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.onWait(ctx, browser.WaitEvent{Seconds: 30})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestHandlersRejectForeignPayloads(t *testing.T) {
	w := &ActionWatchdog{}

	// The payload check runs before any session access, so a zero-value
	// watchdog is enough to exercise it.
	if _, err := w.onClick(context.Background(), browser.TypeEvent{}); err == nil {
		t.Error("onClick accepted a type event")
	}
	if _, err := w.onWait(context.Background(), browser.ClickEvent{}); err == nil {
		t.Error("onWait accepted a click event")
	}
}
