package watchdogs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	. "github.com/repomirrorhq/better-use-sub001/internal/metrics"

	"github.com/fsnotify/fsnotify"
	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
	"github.com/repomirrorhq/better-use-sub001/internal/media"
)

// DownloadsWatchdog routes browser downloads into the configured directory
// and reports each finished file. Files the browser announces over devtools
// are renamed from their transfer id to the suggested name; files that just
// appear on disk (print-to-PDF, direct saves) are picked up by the
// directory watcher once they stop growing.
type DownloadsWatchdog struct {
	session *browser.Session
	dir     string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]string    // transfer id -> suggested filename
	reported map[string]time.Time // absolute path -> report time
}

func NewDownloadsWatchdog(s *browser.Session) *DownloadsWatchdog {
	return &DownloadsWatchdog{
		session:  s,
		dir:      s.Config().Downloads.Dir,
		pending:  make(map[string]string),
		reported: make(map[string]time.Time),
	}
}

func (w *DownloadsWatchdog) Name() string { return "downloads" }

func (w *DownloadsWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagConnected, Fn: w.onConnected},
		{Tag: browser.TagDownloadBegun, Fn: w.onBegun},
		{Tag: browser.TagDownloadProgress, Fn: w.onProgress},
	}
}

func (w *DownloadsWatchdog) Emits() []string {
	return []string{browser.TagFileDownloaded}
}

// OnAttach creates the download directory and starts watching it.
func (w *DownloadsWatchdog) OnAttach() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching download dir: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.run(watcher)
	L_debug("downloads: watching", "dir", w.dir)
	return nil
}

// OnDetach stops the directory watcher. Closing the watcher ends the run
// loop through its closed channels.
func (w *DownloadsWatchdog) OnDetach() {
	w.mu.Lock()
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	if watcher != nil {
		watcher.Close()
	}
}

// onConnected tells the browser to land downloads in our directory, named
// by transfer id so the final path is predictable, with progress events on.
func (w *DownloadsWatchdog) onConnected(ctx context.Context, ev bus.Event) (any, error) {
	b := w.session.Browser()
	if b == nil {
		return nil, nil
	}
	err := proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		DownloadPath:  w.dir,
		EventsEnabled: true,
	}.Call(b)
	if err != nil {
		return nil, browser.NewProtocolError("Browser.setDownloadBehavior", err)
	}
	L_debug("downloads: routing browser downloads", "dir", w.dir)
	return nil, nil
}

func (w *DownloadsWatchdog) onBegun(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.DownloadBegunEvent](ev)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.pending[e.GUID] = e.SuggestedFilename
	w.mu.Unlock()
	L_info("downloads: started", "url", e.URL, "file", e.SuggestedFilename)
	return nil, nil
}

func (w *DownloadsWatchdog) onProgress(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.DownloadProgressEvent](ev)
	if err != nil {
		return nil, err
	}

	switch e.State {
	case "completed":
		w.mu.Lock()
		suggested := w.pending[e.GUID]
		delete(w.pending, e.GUID)
		w.mu.Unlock()
		w.finish(e.GUID, suggested)
	case "canceled":
		w.mu.Lock()
		delete(w.pending, e.GUID)
		w.mu.Unlock()
		os.Remove(filepath.Join(w.dir, e.GUID))
		L_debug("downloads: canceled", "guid", e.GUID)
	}
	return nil, nil
}

// finish renames the transfer-id file to its suggested name and reports it.
func (w *DownloadsWatchdog) finish(guid, suggested string) {
	src := filepath.Join(w.dir, guid)
	if _, err := os.Stat(src); err != nil {
		L_warn("downloads: completed file missing", "guid", guid, "error", err)
		return
	}
	dst := uniquePath(w.dir, suggested)
	if err := os.Rename(src, dst); err != nil {
		L_warn("downloads: rename failed, reporting as-is", "guid", guid, "error", err)
		dst = src
	}
	info, err := os.Stat(dst)
	if err != nil {
		return
	}
	w.report(dst, info.Size())
}

// run is the directory watcher loop. It only cares about new files that
// are not browser transfers in flight.
func (w *DownloadsWatchdog) run(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if ignoredDownloadName(name) || w.inFlight(name) {
				continue
			}
			go w.reportWhenStable(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			L_warn("downloads: watcher error", "error", err)
		}
	}
}

// reportWhenStable polls until the file size stops changing, then reports.
// Files that vanish mid-poll were renames or temporaries.
func (w *DownloadsWatchdog) reportWhenStable(path string) {
	var last int64 = -1
	for i := 0; i < 20; i++ {
		time.Sleep(500 * time.Millisecond)
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.Size() == last {
			w.report(path, info.Size())
			return
		}
		last = info.Size()
	}
	L_debug("downloads: file never settled", "path", path)
}

// report emits FileDownloadedEvent once per path. The devtools handler and
// the directory watcher both end up here; the first one wins.
func (w *DownloadsWatchdog) report(path string, size int64) {
	w.mu.Lock()
	if when, ok := w.reported[path]; ok && time.Since(when) < time.Minute {
		w.mu.Unlock()
		return
	}
	w.reported[path] = time.Now()
	w.mu.Unlock()

	mimeType, err := media.DetectMIMEFile(path)
	if err != nil {
		mimeType = "application/octet-stream"
	}
	MetricInc("downloads", "files")
	L_info("downloads: file ready", "path", path, "size", size, "type", mimeType)
	w.session.Bus().Dispatch(browser.FileDownloadedEvent{
		Path:     path,
		FileName: filepath.Base(path),
		MIMEType: mimeType,
		Size:     size,
	})
}

func (w *DownloadsWatchdog) inFlight(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[name]
	return ok
}

// ignoredDownloadName filters partial transfers and hidden files.
func ignoredDownloadName(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, ".crdownload") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, ".part")
}

// uniquePath picks a non-colliding path for a suggested filename, suffixing
// " (n)" before the extension the way browsers do. Suggested names come from
// the remote page, so they are flattened to a safe basename first.
func uniquePath(dir, name string) string {
	name = safeFilename(name)
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(path); err != nil {
			return path
		}
	}
}

var unsafeNameChars = regexp.MustCompile(`[^\w .()-]`)

// safeFilename reduces a suggested filename to a plain basename with no
// path or shell-hostile characters.
func safeFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._ ")
	if name == "" {
		return "download"
	}
	if len(name) > 128 {
		name = name[:128]
	}
	return name
}
