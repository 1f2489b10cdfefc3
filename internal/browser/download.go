package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-rod/rod/lib/launcher"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	"github.com/repomirrorhq/better-use-sub001/internal/paths"
)

// Downloader fetches and locates the managed Chromium build. Safe for
// concurrent use; the resolved binary path is cached until the file
// disappears from disk.
type Downloader struct {
	binDir   string
	revision string

	mu      sync.Mutex
	binPath string
}

// NewDownloader creates a downloader rooted at binDir. revision pins a
// Chromium build number; empty means the launcher default.
func NewDownloader(binDir, revision string) *Downloader {
	return &Downloader{binDir: binDir, revision: revision}
}

// cached returns the remembered binary if it still exists on disk.
// Callers hold d.mu.
func (d *Downloader) cached() string {
	if d.binPath == "" {
		return ""
	}
	if _, err := os.Stat(d.binPath); err != nil {
		d.binPath = ""
		return ""
	}
	return d.binPath
}

// EnsureBrowser returns the path to the Chromium binary, fetching the build
// first when none is present.
func (d *Downloader) EnsureBrowser() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p := d.cached(); p != "" {
		return p, nil
	}

	if err := paths.EnsureDir(d.binDir); err != nil {
		return "", err
	}

	fetcher := launcher.NewBrowser()
	fetcher.RootDir = d.binDir
	if d.revision != "" {
		rev, err := strconv.Atoi(d.revision)
		if err != nil {
			return "", fmt.Errorf("bad browser revision %q: %w", d.revision, err)
		}
		fetcher.Revision = rev
	}

	L_debug("browser: fetching build", "binDir", d.binDir, "revision", fetcher.Revision)
	p, err := fetcher.Get()
	if err != nil {
		return "", fmt.Errorf("browser download failed: %w", err)
	}

	d.binPath = p
	L_info("browser: build ready", "path", p)
	return p, nil
}

// ForceDownload re-fetches the build even when a binary is already cached.
func (d *Downloader) ForceDownload() (string, error) {
	d.mu.Lock()
	d.binPath = ""
	d.mu.Unlock()
	return d.EnsureBrowser()
}

// Relative locations the fetcher uses for the binary inside a build
// directory, per platform.
var binaryPaths = []string{
	"chrome",
	"chrome.exe",
	filepath.Join("Chromium.app", "Contents", "MacOS", "Chromium"),
}

func findBinary(buildDir string) string {
	for _, rel := range binaryPaths {
		p := filepath.Join(buildDir, rel)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// FindExistingBrowser locates an already downloaded binary without fetching
// anything. Used when automatic downloads are disabled.
func (d *Downloader) FindExistingBrowser() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p := d.cached(); p != "" {
		return p, nil
	}

	entries, err := os.ReadDir(d.binDir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", d.binDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if p := findBinary(filepath.Join(d.binDir, e.Name())); p != "" {
			d.binPath = p
			return p, nil
		}
	}
	return "", fmt.Errorf("no browser build under %s", d.binDir)
}
