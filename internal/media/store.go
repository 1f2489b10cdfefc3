// store.go keeps session artifacts (screenshots, page dumps) on disk long
// enough for a caller to collect them.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	. "github.com/repomirrorhq/better-use-sub001/internal/metrics"

	"github.com/repomirrorhq/better-use-sub001/internal/paths"
)

const (
	// DefaultDir is where artifacts land when the config names no directory.
	DefaultDir = "~/.betteruse/media"

	// DefaultTTL bounds how long an artifact stays on disk.
	DefaultTTL = 10 * time.Minute
)

// Config tunes the artifact store.
type Config struct {
	Dir     string `json:"dir"`     // base directory (default ~/.betteruse/media)
	TTL     int    `json:"ttl"`     // artifact lifetime in seconds (default 600)
	MaxSize int    `json:"maxSize"` // per-file ceiling in bytes (default 5MB)
}

// Store writes artifacts under per-kind subdirectories of one base directory
// and expires them on a timer. A path handed out stays valid for at least
// the TTL.
type Store struct {
	base    string
	ttl     time.Duration
	maxSize int64

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// New resolves the configured directory (tilde expanded, created 0700) and
// returns a store. Call Start to arm the expiry sweep.
func New(cfg Config) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir
	}
	dir, err := paths.ExpandTilde(dir)
	if err != nil {
		return nil, err
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}

	s := &Store{
		base:    dir,
		ttl:     time.Duration(cfg.TTL) * time.Second,
		maxSize: int64(cfg.MaxSize),
		stop:    make(chan struct{}),
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxSize <= 0 {
		s.maxSize = MaxBytes
	}
	L_info("media: store ready", "dir", dir, "ttl", s.ttl.String())
	return s, nil
}

// Start arms the expiry sweep: one pass now, then every half TTL but no more
// than once a minute.
func (s *Store) Start() {
	interval := s.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.sweep()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the sweep loop. Artifacts already on disk stay where they are.
func (s *Store) Close() {
	close(s.stop)
	s.wg.Wait()
}

// BaseDir returns the resolved artifact directory.
func (s *Store) BaseDir() string { return s.base }

// Save writes one artifact under the given kind ("screenshots", "dumps") and
// returns its absolute path. Names are short random ids so concurrent saves
// never collide.
func (s *Store) Save(data []byte, kind, ext string) (string, error) {
	if int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("artifact of %d bytes exceeds the %d byte ceiling", len(data), s.maxSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.base, kind)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating %s dir: %w", kind, err)
	}
	path := filepath.Join(dir, uuid.NewString()[:8]+ext)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}

	MetricInc("media", "saved")
	L_debug("media: artifact saved", "path", path, "bytes", len(data))
	return path, nil
}

// SaveScreenshot files an optimized capture under screenshots/ with the
// extension matching its encoding.
func (s *Store) SaveScreenshot(img *Image) (string, error) {
	return s.Save(img.Data, "screenshots", extFor(img.MimeType))
}

func extFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ".jpg"
}

// sweep deletes artifacts older than the TTL. Directories stay; empty ones
// cost nothing and keep concurrent saves simple.
func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.ttl)
	removed := 0
	filepath.WalkDir(s.base, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 {
		L_debug("media: expired artifacts removed", "count", removed)
	}
}
