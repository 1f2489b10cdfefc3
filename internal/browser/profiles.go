package browser

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	"github.com/repomirrorhq/better-use-sub001/internal/paths"
)

// ProfileInfo describes one browser profile on disk.
type ProfileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	LastUsed time.Time `json:"lastUsed"`
}

// ProfileManager owns the browser profile directories. Each profile holds
// its own cookies, local storage and cache, so separate sites can keep
// separate identities.
type ProfileManager struct {
	profilesDir string
}

// NewProfileManager creates a manager rooted at profilesDir.
func NewProfileManager(profilesDir string) *ProfileManager {
	return &ProfileManager{profilesDir: profilesDir}
}

// ProfileDir returns the directory of a profile without creating it. Empty
// names mean the default profile.
func (m *ProfileManager) ProfileDir(name string) string {
	if name == "" {
		name = "default"
	}
	return filepath.Join(m.profilesDir, name)
}

// EnsureProfile creates the profile directory when missing and returns its
// path.
func (m *ProfileManager) EnsureProfile(name string) (string, error) {
	dir := m.ProfileDir(name)
	if err := paths.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// ListProfiles describes every profile directory.
func (m *ProfileManager) ListProfiles() ([]ProfileInfo, error) {
	entries, err := os.ReadDir(m.profilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", m.profilesDir, err)
	}

	var profiles []ProfileInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info := ProfileInfo{Name: entry.Name(), Path: filepath.Join(m.profilesDir, entry.Name())}

		// Unreadable entries are skipped rather than failing the listing;
		// Chrome keeps transient files with odd permissions in here.
		filepath.WalkDir(info.Path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				info.Size += fi.Size()
				if fi.ModTime().After(info.LastUsed) {
					info.LastUsed = fi.ModTime()
				}
			}
			return nil
		})
		profiles = append(profiles, info)
	}
	return profiles, nil
}

// ClearProfile wipes a profile's contents but keeps the directory, so the
// name survives with fresh state.
func (m *ProfileManager) ClearProfile(name string) error {
	dir := m.ProfileDir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("no profile %s: %w", name, err)
	}
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(p); err != nil {
			L_warn("browser: profile entry not removed", "path", p, "error", err)
		}
	}
	L_info("browser: profile cleared", "name", name)
	return nil
}

// DeleteProfile removes a profile entirely. The default profile cannot be
// deleted, only cleared.
func (m *ProfileManager) DeleteProfile(name string) error {
	if name == "" || name == "default" {
		return fmt.Errorf("the default profile can be cleared but not deleted")
	}
	dir := m.ProfileDir(name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("no profile %s: %w", name, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting profile %s: %w", name, err)
	}
	L_info("browser: profile deleted", "name", name)
	return nil
}

// FormatSize renders a byte count the way directory listings do.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
