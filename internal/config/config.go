package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/repomirrorhq/better-use-sub001/internal/logging"
	"github.com/repomirrorhq/better-use-sub001/internal/media"
	"github.com/repomirrorhq/better-use-sub001/internal/paths"
)

// Config represents the merged betteruse configuration
type Config struct {
	Logging   logging.Config  `json:"logging"`
	Browser   BrowserConfig   `json:"browser"`
	Security  SecurityConfig  `json:"security"`
	Bus       BusConfig       `json:"bus"`
	Media     media.Config    `json:"media"`
	Storage   StorageConfig   `json:"storage"`
	Downloads DownloadsConfig `json:"downloads"`
}

// SecurityConfig controls which URLs the session may visit.
type SecurityConfig struct {
	AllowedDomains  []string `json:"allowedDomains"`  // glob patterns; empty = allow all public hosts
	BlockPrivateIPs bool     `json:"blockPrivateIPs"` // refuse RFC1918/loopback/metadata targets
}

// BusConfig tunes the session event bus.
type BusConfig struct {
	HistoryLimit int `json:"historyLimit"` // retained event records (default 100)
	QueueSize    int `json:"queueSize"`    // dispatch queue depth (default 256)
}

// StorageConfig controls cookie/localStorage persistence.
type StorageConfig struct {
	StatePath       string `json:"statePath"`       // storage-state JSON file (default ~/.betteruse/storage.json)
	SaveOnClose     bool   `json:"saveOnClose"`     // persist state when the session stops
	AutosaveSeconds int    `json:"autosaveSeconds"` // periodic save interval, 0 disables
}

// DownloadsConfig controls where browser downloads land.
type DownloadsConfig struct {
	Dir string `json:"dir"` // download directory (default ~/.betteruse/downloads)
}

// DefaultConfig returns the built-in defaults before any file overlay.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level: logging.LevelInfo,
		},
		Browser: DefaultBrowserConfig(),
		Security: SecurityConfig{
			BlockPrivateIPs: true,
		},
		Bus: BusConfig{
			HistoryLimit: 100,
			QueueSize:    256,
		},
	}
}

// Load reads configuration with defaults, overlaid by ~/.betteruse/betteruse.json,
// overlaid by ./betteruse.json. Later files override earlier values.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	candidates := []string{"betteruse.json"}
	if global, err := paths.DataPath("betteruse.json"); err == nil {
		candidates = []string{global, "betteruse.json"}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values a file overlay may have clobbered.
func (c *Config) applyDefaults() {
	if c.Browser.DefaultProfile == "" {
		c.Browser.DefaultProfile = "default"
	}
	if c.Browser.WindowWidth <= 0 {
		c.Browser.WindowWidth = 1280
	}
	if c.Browser.WindowHeight <= 0 {
		c.Browser.WindowHeight = 1100
	}
	if c.Bus.HistoryLimit <= 0 {
		c.Bus.HistoryLimit = 100
	}
	if c.Bus.QueueSize <= 0 {
		c.Bus.QueueSize = 256
	}
	if c.Storage.StatePath == "" {
		c.Storage.StatePath = DefaultPath("storage.json")
	}
	if c.Downloads.Dir == "" {
		c.Downloads.Dir = DefaultPath("downloads")
	}
}

// DefaultPath resolves a filename under the ~/.betteruse directory.
func DefaultPath(name string) string {
	path, err := paths.DataPath(name)
	if err != nil {
		return filepath.Join(".betteruse", name)
	}
	return path
}
