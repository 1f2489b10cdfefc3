package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/devices"
)

func TestDefaultsFillZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Browser.DefaultProfile != "default" {
		t.Errorf("profile = %q", cfg.Browser.DefaultProfile)
	}
	if cfg.Browser.WindowWidth != 1280 || cfg.Browser.WindowHeight != 1100 {
		t.Errorf("window = %dx%d", cfg.Browser.WindowWidth, cfg.Browser.WindowHeight)
	}
	if cfg.Bus.HistoryLimit != 100 || cfg.Bus.QueueSize != 256 {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if cfg.Storage.StatePath == "" {
		t.Error("storage path not defaulted")
	}
	if cfg.Downloads.Dir == "" {
		t.Error("downloads dir not defaulted")
	}
}

func TestProfileForDomain(t *testing.T) {
	cfg := DefaultBrowserConfig()
	cfg.ProfileDomains = map[string]string{
		"github.com":   "work",
		"*.github.com": "work-sub",
		"*":            "fallback",
	}

	tests := []struct {
		domain string
		want   string
	}{
		{"github.com", "work"},
		{"api.github.com", "work-sub"},
		{"deep.api.github.com", "work-sub"},
		{"example.com", "fallback"},
	}
	for _, tt := range tests {
		if got := cfg.ProfileForDomain(tt.domain); got != tt.want {
			t.Errorf("ProfileForDomain(%q) = %q, want %q", tt.domain, got, tt.want)
		}
	}

	cfg.ProfileDomains = nil
	if got := cfg.ProfileForDomain("example.com"); got != "default" {
		t.Errorf("no mapping should fall back to default profile, got %q", got)
	}
}

func TestActionTimeout(t *testing.T) {
	cfg := DefaultBrowserConfig()
	if got := cfg.ActionTimeout(); got != 30*time.Second {
		t.Errorf("default timeout = %v", got)
	}

	cfg.Timeout = "90s"
	if got := cfg.ActionTimeout(); got != 90*time.Second {
		t.Errorf("parsed timeout = %v", got)
	}

	for _, bad := range []string{"", "not-a-duration", "-5s"} {
		cfg.Timeout = bad
		if got := cfg.ActionTimeout(); got != 30*time.Second {
			t.Errorf("timeout %q should fall back, got %v", bad, got)
		}
	}
}

func TestEmulationUnknownNamesMeanClear(t *testing.T) {
	cfg := DefaultBrowserConfig()

	cfg.Device = "iphone-x"
	if d := cfg.Emulation(); reflect.DeepEqual(d, devices.Clear) {
		t.Error("iphone-x should pick a device preset")
	}

	cfg.Device = "no-such-device"
	if d := cfg.Emulation(); !reflect.DeepEqual(d, devices.Clear) {
		t.Error("unknown device should mean no emulation")
	}
}

func TestBrowserDirLayout(t *testing.T) {
	cfg := DefaultBrowserConfig()
	home := "/home/tester"

	if got := cfg.DataDir(home); got != filepath.Join(home, ".betteruse", "browser") {
		t.Errorf("DataDir = %q", got)
	}
	if got := cfg.ProfilesDir(home); got != filepath.Join(home, ".betteruse", "browser", "profiles") {
		t.Errorf("ProfilesDir = %q", got)
	}

	cfg.Dir = "/srv/browser"
	if got := cfg.BinDir(home); got != "/srv/browser/bin" {
		t.Errorf("explicit dir not honored: %q", got)
	}
}

func TestAtomicWriteAndBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	type payload struct {
		N int `json:"n"`
	}

	for n := 1; n <= 3; n++ {
		if err := BackupAndWriteJSON(path, payload{N: n}, 2); err != nil {
			t.Fatalf("write %d: %v", n, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "{\n  \"n\": 3\n}" {
		t.Errorf("current content = %q", data)
	}

	// .bak holds the previous version, .bak.1 the one before that.
	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("no .bak created: %v", err)
	}
	if string(bak) != "{\n  \"n\": 2\n}" {
		t.Errorf(".bak content = %q", bak)
	}
	if _, err := os.Stat(path + ".bak.1"); err != nil {
		t.Errorf("no .bak.1 after rotation: %v", err)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
