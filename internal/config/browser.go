package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/devices"
)

// BrowserConfig controls how the browser is obtained and what it pretends
// to be. Leaving AttachURL empty launches a managed Chromium; setting it
// attaches to a browser somebody else started.
type BrowserConfig struct {
	Dir          string `json:"dir"`          // data root, empty means ~/.betteruse/browser
	AutoDownload bool   `json:"autoDownload"` // fetch Chromium when no binary is found
	Revision     string `json:"revision"`     // pin a Chromium revision, empty takes the launcher default
	AttachURL    string `json:"attachURL"`    // devtools ws:// endpoint of an already running browser

	Headless  bool   `json:"headless"`
	NoSandbox bool   `json:"noSandbox"` // required under Docker and as root
	Proxy     string `json:"proxy"`
	Timeout   string `json:"timeout"` // per-action deadline, duration string

	Stealth      bool   `json:"stealth"`      // inject stealth scripts into every page
	Device       string `json:"device"`       // emulation preset name, "clear" disables
	WindowWidth  int    `json:"windowWidth"`  // viewport width when no device preset applies
	WindowHeight int    `json:"windowHeight"` // viewport height when no device preset applies
	UserAgent    string `json:"userAgent"`

	DefaultProfile string            `json:"defaultProfile"`
	ProfileDomains map[string]string `json:"profileDomains"` // host pattern to profile name
}

// DefaultBrowserConfig returns the launch settings used when no config file
// says otherwise.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		AutoDownload:   true,
		Headless:       true,
		Timeout:        "30s",
		Stealth:        true,
		Device:         "clear",
		WindowWidth:    1280,
		WindowHeight:   1100,
		DefaultProfile: "default",
		ProfileDomains: map[string]string{},
	}
}

// DataDir is the root of everything the browser writes. Binaries live under
// bin and each profile gets its own subdirectory of profiles.
func (c *BrowserConfig) DataDir(home string) string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(home, ".betteruse", "browser")
}

// BinDir holds downloaded Chromium binaries.
func (c *BrowserConfig) BinDir(home string) string {
	return filepath.Join(c.DataDir(home), "bin")
}

// ProfilesDir holds the per-profile user data directories.
func (c *BrowserConfig) ProfilesDir(home string) string {
	return filepath.Join(c.DataDir(home), "profiles")
}

// ActionTimeout parses the configured per-action deadline, falling back to
// 30s on anything empty or unparseable.
func (c *BrowserConfig) ActionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ProfileForDomain picks the profile for a host. Exact entries win over
// wildcard entries like "*.github.com", which win over the catch-all "*".
// Hosts nothing matches land on the default profile.
func (c *BrowserConfig) ProfileForDomain(domain string) string {
	if p, ok := c.ProfileDomains[domain]; ok {
		return p
	}
	rest := domain
	for {
		i := strings.IndexByte(rest, '.')
		if i < 0 {
			break
		}
		rest = rest[i+1:]
		if p, ok := c.ProfileDomains["*."+rest]; ok {
			return p
		}
	}
	if p, ok := c.ProfileDomains["*"]; ok {
		return p
	}
	return c.DefaultProfile
}

// devicePresets maps friendly names onto rod's emulation presets.
var devicePresets = map[string]devices.Device{
	"laptop":        devices.LaptopWithMDPIScreen,
	"laptop-mdpi":   devices.LaptopWithMDPIScreen,
	"laptop-hidpi":  devices.LaptopWithHiDPIScreen,
	"laptop-touch":  devices.LaptopWithTouch,
	"iphone-x":      devices.IPhoneX,
	"iphone-8":      devices.IPhone6or7or8,
	"iphone-8-plus": devices.IPhone6or7or8Plus,
	"iphone-se":     devices.IPhone5orSE,
	"ipad":          devices.IPad,
	"ipad-mini":     devices.IPadMini,
	"ipad-pro":      devices.IPadPro,
	"pixel-2":       devices.Pixel2,
	"pixel-2-xl":    devices.Pixel2XL,
	"galaxy-s5":     devices.GalaxyS5,
	"galaxy-fold":   devices.GalaxyFold,
	"nexus-5":       devices.Nexus5,
	"nexus-7":       devices.Nexus7,
	"nexus-10":      devices.Nexus10,
	"kindle-fire":   devices.KindleFireHDX,
	"surface-duo":   devices.SurfaceDuo,
}

// Emulation returns the device preset for the configured name. Unknown
// names and "clear" both mean no emulation.
func (c *BrowserConfig) Emulation() devices.Device {
	if d, ok := devicePresets[strings.ToLower(c.Device)]; ok {
		return d
	}
	return devices.Clear
}
