package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/repomirrorhq/better-use-sub001/internal/config"
	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
	. "github.com/repomirrorhq/better-use-sub001/internal/metrics"
)

// AttachedProfile is the reserved profile name that attaches to an already
// running browser over its devtools endpoint instead of launching one.
const AttachedProfile = "attached"

// Chrome refuses to start when a crashed session left its singleton files
// behind in the profile directory.
var staleLockNames = []string{"SingletonLock", "SingletonCookie", "SingletonSocket"}

func clearStaleLocks(profileDir string) {
	for _, name := range staleLockNames {
		p := filepath.Join(profileDir, name)
		err := os.Remove(p)
		switch {
		case err == nil:
			L_info("browser: removed stale lock", "file", p)
		case !os.IsNotExist(err):
			L_warn("browser: cannot remove stale lock", "file", p, "error", err)
		}
	}
}

// browserAlive probes the devtools connection with a cheap protocol call.
// A torn-down CDP client panics instead of returning an error, so the
// probe recovers and treats a panic as dead.
func browserAlive(b *rod.Browser) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_, err := b.Call(nil, "", "Browser.getVersion", nil)
	return err == nil
}

// Manager owns browser processes for the whole application: binary download,
// profile directories, and one browser instance per profile.
type Manager struct {
	config     config.BrowserConfig
	homeDir    string
	downloader *Downloader
	profiles   *ProfileManager

	browsers    map[string]*rod.Browser
	controlURLs map[string]string
	browsersMu  sync.Mutex
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global browser manager, nil before InitManager.
func GetManager() *Manager {
	return globalManager
}

// InitManager initializes the global browser manager. Called once during
// startup; later calls return the existing instance.
func InitManager(cfg config.BrowserConfig) (*Manager, error) {
	var err error
	managerOnce.Do(func() {
		homeDir, e := os.UserHomeDir()
		if e != nil {
			err = fmt.Errorf("resolving home directory: %w", e)
			return
		}

		binDir := cfg.BinDir(homeDir)
		profilesDir := cfg.ProfilesDir(homeDir)

		globalManager = &Manager{
			config:      cfg,
			homeDir:     homeDir,
			downloader:  NewDownloader(binDir, cfg.Revision),
			profiles:    NewProfileManager(profilesDir),
			browsers:    make(map[string]*rod.Browser),
			controlURLs: make(map[string]string),
		}

		L_debug("browser: manager ready",
			"binDir", binDir,
			"profilesDir", profilesDir,
			"autoDownload", cfg.AutoDownload,
			"stealth", cfg.Stealth,
		)
	})

	if err != nil {
		return nil, err
	}
	return globalManager, nil
}

// ensureBinary resolves the Chromium binary, downloading it only when the
// configuration allows.
func (m *Manager) ensureBinary() (string, error) {
	if m.config.AutoDownload {
		return m.downloader.EnsureBrowser()
	}
	binPath, err := m.downloader.FindExistingBrowser()
	if err != nil {
		return "", fmt.Errorf("automatic downloads are disabled: %w", err)
	}
	return binPath, nil
}

// ForceDownload fetches the configured browser build even when a binary
// already exists.
func (m *Manager) ForceDownload() (string, error) {
	if m == nil {
		return "", fmt.Errorf("browser manager not initialized")
	}
	return m.downloader.ForceDownload()
}

// GetBrowser returns a browser for the given profile, launching one lazily
// and reusing it on later calls. The "attached" profile connects to an
// already running browser at the configured devtools URL.
//
// Launching holds the manager lock, so concurrent callers wait instead of
// racing to spawn the same profile twice.
func (m *Manager) GetBrowser(profile string) (*rod.Browser, error) {
	if m == nil {
		return nil, fmt.Errorf("browser manager not initialized")
	}
	if profile == "" {
		profile = m.config.DefaultProfile
	}

	m.browsersMu.Lock()
	defer m.browsersMu.Unlock()

	if b, ok := m.browsers[profile]; ok {
		if browserAlive(b) {
			return b, nil
		}
		L_debug("browser: cached instance is dead, replacing", "profile", profile)
		delete(m.browsers, profile)
		delete(m.controlURLs, profile)
	}

	var (
		b        *rod.Browser
		endpoint string
		err      error
	)
	if profile == AttachedProfile {
		b, endpoint, err = m.connectToAttached()
	} else {
		start := time.Now()
		b, endpoint, err = m.launchProfile(profile)
		if err == nil {
			MetricDuration("browser", "launch", time.Since(start))
		}
	}
	if err != nil {
		return nil, err
	}

	m.browsers[profile] = b
	m.controlURLs[profile] = endpoint
	return b, nil
}

// launchProfile starts a fresh browser process for the profile and connects
// to it.
func (m *Manager) launchProfile(profile string) (*rod.Browser, string, error) {
	binPath, err := m.ensureBinary()
	if err != nil {
		return nil, "", err
	}
	profileDir, err := m.profiles.EnsureProfile(profile)
	if err != nil {
		return nil, "", err
	}
	clearStaleLocks(profileDir)

	L_debug("browser: launching", "profile", profile, "dir", profileDir, "headless", m.config.Headless)

	controlURL, err := m.newLauncher(binPath, profileDir).Launch()
	if err != nil {
		return nil, "", fmt.Errorf("browser launch failed: %w", err)
	}

	b, err := connectTo(controlURL)
	if err != nil {
		return nil, "", err
	}

	// Rod defaults to LaptopWithMDPIScreen which constrains the viewport.
	b.DefaultDevice(m.config.Emulation())

	L_info("browser: running", "profile", profile, "controlURL", controlURL)
	return b, controlURL, nil
}

// newLauncher builds the launcher with the flags shared by headless and
// headed launches.
func (m *Manager) newLauncher(binPath, profileDir string) *launcher.Launcher {
	l := launcher.New().
		Bin(binPath).
		UserDataDir(profileDir).
		Headless(m.config.Headless).
		Set("disable-dev-shm-usage") // containers mount a tiny /dev/shm

	if m.config.WindowWidth > 0 && m.config.WindowHeight > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", m.config.WindowWidth, m.config.WindowHeight))
	}
	if m.config.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	if m.config.UserAgent != "" {
		l = l.Set("user-agent", m.config.UserAgent)
	}
	if m.config.Proxy != "" {
		l = l.Proxy(m.config.Proxy)
	}
	if m.config.NoSandbox {
		l = l.Set("no-sandbox")
	}
	return l
}

func connectTo(controlURL string) (*rod.Browser, error) {
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser at %s: %w", controlURL, err)
	}
	return b, nil
}

// ControlURL returns the devtools endpoint of a running profile, or empty.
func (m *Manager) ControlURL(profile string) string {
	if m == nil {
		return ""
	}
	m.browsersMu.Lock()
	defer m.browsersMu.Unlock()
	return m.controlURLs[profile]
}

// connectToAttached connects to an already running browser via its devtools
// endpoint, e.g. one started with --remote-debugging-port.
func (m *Manager) connectToAttached() (*rod.Browser, string, error) {
	defer MetricStartAuto("browser")()

	endpoint := m.config.AttachURL
	if endpoint == "" {
		endpoint = "ws://localhost:9222"
	}

	L_info("browser: attaching to running browser", "endpoint", endpoint)

	b := rod.New().ControlURL(endpoint)
	if err := b.Connect(); err != nil {
		return nil, "", fmt.Errorf("attaching to browser at %s (is it running with a devtools port?): %w", endpoint, err)
	}

	L_info("browser: attached", "endpoint", endpoint)
	return b, endpoint, nil
}

// closeLocked closes one managed browser. The attached profile is never
// closed; its lifetime belongs to whoever started it. Callers hold
// m.browsersMu.
func (m *Manager) closeLocked(profile string) {
	if profile == AttachedProfile {
		L_debug("browser: leaving attached browser running", "profile", profile)
		return
	}
	b, ok := m.browsers[profile]
	if !ok {
		return
	}
	b.Close()
	delete(m.browsers, profile)
	delete(m.controlURLs, profile)
	L_debug("browser: instance closed", "profile", profile)
}

// CloseBrowser closes the browser for one profile.
func (m *Manager) CloseBrowser(profile string) {
	if m == nil {
		return
	}
	if profile == "" {
		profile = m.config.DefaultProfile
	}
	m.browsersMu.Lock()
	defer m.browsersMu.Unlock()
	m.closeLocked(profile)
}

// CloseAll closes every managed browser.
func (m *Manager) CloseAll() {
	if m == nil {
		return
	}
	m.browsersMu.Lock()
	defer m.browsersMu.Unlock()

	for profile := range m.browsers {
		m.closeLocked(profile)
	}
	L_info("browser: all managed browsers closed")
}

// Profiles returns the profile manager.
func (m *Manager) Profiles() *ProfileManager {
	if m == nil {
		return nil
	}
	return m.profiles
}

// BrowserStatus is one row of the status listing.
type BrowserStatus struct {
	Profile    string `json:"profile"`
	Running    bool   `json:"running"`
	PageCount  int    `json:"pageCount"`
	ControlURL string `json:"controlURL,omitempty"`
}

// Status reports every running browser with its open page count.
func (m *Manager) Status() []BrowserStatus {
	if m == nil {
		return nil
	}
	m.browsersMu.Lock()
	defer m.browsersMu.Unlock()

	out := make([]BrowserStatus, 0, len(m.browsers))
	for profile, b := range m.browsers {
		st := BrowserStatus{
			Profile:    profile,
			Running:    true,
			ControlURL: m.controlURLs[profile],
		}
		if pages, err := b.Pages(); err == nil {
			st.PageCount = len(pages)
		}
		out = append(out, st)
	}
	return out
}

// newPage opens a page on the browser, injecting the stealth scripts when
// enabled.
func (m *Manager) newPage(b *rod.Browser) (*rod.Page, error) {
	if m.config.Stealth {
		return stealth.Page(b)
	}
	return b.Page(proto.TargetCreateTarget{})
}

// LaunchHeaded launches a visible browser for interactive profile setup,
// e.g. logging in to a site so the profile keeps the session.
func (m *Manager) LaunchHeaded(profile string, startURL string) (*rod.Browser, *rod.Page, error) {
	if m == nil {
		return nil, nil, fmt.Errorf("browser manager not initialized")
	}
	if profile == "" {
		profile = m.config.DefaultProfile
	}

	binPath, err := m.ensureBinary()
	if err != nil {
		return nil, nil, err
	}
	profileDir, err := m.profiles.EnsureProfile(profile)
	if err != nil {
		return nil, nil, err
	}
	clearStaleLocks(profileDir)

	L_info("browser: opening headed browser for setup", "profile", profile, "startURL", startURL)

	l := m.newLauncher(binPath, profileDir).
		Headless(false).
		Set("window-size", "1920,1080").
		Set("start-maximized")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("headed launch failed: %w", err)
	}
	b, err := connectTo(controlURL)
	if err != nil {
		return nil, nil, err
	}
	b.DefaultDevice(m.config.Emulation())

	page, err := m.newPage(b)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("creating setup page: %w", err)
	}

	if startURL != "" {
		if err := page.Navigate(startURL); err != nil {
			// Leave the page blank; the user can navigate by hand.
			L_warn("browser: start URL failed", "url", startURL, "error", err)
		}
	}

	return b, page, nil
}
