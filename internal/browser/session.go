package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/repomirrorhq/better-use-sub001/internal/bus"
	"github.com/repomirrorhq/better-use-sub001/internal/config"
	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
)

// Session owns one browser connection and the event surface around it.
// Concurrent callers act only through the bus; watchdogs translate intents
// into protocol calls against the session's pages. The devtools client
// serializes the wire, so handler goroutines may call freely.
type Session struct {
	cfg     config.Config
	manager *Manager
	bus     *bus.Bus
	profile string
	policy  URLPolicy

	mu      sync.RWMutex
	browser *rod.Browser
	focused *rod.Page
	adopted map[proto.TargetTargetID]bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewSession creates a session for the configured profile. The bus is
// shared with the watchdog host; the session does not close it.
func NewSession(cfg config.Config, mgr *Manager, b *bus.Bus) *Session {
	profile := cfg.Browser.DefaultProfile
	if cfg.Browser.AttachURL != "" {
		profile = AttachedProfile
	}
	return &Session{
		cfg:     cfg,
		manager: mgr,
		bus:     b,
		profile: profile,
		policy: URLPolicy{
			AllowedDomains:  cfg.Security.AllowedDomains,
			BlockPrivateIPs: cfg.Security.BlockPrivateIPs,
		},
		adopted: make(map[proto.TargetTargetID]bool),
		stopped: make(chan struct{}),
	}
}

// Start connects to the browser, adopts its pages and begins relaying
// protocol notifications onto the bus. Emits ConnectedEvent on success.
func (s *Session) Start(ctx context.Context) error {
	browser, err := s.manager.GetBrowser(s.profile)
	if err != nil {
		return fmt.Errorf("session start: %w", err)
	}

	s.mu.Lock()
	s.browser = browser
	s.mu.Unlock()

	pages, err := browser.Pages()
	if err != nil {
		return NewProtocolError("Target.getTargets", err)
	}
	for _, p := range pages {
		s.adoptPage(p)
	}
	if len(pages) > 0 {
		s.mu.Lock()
		s.focused = pages[0]
		s.mu.Unlock()
	} else {
		if _, err := s.NewPage("about:blank"); err != nil {
			return err
		}
	}

	go s.watchBrowser(browser)

	s.bus.Dispatch(ConnectedEvent{ControlURL: s.manager.ControlURL(s.profile)})
	L_info("session: started", "profile", s.profile, "pages", max(len(pages), 1))
	return nil
}

// Stop shuts the session down. Persists storage state first when configured,
// then emits StoppedEvent and closes the browser. Safe to call twice.
func (s *Session) Stop(reason string) {
	s.stopOnce.Do(func() {
		if s.cfg.Storage.SaveOnClose {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := s.bus.DispatchAndAwait(ctx, SaveStorageStateEvent{}, 5*time.Second); err != nil {
				L_warn("session: storage save on close failed", "error", err)
			}
			cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if _, err := s.bus.DispatchAndAwait(ctx, StoppedEvent{Reason: reason}, 3*time.Second); err != nil {
			L_debug("session: stop event not fully delivered", "error", err)
		}
		cancel()

		close(s.stopped)
		s.manager.CloseBrowser(s.profile)
		L_info("session: stopped", "profile", s.profile, "reason", reason)
	})
}

// Stopped is closed once the session has shut down.
func (s *Session) Stopped() <-chan struct{} { return s.stopped }

// Bus returns the session event bus.
func (s *Session) Bus() *bus.Bus { return s.bus }

// Config returns the session configuration.
func (s *Session) Config() config.Config { return s.cfg }

// Policy returns the navigation safety policy.
func (s *Session) Policy() URLPolicy { return s.policy }

// ActionTimeout is the default per-stage bound for protocol calls.
func (s *Session) ActionTimeout() time.Duration {
	return s.cfg.Browser.ActionTimeout()
}

// Browser returns the underlying connection, or nil before Start.
func (s *Session) Browser() *rod.Browser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.browser
}

// CurrentPage returns the focused page, falling back to the first open page
// or a fresh blank one.
func (s *Session) CurrentPage() (*rod.Page, error) {
	s.mu.RLock()
	focused := s.focused
	browser := s.browser
	s.mu.RUnlock()

	if browser == nil {
		return nil, ErrSessionStopped
	}
	if focused != nil {
		return focused, nil
	}

	pages, err := browser.Pages()
	if err != nil {
		return nil, NewProtocolError("Target.getTargets", err)
	}
	if len(pages) == 0 {
		return s.NewPage("about:blank")
	}

	s.mu.Lock()
	s.focused = pages[0]
	s.mu.Unlock()
	return pages[0], nil
}

// NewPage opens a tab, optionally navigating it, and focuses it. Stealth
// scripts are injected when the profile asks for them.
func (s *Session) NewPage(url string) (*rod.Page, error) {
	s.mu.RLock()
	browser := s.browser
	s.mu.RUnlock()
	if browser == nil {
		return nil, ErrSessionStopped
	}

	var (
		page *rod.Page
		err  error
	)
	if s.cfg.Browser.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, NewProtocolError("Target.createTarget", err)
	}

	s.adoptPage(page)
	s.mu.Lock()
	s.focused = page
	s.mu.Unlock()

	if url != "" && url != "about:blank" {
		if err := page.Navigate(url); err != nil {
			return page, NewNavigationError(url, err)
		}
	}
	return page, nil
}

// Tabs lists the open tabs, marking the focused one.
func (s *Session) Tabs() ([]TabInfo, error) {
	s.mu.RLock()
	browser := s.browser
	focused := s.focused
	s.mu.RUnlock()
	if browser == nil {
		return nil, ErrSessionStopped
	}

	pages, err := browser.Pages()
	if err != nil {
		return nil, NewProtocolError("Target.getTargets", err)
	}

	var focusedID proto.TargetTargetID
	if focused != nil {
		focusedID = focused.TargetID
	}

	tabs := make([]TabInfo, 0, len(pages))
	for _, p := range pages {
		tab := TabInfo{
			TargetID: string(p.TargetID),
			Focused:  p.TargetID == focusedID,
		}
		if info, err := p.Info(); err == nil {
			tab.URL = info.URL
			tab.Title = info.Title
		}
		tabs = append(tabs, tab)
	}
	return tabs, nil
}

// PageForTarget resolves a target id to its page. Empty id means the
// focused page.
func (s *Session) PageForTarget(targetID string) (*rod.Page, error) {
	if targetID == "" {
		return s.CurrentPage()
	}

	s.mu.RLock()
	browser := s.browser
	s.mu.RUnlock()
	if browser == nil {
		return nil, ErrSessionStopped
	}

	page, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("no tab %s: %w", targetID, err)
	}
	return page, nil
}

// SwitchToTab focuses a tab by target id. Empty id switches to the most
// recently opened tab.
func (s *Session) SwitchToTab(targetID string) (TabInfo, error) {
	s.mu.RLock()
	browser := s.browser
	s.mu.RUnlock()
	if browser == nil {
		return TabInfo{}, ErrSessionStopped
	}

	var page *rod.Page
	if targetID == "" {
		pages, err := browser.Pages()
		if err != nil {
			return TabInfo{}, NewProtocolError("Target.getTargets", err)
		}
		if len(pages) == 0 {
			return TabInfo{}, ErrNoPage
		}
		page = pages[len(pages)-1]
	} else {
		var err error
		page, err = s.PageForTarget(targetID)
		if err != nil {
			return TabInfo{}, err
		}
	}

	if _, err := page.Activate(); err != nil {
		return TabInfo{}, NewProtocolError("Target.activateTarget", err)
	}
	s.adoptPage(page)
	s.mu.Lock()
	s.focused = page
	s.mu.Unlock()

	tab := TabInfo{TargetID: string(page.TargetID), Focused: true}
	if info, err := page.Info(); err == nil {
		tab.URL = info.URL
		tab.Title = info.Title
	}
	L_debug("session: switched tab", "target", tab.TargetID, "url", tab.URL)
	return tab, nil
}

// CloseTab closes a tab by target id, the focused one when empty. Focus
// moves to the first remaining tab; the last tab is replaced by a blank one
// so the session always has a page.
func (s *Session) CloseTab(targetID string) error {
	page, err := s.PageForTarget(targetID)
	if err != nil {
		return err
	}
	closingID := page.TargetID

	if err := page.Close(); err != nil {
		return NewProtocolError("Target.closeTarget", err)
	}

	s.mu.Lock()
	delete(s.adopted, closingID)
	wasFocused := s.focused != nil && s.focused.TargetID == closingID
	if wasFocused {
		s.focused = nil
	}
	s.mu.Unlock()

	if wasFocused {
		if _, err := s.CurrentPage(); err != nil {
			return err
		}
	}
	return nil
}

// FocusedTargetID names the focused tab, "" when none.
func (s *Session) FocusedTargetID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.focused == nil {
		return ""
	}
	return string(s.focused.TargetID)
}

// RestoreFocus re-activates a tab after an interaction may have moved it,
// best-effort.
func (s *Session) RestoreFocus(targetID string) {
	if targetID == "" {
		return
	}
	page, err := s.PageForTarget(targetID)
	if err != nil {
		L_debug("session: focus restore skipped, tab gone", "target", targetID)
		return
	}
	if _, err := page.Activate(); err != nil {
		L_debug("session: focus restore failed", "target", targetID, "error", err)
		return
	}
	s.mu.Lock()
	s.focused = page
	s.mu.Unlock()
}

// adoptPage starts relaying one page's notifications onto the bus. Adopting
// a page twice is a no-op.
func (s *Session) adoptPage(page *rod.Page) {
	s.mu.Lock()
	if s.adopted[page.TargetID] {
		s.mu.Unlock()
		return
	}
	s.adopted[page.TargetID] = true
	s.mu.Unlock()

	targetID := string(page.TargetID)
	mainFrame := page.FrameID

	go page.EachEvent(
		func(e *proto.PageJavascriptDialogOpening) {
			L_debug("session: dialog opened", "target", targetID, "type", e.Type, "message", e.Message)
			s.bus.Dispatch(DialogOpenedEvent{
				TargetID: targetID,
				Kind:     e.Type,
				Message:  e.Message,
			})
		},
		func(e *proto.PageFrameStartedLoading) {
			if e.FrameID != mainFrame {
				return
			}
			var url string
			if info, err := page.Info(); err == nil {
				url = info.URL
			}
			s.bus.Dispatch(NavigationStartedEvent{TargetID: targetID, URL: url})
		},
		func(e *proto.PageFrameStoppedLoading) {
			if e.FrameID != mainFrame {
				return
			}
			var url string
			if info, err := page.Info(); err == nil {
				url = info.URL
			}
			s.bus.Dispatch(NavigationCompleteEvent{TargetID: targetID, URL: url})
		},
	)()
}

// watchBrowser relays browser-level notifications onto the bus until the
// connection drops.
func (s *Session) watchBrowser(browser *rod.Browser) {
	browser.EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != "page" {
				return
			}
			s.bus.Dispatch(TabCreatedEvent{
				TargetID: string(e.TargetInfo.TargetID),
				URL:      e.TargetInfo.URL,
			})
			if page, err := browser.PageFromTarget(e.TargetInfo.TargetID); err == nil {
				s.adoptPage(page)
			}
		},
		func(e *proto.TargetTargetDestroyed) {
			s.mu.Lock()
			delete(s.adopted, e.TargetID)
			if s.focused != nil && s.focused.TargetID == e.TargetID {
				s.focused = nil
			}
			s.mu.Unlock()
			s.bus.Dispatch(TabClosedEvent{TargetID: string(e.TargetID)})
		},
		func(e *proto.TargetTargetCrashed) {
			L_warn("session: target crashed", "target", e.TargetID, "status", e.Status, "code", e.ErrorCode)
			s.bus.Dispatch(TargetCrashedEvent{
				TargetID: string(e.TargetID),
				Status:   e.Status,
				Code:     e.ErrorCode,
			})
		},
		func(e *proto.BrowserDownloadWillBegin) {
			s.bus.Dispatch(DownloadBegunEvent{
				GUID:              e.GUID,
				URL:               e.URL,
				SuggestedFilename: e.SuggestedFilename,
			})
		},
		func(e *proto.BrowserDownloadProgress) {
			s.bus.Dispatch(DownloadProgressEvent{
				GUID:     e.GUID,
				State:    string(e.State),
				Received: e.ReceivedBytes,
				Total:    e.TotalBytes,
			})
		},
	)()

	select {
	case <-s.stopped:
	default:
		L_warn("session: browser connection lost", "profile", s.profile)
		s.bus.Dispatch(ErrorEvent{Op: "connection", Err: fmt.Errorf("browser connection lost")})
	}
}
