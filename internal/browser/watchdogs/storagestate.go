package watchdogs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
	"github.com/repomirrorhq/better-use-sub001/internal/config"
)

// StorageState is the persisted browser identity: every cookie plus each
// origin's localStorage.
type StorageState struct {
	Cookies []*proto.NetworkCookie `json:"cookies"`
	Origins []OriginState          `json:"origins"`
}

// OriginState is one origin's localStorage dump.
type OriginState struct {
	Origin       string   `json:"origin"`
	LocalStorage []KVPair `json:"localStorage"`
}

type KVPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StorageStateWatchdog saves and restores cookies and origin storage.
// Cookies round-trip through the browser wholesale; localStorage can only
// be written into origins that have an open tab, everything else is
// skipped with a note.
type StorageStateWatchdog struct {
	session *browser.Session
}

func NewStorageStateWatchdog(s *browser.Session) *StorageStateWatchdog {
	return &StorageStateWatchdog{session: s}
}

func (w *StorageStateWatchdog) Name() string { return "storage-state" }

func (w *StorageStateWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagSaveStorageState, Fn: w.onSave},
		{Tag: browser.TagLoadStorageState, Fn: w.onLoad},
	}
}

func (w *StorageStateWatchdog) Emits() []string {
	return []string{browser.TagStorageStateSaved, browser.TagStorageStateLoaded}
}

// TickInterval enables periodic auto-save when configured; zero disables
// the tick entirely.
func (w *StorageStateWatchdog) TickInterval() time.Duration {
	return time.Duration(w.session.Config().Storage.AutosaveSeconds) * time.Second
}

// OnTick persists state on the auto-save schedule. A session without a
// browser yet is quietly skipped.
func (w *StorageStateWatchdog) OnTick(ctx context.Context) error {
	if w.session.Browser() == nil {
		return nil
	}
	_, err := w.save(w.session.Config().Storage.StatePath)
	return err
}

func (w *StorageStateWatchdog) onSave(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.SaveStorageStateEvent](ev)
	if err != nil {
		return nil, err
	}
	path := e.Path
	if path == "" {
		path = w.session.Config().Storage.StatePath
	}
	return w.save(path)
}

func (w *StorageStateWatchdog) save(path string) (string, error) {
	state, err := w.collect()
	if err != nil {
		return "", err
	}
	if err := config.BackupAndWriteJSON(path, state, 3); err != nil {
		return "", fmt.Errorf("writing storage state: %w", err)
	}

	L_info("storage: saved", "path", path,
		"cookies", len(state.Cookies), "origins", len(state.Origins))
	w.session.Bus().Dispatch(browser.StorageStateSavedEvent{
		Path:    path,
		Cookies: len(state.Cookies),
		Origins: len(state.Origins),
	})
	return path, nil
}

func (w *StorageStateWatchdog) onLoad(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.LoadStorageStateEvent](ev)
	if err != nil {
		return nil, err
	}
	path := e.Path
	if path == "" {
		path = w.session.Config().Storage.StatePath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading storage state: %w", err)
	}
	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing storage state: %w", err)
	}

	b := w.session.Browser()
	if b == nil {
		return nil, browser.ErrSessionStopped
	}
	if len(state.Cookies) > 0 {
		if err := b.SetCookies(cookieParams(state.Cookies)); err != nil {
			return nil, browser.NewProtocolError("Storage.setCookies", err)
		}
	}

	restored := w.restoreOrigins(b, state.Origins)
	L_info("storage: loaded", "path", path,
		"cookies", len(state.Cookies), "origins", restored)
	w.session.Bus().Dispatch(browser.StorageStateLoadedEvent{
		Path:    path,
		Cookies: len(state.Cookies),
		Origins: restored,
	})
	return map[string]int{"cookies": len(state.Cookies), "origins": restored}, nil
}

// collect gathers cookies from the browser and localStorage from each open
// page. A page that refuses the dump (chrome:// and friends) is skipped.
func (w *StorageStateWatchdog) collect() (*StorageState, error) {
	b := w.session.Browser()
	if b == nil {
		return nil, browser.ErrSessionStopped
	}
	cookies, err := b.GetCookies()
	if err != nil {
		return nil, browser.NewProtocolError("Storage.getCookies", err)
	}
	state := &StorageState{Cookies: cookies}

	pages, err := b.Pages()
	if err != nil {
		return state, nil
	}
	seen := make(map[string]bool)
	for _, page := range pages {
		res, err := page.Timeout(5 * time.Second).Eval(`() => {
			const items = [];
			for (let i = 0; i < localStorage.length; i++) {
				const k = localStorage.key(i);
				items.push({name: k, value: localStorage.getItem(k)});
			}
			return {origin: location.origin, items};
		}`)
		if err != nil {
			L_trace("storage: page refused localStorage dump", "error", err)
			continue
		}
		var dump struct {
			Origin string   `json:"origin"`
			Items  []KVPair `json:"items"`
		}
		if err := json.Unmarshal([]byte(res.Value.String()), &dump); err != nil {
			continue
		}
		if dump.Origin == "" || dump.Origin == "null" || seen[dump.Origin] || len(dump.Items) == 0 {
			continue
		}
		seen[dump.Origin] = true
		state.Origins = append(state.Origins, OriginState{
			Origin:       dump.Origin,
			LocalStorage: dump.Items,
		})
	}
	return state, nil
}

// restoreOrigins writes localStorage into matching open tabs and reports
// how many origins landed.
func (w *StorageStateWatchdog) restoreOrigins(b *rod.Browser, origins []OriginState) int {
	if len(origins) == 0 {
		return 0
	}
	pages, err := b.Pages()
	if err != nil {
		return 0
	}
	open := make(map[string]*rod.Page)
	for _, page := range pages {
		if info, err := page.Info(); err == nil {
			if o := originOf(info.URL); o != "" {
				open[o] = page
			}
		}
	}

	restored := 0
	for _, origin := range origins {
		page, ok := open[origin.Origin]
		if !ok {
			L_debug("storage: origin has no open tab, skipping", "origin", origin.Origin)
			continue
		}
		_, err := page.Timeout(5*time.Second).Eval(`(items) => {
			for (const it of items) localStorage.setItem(it.name, it.value);
		}`, origin.LocalStorage)
		if err != nil {
			L_warn("storage: restore failed", "origin", origin.Origin, "error", err)
			continue
		}
		restored++
	}
	return restored
}

// cookieParams converts read cookies back to settable form.
func cookieParams(cookies []*proto.NetworkCookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
			Expires:  c.Expires,
		})
	}
	return params
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
