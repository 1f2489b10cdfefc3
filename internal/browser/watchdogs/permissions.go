package watchdogs

import (
	"context"
	"errors"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
)

// defaultPermissions are granted on connect so the usual permission prompts
// never appear. Nobody is there to answer them.
var defaultPermissions = []proto.BrowserPermissionType{
	proto.BrowserPermissionTypeClipboardReadWrite,
	proto.BrowserPermissionTypeClipboardSanitizedWrite,
	proto.BrowserPermissionTypeNotifications,
}

// PermissionsWatchdog grants browser permissions: a default set at connect
// time, plus whatever callers request explicitly.
type PermissionsWatchdog struct {
	session *browser.Session
}

func NewPermissionsWatchdog(s *browser.Session) *PermissionsWatchdog {
	return &PermissionsWatchdog{session: s}
}

func (w *PermissionsWatchdog) Name() string { return "permissions" }

func (w *PermissionsWatchdog) Handlers() []browser.HandlerEntry {
	return []browser.HandlerEntry{
		{Tag: browser.TagConnected, Fn: w.onConnected},
		{Tag: browser.TagGrantPermissions, Fn: w.onGrant},
	}
}

func (w *PermissionsWatchdog) onConnected(ctx context.Context, ev bus.Event) (any, error) {
	if err := w.grant("", defaultPermissions); err != nil {
		// Attached browsers may not allow blanket grants; not fatal.
		L_debug("permissions: default grant failed", "error", err)
	}
	return nil, nil
}

func (w *PermissionsWatchdog) onGrant(ctx context.Context, ev bus.Event) (any, error) {
	e, err := payload[browser.GrantPermissionsEvent](ev)
	if err != nil {
		return nil, err
	}
	if len(e.Permissions) == 0 {
		return nil, errors.New("no permissions to grant")
	}
	if err := w.grant(e.Origin, e.Permissions); err != nil {
		return nil, err
	}
	L_info("permissions: granted", "origin", e.Origin, "count", len(e.Permissions))
	return nil, nil
}

func (w *PermissionsWatchdog) grant(origin string, perms []proto.BrowserPermissionType) error {
	b := w.session.Browser()
	if b == nil {
		return browser.ErrSessionStopped
	}
	req := proto.BrowserGrantPermissions{Permissions: perms}
	if origin != "" {
		req.Origin = origin
	}
	if err := req.Call(b); err != nil {
		return browser.NewProtocolError("Browser.grantPermissions", err)
	}
	return nil
}
