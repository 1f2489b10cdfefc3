package watchdogs

import (
	"fmt"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/media"
)

// AttachDefaults attaches the standard watchdog set to a session's host.
// Order matters: handlers run in registration order, so the DOM watchdog
// sees page-change events before anything that might rebuild on top of
// them.
func AttachDefaults(host *browser.WatchdogHost, session *browser.Session, store *media.Store) error {
	domWd := NewDOMWatchdog(session)
	set := []browser.Watchdog{
		domWd,
		NewActionWatchdog(session, domWd),
		NewNavigationWatchdog(session, domWd),
		NewCrashWatchdog(session),
		NewSecurityWatchdog(session),
		NewPopupsWatchdog(session),
		NewPermissionsWatchdog(session),
		NewDownloadsWatchdog(session),
		NewStorageStateWatchdog(session),
		NewScreenshotWatchdog(session, store),
	}
	for _, wd := range set {
		if err := host.Attach(wd); err != nil {
			return fmt.Errorf("attaching %s: %w", wd.Name(), err)
		}
	}
	return nil
}
