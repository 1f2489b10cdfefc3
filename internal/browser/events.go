package browser

import (
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/dom"
)

// Event tags. Intents are what callers dispatch at the session; lifecycle
// tags are what the session emits back.
const (
	TagNavigate           = "browser.navigate"
	TagClick              = "browser.click"
	TagType               = "browser.type"
	TagScroll             = "browser.scroll"
	TagScrollToText       = "browser.scroll-to-text"
	TagSwitchTab          = "browser.switch-tab"
	TagCloseTab           = "browser.close-tab"
	TagUpload             = "browser.upload"
	TagDropdownOptions    = "browser.dropdown.options"
	TagDropdownSelect     = "browser.dropdown.select"
	TagSendKeys           = "browser.send-keys"
	TagWait               = "browser.wait"
	TagStateRequest       = "browser.state"
	TagScreenshot         = "browser.screenshot"
	TagSaveStorageState   = "browser.storage.save"
	TagLoadStorageState   = "browser.storage.load"
	TagGrantPermissions   = "browser.permissions.grant"
	TagConnected          = "browser.connected"
	TagStopped            = "browser.stopped"
	TagBrowserError       = "browser.error"
	TagTabCreated         = "browser.tab.created"
	TagTabClosed          = "browser.tab.closed"
	TagNavigationStarted  = "browser.navigation.started"
	TagNavigationComplete = "browser.navigation.complete"
	TagTargetCrashed      = "browser.target.crashed"
	TagDialogOpened       = "browser.dialog.opened"
	TagDownloadBegun      = "browser.download.begun"
	TagDownloadProgress   = "browser.download.progress"
	TagFileDownloaded     = "browser.file.downloaded"
	TagStorageStateSaved  = "browser.storage.saved"
	TagStorageStateLoaded = "browser.storage.loaded"
)

// NavigateEvent asks the session to load a URL, optionally in a new tab.
type NavigateEvent struct {
	URL    string
	NewTab bool
}

func (NavigateEvent) Tag() string                 { return TagNavigate }
func (NavigateEvent) EventTimeout() time.Duration { return 30 * time.Second }

// ClickEvent asks the session to click the element at a selector index.
// NewTab asks for the platform accelerator so links open in a new tab.
// ExpectDownload skips post-click navigation bookkeeping for links that
// trigger downloads.
type ClickEvent struct {
	Index          int
	NewTab         bool
	ExpectDownload bool
}

func (ClickEvent) Tag() string                 { return TagClick }
func (ClickEvent) EventTimeout() time.Duration { return 15 * time.Second }

// TypeEvent asks the session to type text into the element at Index.
// Index 0 targets whatever currently holds focus. Clear replaces the
// existing value first.
type TypeEvent struct {
	Index int
	Text  string
	Clear bool
}

func (TypeEvent) Tag() string                 { return TagType }
func (TypeEvent) EventTimeout() time.Duration { return 20 * time.Second }

// ScrollEvent scrolls the page, or the container of the element at Index
// when Index > 0. Down false scrolls up.
type ScrollEvent struct {
	Index  int
	Down   bool
	Amount int // pixels; 0 = one viewport
}

func (ScrollEvent) Tag() string                 { return TagScroll }
func (ScrollEvent) EventTimeout() time.Duration { return 10 * time.Second }

// ScrollToTextEvent scrolls the first occurrence of Text into view.
type ScrollToTextEvent struct {
	Text string
}

func (ScrollToTextEvent) Tag() string                 { return TagScrollToText }
func (ScrollToTextEvent) EventTimeout() time.Duration { return 10 * time.Second }

// SwitchTabEvent focuses another tab by target id ("" = most recent).
type SwitchTabEvent struct {
	TargetID string
}

func (SwitchTabEvent) Tag() string                 { return TagSwitchTab }
func (SwitchTabEvent) EventTimeout() time.Duration { return 10 * time.Second }

// CloseTabEvent closes a tab by target id ("" = the focused tab).
type CloseTabEvent struct {
	TargetID string
}

func (CloseTabEvent) Tag() string                 { return TagCloseTab }
func (CloseTabEvent) EventTimeout() time.Duration { return 10 * time.Second }

// UploadEvent sets local files on the file input at Index.
type UploadEvent struct {
	Index int
	Paths []string
}

func (UploadEvent) Tag() string                 { return TagUpload }
func (UploadEvent) EventTimeout() time.Duration { return 30 * time.Second }

// DropdownOptionsEvent lists the options of the select element at Index.
type DropdownOptionsEvent struct {
	Index int
}

func (DropdownOptionsEvent) Tag() string                 { return TagDropdownOptions }
func (DropdownOptionsEvent) EventTimeout() time.Duration { return 10 * time.Second }

// DropdownSelectEvent picks an option of the select element at Index by its
// visible label.
type DropdownSelectEvent struct {
	Index int
	Label string
}

func (DropdownSelectEvent) Tag() string                 { return TagDropdownSelect }
func (DropdownSelectEvent) EventTimeout() time.Duration { return 10 * time.Second }

// SendKeysEvent sends named keys or shortcuts ("Enter", "Control+a") to the
// focused element.
type SendKeysEvent struct {
	Keys string
}

func (SendKeysEvent) Tag() string                 { return TagSendKeys }
func (SendKeysEvent) EventTimeout() time.Duration { return 10 * time.Second }

// WaitEvent pauses before the next action. Seconds is capped by the event
// timeout.
type WaitEvent struct {
	Seconds float64
}

func (WaitEvent) Tag() string                 { return TagWait }
func (WaitEvent) EventTimeout() time.Duration { return 65 * time.Second }

// StateRequestEvent asks for a fresh element model of the focused tab.
type StateRequestEvent struct {
	IncludeScreenshot bool
}

func (StateRequestEvent) Tag() string                 { return TagStateRequest }
func (StateRequestEvent) EventTimeout() time.Duration { return 45 * time.Second }

// ScreenshotEvent captures the focused tab. FullPage captures beyond the
// viewport.
type ScreenshotEvent struct {
	FullPage bool
}

func (ScreenshotEvent) Tag() string                 { return TagScreenshot }
func (ScreenshotEvent) EventTimeout() time.Duration { return 15 * time.Second }

// SaveStorageStateEvent persists cookies and origin storage to Path
// ("" = the configured path).
type SaveStorageStateEvent struct {
	Path string
}

func (SaveStorageStateEvent) Tag() string                 { return TagSaveStorageState }
func (SaveStorageStateEvent) EventTimeout() time.Duration { return 10 * time.Second }

// LoadStorageStateEvent restores cookies and origin storage from Path
// ("" = the configured path).
type LoadStorageStateEvent struct {
	Path string
}

func (LoadStorageStateEvent) Tag() string                 { return TagLoadStorageState }
func (LoadStorageStateEvent) EventTimeout() time.Duration { return 10 * time.Second }

// GrantPermissionsEvent grants browser permissions (clipboard, geolocation)
// for an origin, "" for all origins.
type GrantPermissionsEvent struct {
	Origin      string
	Permissions []proto.BrowserPermissionType
}

func (GrantPermissionsEvent) Tag() string                 { return TagGrantPermissions }
func (GrantPermissionsEvent) EventTimeout() time.Duration { return 10 * time.Second }

// Lifecycle events emitted by the session.

// ConnectedEvent reports a live devtools connection.
type ConnectedEvent struct {
	ControlURL string
}

func (ConnectedEvent) Tag() string { return TagConnected }

// StoppedEvent reports the session shut down. Reason is "" for a clean stop.
type StoppedEvent struct {
	Reason string
}

func (StoppedEvent) Tag() string { return TagStopped }

// ErrorEvent reports a background failure that did not kill the session.
type ErrorEvent struct {
	Op  string
	Err error
}

func (ErrorEvent) Tag() string { return TagBrowserError }

// TabCreatedEvent reports a new page target.
type TabCreatedEvent struct {
	TargetID string
	URL      string
}

func (TabCreatedEvent) Tag() string { return TagTabCreated }

// TabClosedEvent reports a destroyed page target.
type TabClosedEvent struct {
	TargetID string
}

func (TabClosedEvent) Tag() string { return TagTabClosed }

// NavigationStartedEvent reports a main-frame navigation beginning.
type NavigationStartedEvent struct {
	TargetID string
	URL      string
}

func (NavigationStartedEvent) Tag() string { return TagNavigationStarted }

// NavigationCompleteEvent reports a main-frame navigation finishing.
// ErrorText carries the net error code when the load failed.
type NavigationCompleteEvent struct {
	TargetID  string
	URL       string
	ErrorText string
}

func (NavigationCompleteEvent) Tag() string { return TagNavigationComplete }

// TargetCrashedEvent reports a renderer crash.
type TargetCrashedEvent struct {
	TargetID string
	Status   string
	Code     int64
}

func (TargetCrashedEvent) Tag() string { return TagTargetCrashed }

// DialogOpenedEvent reports a JavaScript dialog blocking the page.
type DialogOpenedEvent struct {
	TargetID string
	Kind     proto.PageDialogType
	Message  string
}

func (DialogOpenedEvent) Tag() string { return TagDialogOpened }

// DownloadBegunEvent relays the devtools notice that a download started.
type DownloadBegunEvent struct {
	GUID              string
	URL               string
	SuggestedFilename string
}

func (DownloadBegunEvent) Tag() string { return TagDownloadBegun }

// DownloadProgressEvent relays devtools download progress. State is one of
// inProgress, completed, canceled.
type DownloadProgressEvent struct {
	GUID     string
	State    string
	Received float64
	Total    float64
}

func (DownloadProgressEvent) Tag() string { return TagDownloadProgress }

// FileDownloadedEvent reports a completed download in the watched directory.
type FileDownloadedEvent struct {
	Path     string
	FileName string
	MIMEType string
	Size     int64
}

func (FileDownloadedEvent) Tag() string { return TagFileDownloaded }

// StorageStateSavedEvent reports a successful storage-state write.
type StorageStateSavedEvent struct {
	Path    string
	Cookies int
	Origins int
}

func (StorageStateSavedEvent) Tag() string { return TagStorageStateSaved }

// StorageStateLoadedEvent reports a successful storage-state restore.
type StorageStateLoadedEvent struct {
	Path    string
	Cookies int
	Origins int
}

func (StorageStateLoadedEvent) Tag() string { return TagStorageStateLoaded }

// Result payloads carried by intent completions.

// TabInfo describes one open tab.
type TabInfo struct {
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Focused  bool   `json:"focused"`
}

// StateSummary is the result of a state request: the element model plus the
// open tabs and an optional screenshot.
type StateSummary struct {
	State      *dom.State `json:"state"`
	Tabs       []TabInfo  `json:"tabs"`
	Screenshot string     `json:"screenshot,omitempty"` // base64, when requested
	MIMEType   string     `json:"mimeType,omitempty"`
}

// DropdownOption is one option of a select element.
type DropdownOption struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// ScreenshotResult is a captured image, optionally persisted to disk.
type ScreenshotResult struct {
	Path     string `json:"path,omitempty"`
	Base64   string `json:"base64"`
	MIMEType string `json:"mimeType"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}
