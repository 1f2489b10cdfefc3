package browser

import (
	"errors"
	"fmt"
	"strings"
)

type browserError string

func (e browserError) Error() string { return string(e) }

// Sentinel errors for conditions callers branch on.
const (
	// ErrNoPage means the session has no focused page to act on.
	ErrNoPage = browserError("no page is open")

	// ErrNodeGone means the element's backend node no longer exists in the
	// page, usually because the DOM changed since the last refresh.
	ErrNodeGone = browserError("element no longer exists")

	// ErrSessionStopped means the session was stopped while the operation
	// was in flight.
	ErrSessionStopped = browserError("session stopped")
)

// ProtocolError wraps a failed devtools call with the method that failed.
// Callers inspect Method for logging; the wrapped error carries the wire
// detail.
type ProtocolError struct {
	Method string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol call %s failed: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError wraps err, passing nil through.
func NewProtocolError(method string, err error) error {
	if err == nil {
		return nil
	}
	return &ProtocolError{Method: method, Err: err}
}

// ElementNotInteractableError reports an element that the interaction
// resolver refuses to act on, with a stable Kind callers can branch on.
type ElementNotInteractableError struct {
	Index  int    // selector index of the element
	Tag    string // element tag name
	Reason string // human-readable refusal
	Kind   string // stable discriminator: "select", "file-input", "not-found", "hidden"
}

func (e *ElementNotInteractableError) Error() string {
	return fmt.Sprintf("element [%d]<%s> not interactable: %s", e.Index, e.Tag, e.Reason)
}

// Discriminators for ElementNotInteractableError.Kind.
const (
	KindSelect    = "select"
	KindFileInput = "file-input"
	KindNotFound  = "not-found"
	KindHidden    = "hidden"
)

// NewSelectError reports a <select> element handed to a coordinate-based
// action. Dropdowns go through the dedicated dropdown operations.
func NewSelectError(index int, tag string) *ElementNotInteractableError {
	return &ElementNotInteractableError{
		Index:  index,
		Tag:    tag,
		Kind:   KindSelect,
		Reason: "use the dropdown operations for select elements",
	}
}

// NewFileInputError reports an <input type=file> handed to a click action.
// File inputs go through the upload operation.
func NewFileInputError(index int, tag string) *ElementNotInteractableError {
	return &ElementNotInteractableError{
		Index:  index,
		Tag:    tag,
		Kind:   KindFileInput,
		Reason: "use the upload operation for file inputs",
	}
}

// GeometryUnresolvedError means no stage of the geometry fallback chain
// produced a usable interaction point.
type GeometryUnresolvedError struct {
	Index  int
	Stages []string // stages attempted, in order
}

func (e *GeometryUnresolvedError) Error() string {
	return fmt.Sprintf("element [%d] has no resolvable geometry (tried %s)", e.Index, strings.Join(e.Stages, ", "))
}

// NavigationError reports a navigation that did not complete. NetClass holds
// the browser's net error code (e.g. "ERR_NAME_NOT_RESOLVED") when the
// failure was network-level, "" for timeouts and protocol failures.
type NavigationError struct {
	URL      string
	NetClass string
	Err      error
}

func (e *NavigationError) Error() string {
	if e.NetClass != "" {
		return fmt.Sprintf("navigation to %s failed: %s", e.URL, e.NetClass)
	}
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// IsNetworkFailure reports whether the navigation failed at the network
// level (DNS, connection, TLS) rather than by timeout or protocol error.
func (e *NavigationError) IsNetworkFailure() bool {
	return e.NetClass != ""
}

// netErrorClass extracts a Chromium net error code from an error text.
// Returns "" when the text carries none.
func netErrorClass(errText string) string {
	idx := strings.Index(errText, "ERR_")
	if idx < 0 {
		return ""
	}
	rest := errText[idx:]
	end := len(rest)
	for i, r := range rest {
		if r != '_' && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			end = i
			break
		}
	}
	return rest[:end]
}

// NewNavigationError classifies a navigation failure by its error text.
func NewNavigationError(url string, err error) *NavigationError {
	if err == nil {
		return nil
	}
	return &NavigationError{URL: url, NetClass: netErrorClass(err.Error()), Err: err}
}

// IsElementNotInteractable reports whether err is an interactability refusal
// of the given kind ("" matches any kind).
func IsElementNotInteractable(err error, kind string) bool {
	var e *ElementNotInteractableError
	if !errors.As(err, &e) {
		return false
	}
	return kind == "" || e.Kind == kind
}
