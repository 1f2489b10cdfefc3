// Package dom turns raw DOMSnapshot captures into an enhanced per-node
// lookup and an indexed element model that interaction code can resolve
// against. Everything in this package is pure: no protocol round trips.
package dom

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// Rect is an axis-aligned rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the rectangle's area, never negative.
func (r *Rect) Area() float64 {
	if r == nil || r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Center returns the rectangle's midpoint.
func (r *Rect) Center() (x, y float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// EnhancedNode carries the per-node facts derived from one snapshot capture:
// geometry corrected to CSS pixels, the decoded tracked styles, and
// paint/stacking info. Instances are superseded wholesale by the next
// capture and never mutated in place.
type EnhancedNode struct {
	BackendNodeID proto.DOMBackendNodeID `json:"backendNodeId"`

	// IsClickable decodes the sparse clickable index list. Absence from the
	// list means false, never unknown.
	IsClickable bool `json:"isClickable"`

	// CursorStyle is the decoded cursor computed style, "" when the node has
	// no layout row or the style was not captured.
	CursorStyle string `json:"cursorStyle,omitempty"`

	// Bounds is the layout bounds divided by the device pixel ratio. Nil when
	// the node has no layout row.
	Bounds *Rect `json:"bounds,omitempty"`

	// ClientRect and ScrollRect are copied from the layout row as captured.
	ClientRect *Rect `json:"clientRect,omitempty"`
	ScrollRect *Rect `json:"scrollRect,omitempty"`

	ComputedStyles map[string]string `json:"computedStyles,omitempty"`

	// PaintOrder is the global paint order index, nil when the capture did
	// not include paint orders or the node has no layout row.
	PaintOrder *int `json:"paintOrder,omitempty"`

	// StackingContext holds the layout row index when that row establishes a
	// stacking context, nil otherwise.
	StackingContext *int `json:"stackingContext,omitempty"`
}

// Style returns a tracked computed style value, "" when unset.
func (n *EnhancedNode) Style(name string) string {
	if n == nil {
		return ""
	}
	return n.ComputedStyles[name]
}

// ElementNode is one node of the element model. The parent owns its children
// by composition; Parent is a non-owning back-reference and excluded from
// serialization so the tree stays acyclic on the wire.
type ElementNode struct {
	// Index is the selector-map index. 0 is reserved for the page/document
	// itself; interactive elements are numbered from 1; -1 marks tree nodes
	// that earned no index.
	Index int `json:"index"`

	BackendNodeID proto.DOMBackendNodeID `json:"backendNodeId"`
	NodeType      int                    `json:"nodeType"`
	TagName       string                 `json:"tagName"`
	Attributes    map[string]string      `json:"attributes,omitempty"`

	Parent   *ElementNode   `json:"-"`
	Children []*ElementNode `json:"children,omitempty"`

	Enhanced *EnhancedNode `json:"enhanced,omitempty"`

	// IsNew marks elements that were not present in the previous cycle.
	IsNew bool `json:"isNew,omitempty"`
}

// Attr returns an attribute value, "" when absent.
func (n *ElementNode) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attributes[name]
}

// InputType returns the lowercased type attribute for input elements.
func (n *ElementNode) InputType() string {
	return strings.ToLower(n.Attr("type"))
}

// IsSelect reports whether the node is a <select> element.
func (n *ElementNode) IsSelect() bool {
	return n != nil && n.TagName == "select"
}

// IsFileInput reports whether the node is an <input type=file>.
func (n *ElementNode) IsFileInput() bool {
	return n != nil && n.TagName == "input" && n.InputType() == "file"
}

// IsPage reports whether the node stands for the page itself (index 0).
func (n *ElementNode) IsPage() bool {
	return n != nil && n.Index == 0
}

// String renders the node the way it appears in state listings.
func (n *ElementNode) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.IsPage() {
		return "[0]<page>"
	}
	var b strings.Builder
	if n.Index > 0 {
		fmt.Fprintf(&b, "[%d]", n.Index)
	}
	fmt.Fprintf(&b, "<%s", n.TagName)
	for _, attr := range []string{"id", "name", "type", "role", "href", "aria-label", "placeholder"} {
		if v := n.Attr(attr); v != "" {
			fmt.Fprintf(&b, " %s=%q", attr, v)
		}
	}
	b.WriteString(">")
	return b.String()
}

// State is one DOM cycle's element model: the owned tree plus the dense
// selector map. A new State supersedes the previous one wholesale; the old
// map is never mutated, though the builder consults it for change deltas.
type State struct {
	URL              string    `json:"url"`
	Title            string    `json:"title"`
	CapturedAt       time.Time `json:"capturedAt"`
	DevicePixelRatio float64   `json:"devicePixelRatio"`

	Root *ElementNode `json:"root"`

	// Selector maps interactive indices (>= 1) and the page index 0 to their
	// nodes. Excluded from serialization; the tree carries the indices.
	Selector map[int]*ElementNode `json:"-"`

	fingerprints map[uint64]struct{}
}

// Lookup resolves a selector index. Index 0 yields the page root.
func (s *State) Lookup(index int) (*ElementNode, bool) {
	if s == nil {
		return nil, false
	}
	n, ok := s.Selector[index]
	return n, ok
}

// Interactive returns the indexed elements ordered by index, excluding the
// page root.
func (s *State) Interactive() []*ElementNode {
	if s == nil {
		return nil
	}
	nodes := make([]*ElementNode, 0, len(s.Selector))
	for idx, n := range s.Selector {
		if idx == 0 {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Index < nodes[j].Index })
	return nodes
}

// Describe renders up to max indexed elements for logs and the CLI. max <= 0
// lists everything.
func (s *State) Describe(max int) string {
	if s == nil {
		return "(no state)"
	}
	nodes := s.Interactive()
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s (%d interactive)\n", s.URL, s.Title, len(nodes))
	for i, n := range nodes {
		if max > 0 && i >= max {
			fmt.Fprintf(&b, "... %d more\n", len(nodes)-max)
			break
		}
		if n.IsNew {
			b.WriteString("*")
		}
		b.WriteString(n.String())
		b.WriteString("\n")
	}
	return b.String()
}
