package dom

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

const (
	nodeTypeElement  = 1
	nodeTypeDocument = 9
)

// BuildOptions parameterizes one element-model build.
type BuildOptions struct {
	URL              string
	Title            string
	DevicePixelRatio float64

	// Previous is the prior cycle's state, consulted only to mark elements
	// that appeared since then. The previous map itself is never mutated.
	Previous *State
}

// BuildState constructs the element model for one DOM cycle: the owned
// element tree plus the dense selector map over interactive, visible
// elements. Index 0 is the page itself; real elements are numbered from 1 in
// depth-first document order. Pure, like Resolve.
func BuildState(raw *proto.DOMSnapshotCaptureSnapshotResult, enhanced map[proto.DOMBackendNodeID]*EnhancedNode, opts BuildOptions) *State {
	state := &State{
		URL:              opts.URL,
		Title:            opts.Title,
		CapturedAt:       time.Now(),
		DevicePixelRatio: opts.DevicePixelRatio,
		Selector:         make(map[int]*ElementNode),
		fingerprints:     make(map[uint64]struct{}),
	}

	b := &treeBuilder{raw: raw, enhanced: enhanced, visited: make(map[int]bool)}
	root := b.document(0)
	if root == nil {
		root = &ElementNode{NodeType: nodeTypeDocument, TagName: "#document", Index: 0}
	}
	root.Index = 0
	state.Root = root
	state.Selector[0] = root

	next := 1
	var walk func(n *ElementNode)
	walk = func(n *ElementNode) {
		for _, child := range n.Children {
			if isInteractive(child) && isVisible(child) {
				child.Index = next
				state.Selector[next] = child
				next++

				fp := fingerprint(child)
				state.fingerprints[fp] = struct{}{}
				if opts.Previous != nil {
					_, known := opts.Previous.fingerprints[fp]
					child.IsNew = !known
				}
			}
			walk(child)
		}
	}
	walk(root)

	return state
}

// treeBuilder assembles element trees out of the snapshot's parallel arrays,
// grafting iframe documents under their owner elements.
type treeBuilder struct {
	raw      *proto.DOMSnapshotCaptureSnapshotResult
	enhanced map[proto.DOMBackendNodeID]*EnhancedNode
	visited  map[int]bool
}

// document builds the tree for one document snapshot and returns its
// document node, nil when the index is out of range or already built.
func (b *treeBuilder) document(docIdx int) *ElementNode {
	if b.raw == nil || docIdx < 0 || docIdx >= len(b.raw.Documents) || b.visited[docIdx] {
		return nil
	}
	b.visited[docIdx] = true

	doc := b.raw.Documents[docIdx]
	if doc == nil || doc.Nodes == nil || len(doc.Nodes.NodeType) == 0 {
		return nil
	}
	nodes := doc.Nodes

	childrenOf := make(map[int][]int)
	for pos, parent := range nodes.ParentIndex {
		if parent >= 0 {
			childrenOf[parent] = append(childrenOf[parent], pos)
		}
	}
	contentDocs := rareIntMap(nodes.ContentDocumentIndex)

	var assemble func(pos int) *ElementNode
	assemble = func(pos int) *ElementNode {
		nodeType := nodes.NodeType[pos]
		if nodeType != nodeTypeElement && nodeType != nodeTypeDocument {
			return nil
		}

		n := &ElementNode{
			Index:    -1,
			NodeType: nodeType,
			TagName:  strings.ToLower(stringAt(b.raw.Strings, nodes.NodeName[pos])),
		}
		if pos < len(nodes.BackendNodeID) {
			n.BackendNodeID = nodes.BackendNodeID[pos]
			n.Enhanced = b.enhanced[n.BackendNodeID]
		}
		if pos < len(nodes.Attributes) {
			n.Attributes = decodeAttributes(nodes.Attributes[pos], b.raw.Strings)
		}

		for _, childPos := range childrenOf[pos] {
			if child := assemble(childPos); child != nil {
				child.Parent = n
				n.Children = append(n.Children, child)
			}
		}

		// An iframe's document tree hangs under the owning element.
		if subIdx, ok := contentDocs[pos]; ok {
			if subRoot := b.document(subIdx); subRoot != nil {
				for _, child := range subRoot.Children {
					child.Parent = n
					n.Children = append(n.Children, child)
				}
			}
		}

		return n
	}

	return assemble(0)
}

func decodeAttributes(attrs proto.DOMSnapshotArrayOfStrings, table []string) map[string]string {
	if len(attrs) < 2 {
		return nil
	}
	out := make(map[string]string, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		name := strings.ToLower(stringAt(table, attrs[i]))
		if name == "" {
			continue
		}
		out[name] = stringAt(table, attrs[i+1])
	}
	return out
}

func rareIntMap(data *proto.DOMSnapshotRareIntegerData) map[int]int {
	out := make(map[int]int)
	if data == nil {
		return out
	}
	for i, idx := range data.Index {
		if i < len(data.Value) {
			out[idx] = data.Value[i]
		}
	}
	return out
}

var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"select":   true,
	"textarea": true,
	"option":   true,
	"details":  true,
	"summary":  true,
	"label":    true,
}

var interactiveRoles = map[string]bool{
	"button":           true,
	"link":             true,
	"checkbox":         true,
	"radio":            true,
	"tab":              true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"combobox":         true,
	"option":           true,
	"switch":           true,
	"slider":           true,
	"searchbox":        true,
	"textbox":          true,
	"spinbutton":       true,
}

// isInteractive decides whether an element earns a selector index. The
// protocol clickable flag leads; tag, role, and attribute heuristics cover
// what the flag misses; a pointer cursor is the weakest signal and comes
// last.
func isInteractive(n *ElementNode) bool {
	if n == nil || n.NodeType != nodeTypeElement {
		return false
	}
	if n.Enhanced != nil && n.Enhanced.IsClickable {
		return true
	}
	if n.TagName == "input" {
		return n.InputType() != "hidden"
	}
	if interactiveTags[n.TagName] {
		return true
	}
	if _, ok := n.Attributes["onclick"]; ok {
		return true
	}
	if interactiveRoles[strings.ToLower(n.Attr("role"))] {
		return true
	}
	if strings.EqualFold(n.Attr("contenteditable"), "true") {
		return true
	}
	if ti := n.Attr("tabindex"); ti != "" && ti != "-1" {
		return true
	}
	if n.Enhanced != nil && n.Enhanced.CursorStyle == "pointer" {
		return true
	}
	return false
}

// isVisible gates indexing on having real geometry and not being styled
// away. Nodes without a layout row are invisible by definition.
func isVisible(n *ElementNode) bool {
	e := n.Enhanced
	if e == nil || e.Bounds == nil || e.Bounds.Area() <= 0 {
		return false
	}
	switch e.Style("display") {
	case "none":
		return false
	}
	switch e.Style("visibility") {
	case "hidden", "collapse":
		return false
	}
	if op := e.Style("opacity"); op != "" {
		if v, err := strconv.ParseFloat(op, 64); err == nil && v < 0.01 {
			return false
		}
	}
	return true
}

// fingerprint identifies an element across cycles by its structural
// attributes, deliberately excluding geometry so scrolling does not mark
// everything new.
func fingerprint(n *ElementNode) uint64 {
	h := fnv.New64a()
	h.Write([]byte(n.TagName))
	for _, attr := range []string{"id", "name", "class", "href", "type", "role", "aria-label", "placeholder"} {
		h.Write([]byte{0})
		h.Write([]byte(n.Attr(attr)))
	}
	if n.Parent != nil {
		h.Write([]byte{0})
		h.Write([]byte(n.Parent.TagName))
	}
	return h.Sum64()
}
