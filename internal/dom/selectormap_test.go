package dom

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

// reopenCapture rebuilds a builder over an existing fixture so a test can
// extend its first document.
func reopenCapture(raw *proto.DOMSnapshotCaptureSnapshotResult) *docBuilder {
	cb := &captureBuilder{
		strings: make(map[string]proto.DOMSnapshotStringIndex, len(raw.Strings)),
		result:  raw,
	}
	for i, s := range raw.Strings {
		cb.strings[s] = proto.DOMSnapshotStringIndex(i)
	}
	return &docBuilder{cb: cb, doc: raw.Documents[0], nodes: raw.Documents[0].Nodes}
}

func buildStandardState(prev *State) *State {
	raw, _ := standardCapture()
	enhanced := Resolve(raw, 1)
	return BuildState(raw, enhanced, BuildOptions{
		URL:              "https://example.test/",
		Title:            "Example",
		DevicePixelRatio: 1,
		Previous:         prev,
	})
}

func TestBuildStateIndexing(t *testing.T) {
	state := buildStandardState(nil)

	if state.Root == nil {
		t.Fatal("no root")
	}
	if state.Root.Index != 0 {
		t.Errorf("root index = %d, want 0", state.Root.Index)
	}
	if !state.Root.IsPage() {
		t.Error("root should report IsPage")
	}

	// Interactive and visible elements take dense indices in depth-first
	// order: a, input[text], select, input[file]. The layoutless div stays
	// out; so do html and body.
	nodes := state.Interactive()
	if len(nodes) != 4 {
		t.Fatalf("interactive count = %d, want 4: %v", len(nodes), state.Describe(0))
	}
	wantTags := []string{"a", "input", "select", "input"}
	for i, n := range nodes {
		if n.Index != i+1 {
			t.Errorf("node %d has index %d, want dense %d", i, n.Index, i+1)
		}
		if n.TagName != wantTags[i] {
			t.Errorf("index %d tag = %s, want %s", n.Index, n.TagName, wantTags[i])
		}
	}

	if n, ok := state.Lookup(1); !ok || n.TagName != "a" {
		t.Errorf("Lookup(1) = %v, %v", n, ok)
	}
	if _, ok := state.Lookup(99); ok {
		t.Error("Lookup of unknown index should miss")
	}
}

func TestLookupZeroIsThePage(t *testing.T) {
	state := buildStandardState(nil)
	n, ok := state.Lookup(0)
	if !ok {
		t.Fatal("Lookup(0) missed")
	}
	if n != state.Root {
		t.Error("index 0 should resolve to the page root")
	}
	if n.TagName != "#document" {
		t.Errorf("root tag = %s", n.TagName)
	}
}

func TestTreeOwnershipAndBackrefs(t *testing.T) {
	state := buildStandardState(nil)

	anchor, _ := state.Lookup(1)
	if anchor.Parent == nil || anchor.Parent.TagName != "div" {
		t.Fatalf("anchor parent = %v", anchor.Parent)
	}

	// The parent owns the child; the back-reference points at the same node.
	found := false
	for _, child := range anchor.Parent.Children {
		if child == anchor {
			found = true
		}
	}
	if !found {
		t.Error("parent does not own the anchor")
	}

	if state.Root.Parent != nil {
		t.Error("root must not have a parent")
	}

	// Text nodes never enter the element tree.
	var walk func(n *ElementNode)
	walk = func(n *ElementNode) {
		if n.TagName == "#text" {
			t.Error("text node leaked into element tree")
		}
		for _, c := range n.Children {
			if c.Parent != n {
				t.Errorf("child %s has wrong back-reference", c.TagName)
			}
			walk(c)
		}
	}
	walk(state.Root)
}

func TestSerializedTreeHasNoCycles(t *testing.T) {
	state := buildStandardState(nil)
	data, err := json.Marshal(state.Root)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "\"parent\"") {
		t.Error("parent back-reference leaked into serialization")
	}
	if !strings.Contains(string(data), "\"children\"") {
		t.Error("owned children missing from serialization")
	}
}

func TestInteractiveHeuristics(t *testing.T) {
	visible := &EnhancedNode{Bounds: &Rect{X: 0, Y: 0, Width: 10, Height: 10}}
	tests := []struct {
		name string
		node *ElementNode
		want bool
	}{
		{"button tag", &ElementNode{NodeType: 1, TagName: "button", Enhanced: visible}, true},
		{"plain div", &ElementNode{NodeType: 1, TagName: "div", Enhanced: visible}, false},
		{"div with onclick", &ElementNode{NodeType: 1, TagName: "div", Attributes: map[string]string{"onclick": "go()"}, Enhanced: visible}, true},
		{"div with role button", &ElementNode{NodeType: 1, TagName: "div", Attributes: map[string]string{"role": "Button"}, Enhanced: visible}, true},
		{"hidden input", &ElementNode{NodeType: 1, TagName: "input", Attributes: map[string]string{"type": "hidden"}, Enhanced: visible}, false},
		{"text input", &ElementNode{NodeType: 1, TagName: "input", Attributes: map[string]string{"type": "text"}, Enhanced: visible}, true},
		{"contenteditable", &ElementNode{NodeType: 1, TagName: "div", Attributes: map[string]string{"contenteditable": "TRUE"}, Enhanced: visible}, true},
		{"tabindex 0", &ElementNode{NodeType: 1, TagName: "div", Attributes: map[string]string{"tabindex": "0"}, Enhanced: visible}, true},
		{"tabindex -1", &ElementNode{NodeType: 1, TagName: "div", Attributes: map[string]string{"tabindex": "-1"}, Enhanced: visible}, false},
		{"pointer cursor", &ElementNode{NodeType: 1, TagName: "div", Enhanced: &EnhancedNode{CursorStyle: "pointer"}}, true},
		{"protocol clickable", &ElementNode{NodeType: 1, TagName: "div", Enhanced: &EnhancedNode{IsClickable: true}}, true},
		{"document node", &ElementNode{NodeType: 9, TagName: "#document"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isInteractive(tt.node); got != tt.want {
				t.Errorf("isInteractive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVisibilityGate(t *testing.T) {
	tests := []struct {
		name string
		node *ElementNode
		want bool
	}{
		{"no enhancement", &ElementNode{NodeType: 1, TagName: "a"}, false},
		{"no bounds", &ElementNode{NodeType: 1, TagName: "a", Enhanced: &EnhancedNode{}}, false},
		{"zero area", &ElementNode{NodeType: 1, TagName: "a", Enhanced: &EnhancedNode{Bounds: &Rect{Width: 0, Height: 10}}}, false},
		{"display none", &ElementNode{NodeType: 1, TagName: "a", Enhanced: &EnhancedNode{Bounds: &Rect{Width: 5, Height: 5}, ComputedStyles: map[string]string{"display": "none"}}}, false},
		{"visibility hidden", &ElementNode{NodeType: 1, TagName: "a", Enhanced: &EnhancedNode{Bounds: &Rect{Width: 5, Height: 5}, ComputedStyles: map[string]string{"visibility": "hidden"}}}, false},
		{"opacity zero", &ElementNode{NodeType: 1, TagName: "a", Enhanced: &EnhancedNode{Bounds: &Rect{Width: 5, Height: 5}, ComputedStyles: map[string]string{"opacity": "0"}}}, false},
		{"visible", &ElementNode{NodeType: 1, TagName: "a", Enhanced: &EnhancedNode{Bounds: &Rect{Width: 5, Height: 5}}}, true},
		{"unparseable opacity", &ElementNode{NodeType: 1, TagName: "a", Enhanced: &EnhancedNode{Bounds: &Rect{Width: 5, Height: 5}, ComputedStyles: map[string]string{"opacity": "inherit"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isVisible(tt.node); got != tt.want {
				t.Errorf("isVisible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChangeDeltas(t *testing.T) {
	first := buildStandardState(nil)
	for _, n := range first.Interactive() {
		if n.IsNew {
			t.Errorf("first cycle should not mark %s new", n)
		}
	}

	// Same page rebuilt: nothing is new.
	second := buildStandardState(first)
	for _, n := range second.Interactive() {
		if n.IsNew {
			t.Errorf("unchanged element marked new: %s", n)
		}
	}

	// A rebuilt capture with one extra button: only it is new.
	raw, pos := standardCapture()
	db := reopenCapture(raw)
	btnPos := db.addNode(1, "BUTTON", pos["body"], 99, "id", "fresh")
	db.addLayoutRow(btnPos, []float64{10, 10, 40, 20}, &layoutExtras{styles: map[string]string{"display": "block"}})

	enhanced := Resolve(raw, 1)
	third := BuildState(raw, enhanced, BuildOptions{URL: "https://example.test/", Title: "Example", DevicePixelRatio: 1, Previous: second})

	var fresh *ElementNode
	for _, n := range third.Interactive() {
		if n.Attr("id") == "fresh" {
			fresh = n
			continue
		}
		if n.IsNew {
			t.Errorf("pre-existing element marked new: %s", n)
		}
	}
	if fresh == nil {
		t.Fatal("new button not indexed")
	}
	if !fresh.IsNew {
		t.Error("new button not marked new")
	}
}

func TestIframeContentGraftedUnderOwner(t *testing.T) {
	cb := newCaptureBuilder()
	main := cb.addDocument()
	docPos := main.addNode(9, "#document", -1, 1)
	htmlPos := main.addNode(1, "HTML", docPos, 2)
	bodyPos := main.addNode(1, "BODY", htmlPos, 3)
	framePos := main.addNode(1, "IFRAME", bodyPos, 4, "src", "https://inner.test/")
	main.addLayoutRow(framePos, []float64{0, 0, 300, 150}, nil)
	main.linkContentDocument(framePos, 1)

	sub := cb.addDocument()
	subDoc := sub.addNode(9, "#document", -1, 10)
	subHTML := sub.addNode(1, "HTML", subDoc, 11)
	subBody := sub.addNode(1, "BODY", subHTML, 12)
	btnPos := sub.addNode(1, "BUTTON", subBody, 13, "id", "inner-btn")
	sub.addLayoutRow(btnPos, []float64{5, 5, 50, 20}, &layoutExtras{styles: map[string]string{"display": "block"}})

	enhanced := Resolve(cb.result, 1)
	state := BuildState(cb.result, enhanced, BuildOptions{DevicePixelRatio: 1})

	var btn *ElementNode
	for _, n := range state.Interactive() {
		if n.Attr("id") == "inner-btn" {
			btn = n
		}
	}
	if btn == nil {
		t.Fatal("iframe button not indexed")
	}

	// The button's ancestry passes through the iframe element of the outer
	// document.
	foundFrame := false
	for p := btn.Parent; p != nil; p = p.Parent {
		if p.TagName == "iframe" {
			foundFrame = true
		}
	}
	if !foundFrame {
		t.Error("iframe content not grafted under its owner element")
	}
}

func TestElementHelpers(t *testing.T) {
	state := buildStandardState(nil)

	sel, _ := state.Lookup(3)
	if !sel.IsSelect() {
		t.Errorf("index 3 should be a select: %s", sel)
	}
	file, _ := state.Lookup(4)
	if !file.IsFileInput() {
		t.Errorf("index 4 should be a file input: %s", file)
	}
	text, _ := state.Lookup(2)
	if text.IsFileInput() {
		t.Errorf("text input misdetected as file input: %s", text)
	}
	if text.InputType() != "text" {
		t.Errorf("InputType = %q", text.InputType())
	}
}

func TestDescribeMarksNewElements(t *testing.T) {
	first := buildStandardState(nil)

	raw, pos := standardCapture()
	db := reopenCapture(raw)
	btnPos := db.addNode(1, "BUTTON", pos["body"], 99, "id", "fresh")
	db.addLayoutRow(btnPos, []float64{10, 10, 40, 20}, &layoutExtras{styles: map[string]string{"display": "block"}})

	state := BuildState(raw, Resolve(raw, 1), BuildOptions{Previous: first, DevicePixelRatio: 1})
	desc := state.Describe(0)
	if !strings.Contains(desc, "*") {
		t.Errorf("describe lacks new-element marker:\n%s", desc)
	}
	if !strings.Contains(desc, "fresh") {
		t.Errorf("describe lacks the new button:\n%s", desc)
	}
}
