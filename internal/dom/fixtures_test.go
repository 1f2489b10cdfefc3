package dom

import (
	"github.com/go-rod/rod/lib/proto"
)

// captureBuilder assembles DOMSnapshot capture fixtures with the same
// parallel-array shape the protocol returns.
type captureBuilder struct {
	strings map[string]proto.DOMSnapshotStringIndex
	result  *proto.DOMSnapshotCaptureSnapshotResult
}

func newCaptureBuilder() *captureBuilder {
	return &captureBuilder{
		strings: make(map[string]proto.DOMSnapshotStringIndex),
		result:  &proto.DOMSnapshotCaptureSnapshotResult{},
	}
}

func (cb *captureBuilder) intern(s string) proto.DOMSnapshotStringIndex {
	if idx, ok := cb.strings[s]; ok {
		return idx
	}
	idx := proto.DOMSnapshotStringIndex(len(cb.result.Strings))
	cb.result.Strings = append(cb.result.Strings, s)
	cb.strings[s] = idx
	return idx
}

type docBuilder struct {
	cb    *captureBuilder
	doc   *proto.DOMSnapshotDocumentSnapshot
	nodes *proto.DOMSnapshotNodeTreeSnapshot
}

func (cb *captureBuilder) addDocument() *docBuilder {
	nodes := &proto.DOMSnapshotNodeTreeSnapshot{
		IsClickable:          &proto.DOMSnapshotRareBooleanData{},
		ContentDocumentIndex: &proto.DOMSnapshotRareIntegerData{},
	}
	doc := &proto.DOMSnapshotDocumentSnapshot{
		Nodes: nodes,
		Layout: &proto.DOMSnapshotLayoutTreeSnapshot{
			StackingContexts: &proto.DOMSnapshotRareBooleanData{},
		},
	}
	cb.result.Documents = append(cb.result.Documents, doc)
	return &docBuilder{cb: cb, doc: doc, nodes: nodes}
}

// addNode appends one node-table row and returns its position. attrs are
// name/value pairs.
func (db *docBuilder) addNode(nodeType int, name string, parent int, backendID int, attrs ...string) int {
	pos := len(db.nodes.NodeType)
	db.nodes.NodeType = append(db.nodes.NodeType, nodeType)
	db.nodes.NodeName = append(db.nodes.NodeName, db.cb.intern(name))
	db.nodes.NodeValue = append(db.nodes.NodeValue, db.cb.intern(""))
	db.nodes.ParentIndex = append(db.nodes.ParentIndex, parent)
	db.nodes.BackendNodeID = append(db.nodes.BackendNodeID, proto.DOMBackendNodeID(backendID))

	var encoded proto.DOMSnapshotArrayOfStrings
	for i := 0; i+1 < len(attrs); i += 2 {
		encoded = append(encoded, db.cb.intern(attrs[i]), db.cb.intern(attrs[i+1]))
	}
	db.nodes.Attributes = append(db.nodes.Attributes, encoded)
	return pos
}

func (db *docBuilder) markClickable(pos int) {
	db.nodes.IsClickable.Index = append(db.nodes.IsClickable.Index, pos)
}

func (db *docBuilder) linkContentDocument(pos, docIdx int) {
	db.nodes.ContentDocumentIndex.Index = append(db.nodes.ContentDocumentIndex.Index, pos)
	db.nodes.ContentDocumentIndex.Value = append(db.nodes.ContentDocumentIndex.Value, docIdx)
}

// layoutRow options beyond bounds.
type layoutExtras struct {
	styles     map[string]string
	paintOrder int
	clientRect []float64
	scrollRect []float64
	stacking   bool
}

// addLayoutRow appends a layout-table row for a node position. bounds are in
// device pixels as the protocol delivers them.
func (db *docBuilder) addLayoutRow(pos int, bounds []float64, extras *layoutExtras) int {
	layout := db.doc.Layout
	row := len(layout.NodeIndex)
	layout.NodeIndex = append(layout.NodeIndex, pos)
	layout.Bounds = append(layout.Bounds, proto.DOMSnapshotRectangle(bounds))

	var styleRow proto.DOMSnapshotArrayOfStrings
	if extras != nil && extras.styles != nil {
		for _, name := range TrackedStyles {
			val, ok := extras.styles[name]
			if !ok {
				// The protocol interns "" for styles it has no value for.
				val = ""
			}
			styleRow = append(styleRow, db.cb.intern(val))
		}
	}
	layout.Styles = append(layout.Styles, styleRow)

	po := 0
	if extras != nil {
		po = extras.paintOrder
	}
	layout.PaintOrders = append(layout.PaintOrders, po)

	client := []float64{0, 0, 0, 0}
	scroll := []float64{0, 0, 0, 0}
	if extras != nil && extras.clientRect != nil {
		client = extras.clientRect
	}
	if extras != nil && extras.scrollRect != nil {
		scroll = extras.scrollRect
	}
	layout.ClientRects = append(layout.ClientRects, proto.DOMSnapshotRectangle(client))
	layout.ScrollRects = append(layout.ScrollRects, proto.DOMSnapshotRectangle(scroll))

	if extras != nil && extras.stacking {
		layout.StackingContexts.Index = append(layout.StackingContexts.Index, row)
	}
	return row
}

// standardCapture builds the fixture used across resolver and selector-map
// tests:
//
//	#document > html > body
//	  div#main          (no layout row, invisible)
//	    a[href=/go]     clickable, layout, cursor pointer
//	    input[type=text] layout
//	  select            layout
//	  input[type=file]  layout
func standardCapture() (*proto.DOMSnapshotCaptureSnapshotResult, map[string]int) {
	cb := newCaptureBuilder()
	db := cb.addDocument()

	docPos := db.addNode(9, "#document", -1, 1)
	htmlPos := db.addNode(1, "HTML", docPos, 2)
	bodyPos := db.addNode(1, "BODY", htmlPos, 3)
	divPos := db.addNode(1, "DIV", bodyPos, 4, "id", "main")
	aPos := db.addNode(1, "A", divPos, 5, "href", "/go")
	db.addNode(3, "#text", aPos, 0)
	inputPos := db.addNode(1, "INPUT", divPos, 6, "type", "text", "name", "q")
	selectPos := db.addNode(1, "SELECT", bodyPos, 7)
	filePos := db.addNode(1, "INPUT", bodyPos, 8, "type", "file")

	db.markClickable(aPos)

	db.addLayoutRow(htmlPos, []float64{0, 0, 1600, 2400}, &layoutExtras{
		styles: map[string]string{"display": "block"},
	})
	db.addLayoutRow(bodyPos, []float64{0, 0, 1600, 2400}, &layoutExtras{
		styles: map[string]string{"display": "block"},
	})
	db.addLayoutRow(aPos, []float64{100, 200, 50, 20}, &layoutExtras{
		styles:     map[string]string{"display": "inline", "cursor": "pointer"},
		paintOrder: 7,
		clientRect: []float64{100, 200, 50, 20},
		scrollRect: []float64{0, 0, 0, 0},
		stacking:   true,
	})
	db.addLayoutRow(inputPos, []float64{100, 240, 200, 30}, &layoutExtras{
		styles: map[string]string{"display": "inline-block"},
	})
	db.addLayoutRow(selectPos, []float64{100, 280, 120, 30}, &layoutExtras{
		styles: map[string]string{"display": "inline-block"},
	})
	db.addLayoutRow(filePos, []float64{100, 320, 220, 30}, &layoutExtras{
		styles: map[string]string{"display": "inline-block"},
	})

	positions := map[string]int{
		"document": docPos,
		"html":     htmlPos,
		"body":     bodyPos,
		"div":      divPos,
		"a":        aPos,
		"input":    inputPos,
		"select":   selectPos,
		"file":     filePos,
	}
	return cb.result, positions
}
