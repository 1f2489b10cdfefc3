package dom

import (
	"github.com/go-rod/rod/lib/proto"
)

// TrackedStyles is the fixed list of computed styles requested with every
// snapshot capture. Style decoding maps layout-row style indices onto these
// names positionally, so the capture request and the decoder must use the
// same list in the same order.
var TrackedStyles = []string{
	"display",
	"visibility",
	"opacity",
	"overflow",
	"overflow-x",
	"overflow-y",
	"position",
	"z-index",
	"pointer-events",
	"cursor",
	"background-color",
	"color",
	"clip-path",
	"transform",
}

// CaptureParams returns the canonical DOMSnapshot capture request: tracked
// computed styles, paint orders, and DOM rects.
func CaptureParams() *proto.DOMSnapshotCaptureSnapshot {
	styles := make([]string, len(TrackedStyles))
	copy(styles, TrackedStyles)
	return &proto.DOMSnapshotCaptureSnapshot{
		ComputedStyles:    styles,
		IncludePaintOrder: true,
		IncludeDOMRects:   true,
	}
}

// Resolve derives the enhanced per-node lookup from one raw capture. Pure
// and deterministic: same capture and ratio, same result. Nodes whose
// backend id never appears in a node table are simply absent from the
// result; callers treat a missing entry as "no enhancement available".
func Resolve(raw *proto.DOMSnapshotCaptureSnapshotResult, devicePixelRatio float64) map[proto.DOMBackendNodeID]*EnhancedNode {
	out := make(map[proto.DOMBackendNodeID]*EnhancedNode)
	if raw == nil {
		return out
	}
	if devicePixelRatio <= 0 {
		devicePixelRatio = 1
	}

	for _, doc := range raw.Documents {
		if doc == nil || doc.Nodes == nil {
			continue
		}
		resolveDocument(out, doc, raw.Strings, devicePixelRatio)
	}
	return out
}

func resolveDocument(out map[proto.DOMBackendNodeID]*EnhancedNode, doc *proto.DOMSnapshotDocumentSnapshot, strings []string, ratio float64) {
	nodes := doc.Nodes
	clickable := rareBoolSet(nodes.IsClickable)
	layoutRow := layoutRowsByNode(doc.Layout)
	stacking := rareBoolSet(layoutRowFlags(doc.Layout))

	for pos, backendID := range nodes.BackendNodeID {
		if _, seen := out[backendID]; seen {
			// Same backend id surfacing in a later document keeps the first
			// resolution.
			continue
		}

		n := &EnhancedNode{
			BackendNodeID:  backendID,
			IsClickable:    clickable[pos],
			ComputedStyles: make(map[string]string),
		}

		if row, ok := layoutRow[pos]; ok {
			layout := doc.Layout
			if row < len(layout.Bounds) {
				n.Bounds = rectFromSnapshot(layout.Bounds[row], ratio)
			}
			if row < len(layout.Styles) {
				decodeStyles(n.ComputedStyles, layout.Styles[row], strings)
				n.CursorStyle = n.ComputedStyles["cursor"]
			}
			if row < len(layout.PaintOrders) {
				po := layout.PaintOrders[row]
				n.PaintOrder = &po
			}
			if row < len(layout.ClientRects) {
				n.ClientRect = rectFromSnapshot(layout.ClientRects[row], 1)
			}
			if row < len(layout.ScrollRects) {
				n.ScrollRect = rectFromSnapshot(layout.ScrollRects[row], 1)
			}
			if stacking[row] {
				r := row
				n.StackingContext = &r
			}
		}

		out[backendID] = n
	}
}

// layoutRowsByNode indexes the layout table by node-table position. The
// first row for a position wins when a node has several layout fragments.
func layoutRowsByNode(layout *proto.DOMSnapshotLayoutTreeSnapshot) map[int]int {
	rows := make(map[int]int)
	if layout == nil {
		return rows
	}
	for row, nodeIdx := range layout.NodeIndex {
		if _, seen := rows[nodeIdx]; !seen {
			rows[nodeIdx] = row
		}
	}
	return rows
}

func layoutRowFlags(layout *proto.DOMSnapshotLayoutTreeSnapshot) *proto.DOMSnapshotRareBooleanData {
	if layout == nil {
		return nil
	}
	return layout.StackingContexts
}

// rareBoolSet decodes the sparse rare-boolean encoding: an index is true iff
// it appears in the list.
func rareBoolSet(data *proto.DOMSnapshotRareBooleanData) map[int]bool {
	set := make(map[int]bool)
	if data == nil {
		return set
	}
	for _, idx := range data.Index {
		set[idx] = true
	}
	return set
}

// rectFromSnapshot decodes a snapshot rectangle [x, y, width, height],
// dividing every component by ratio. Short arrays yield nil.
func rectFromSnapshot(r proto.DOMSnapshotRectangle, ratio float64) *Rect {
	if len(r) < 4 {
		return nil
	}
	return &Rect{
		X:      r[0] / ratio,
		Y:      r[1] / ratio,
		Width:  r[2] / ratio,
		Height: r[3] / ratio,
	}
}

// decodeStyles maps a layout row's style indices onto the tracked style
// names positionally: one value per tracked name in the same order. Extra
// indices are ignored; missing ones leave the name unset; out-of-range
// string indices are skipped.
func decodeStyles(dst map[string]string, indices proto.DOMSnapshotArrayOfStrings, strings []string) {
	for i, name := range TrackedStyles {
		if i >= len(indices) {
			break
		}
		idx := int(indices[i])
		if idx < 0 || idx >= len(strings) {
			continue
		}
		dst[name] = strings[idx]
	}
}

// stringAt resolves a shared-string-table index, "" for out-of-range
// (including the protocol's -1 "absent" convention).
func stringAt(strings []string, idx proto.DOMSnapshotStringIndex) string {
	i := int(idx)
	if i < 0 || i >= len(strings) {
		return ""
	}
	return strings[i]
}
