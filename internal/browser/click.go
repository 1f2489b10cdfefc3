package browser

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/dom"
	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
)

// stageTimeout bounds each geometry or input stage on its own, so one hung
// protocol call cannot eat the whole action budget.
const stageTimeout = 5 * time.Second

// ClickMetadata reports where a click landed and which geometry stage
// resolved the point. Native element clicks return no metadata.
type ClickMetadata struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Strategy string  `json:"strategy"` // quads, box-model, bounding-rect
}

// Click resolves the element's position and clicks it, walking a chain of
// coarser geometry sources until one yields a usable point: content quads,
// then the box model, then getBoundingClientRect, and finally the element's
// own click() with no coordinates at all. The original tab keeps focus even
// when the click opens or switches tabs.
func (s *Session) Click(node *dom.ElementNode, modifiers int) (*ClickMetadata, error) {
	if node == nil {
		return nil, &ElementNotInteractableError{Kind: KindNotFound, Reason: "no such element"}
	}
	// Dropdowns and file inputs have dedicated operations; reject before
	// any geometry work.
	if node.IsSelect() {
		return nil, NewSelectError(node.Index, node.TagName)
	}
	if node.IsFileInput() {
		return nil, NewFileInputError(node.Index, node.TagName)
	}

	page, err := s.CurrentPage()
	if err != nil {
		return nil, err
	}

	original := s.FocusedTargetID()
	defer s.RestoreFocus(original)

	return clickOnPage(page, node, modifiers)
}

func clickOnPage(page *rod.Page, node *dom.ElementNode, modifiers int) (*ClickMetadata, error) {
	scrollNodeIntoView(page, node)

	vp, err := pageViewport(page)
	if err != nil {
		L_debug("click: viewport lookup failed, assuming default", "index", node.Index, "error", err)
		vp = Viewport{Width: 1280, Height: 1100}
	}

	point, strategy, ok := resolveClickPoint(page, node, vp)
	if !ok {
		if err := nativeClick(page, node); err != nil {
			L_warn("click: every stage failed", "index", node.Index, "error", err)
			return nil, &GeometryUnresolvedError{
				Index:  node.Index,
				Stages: []string{"quads", "box-model", "bounding-rect", "native-click"},
			}
		}
		L_debug("click: native element click", "index", node.Index)
		return nil, nil
	}

	if err := dispatchClick(page, point, modifiers); err != nil {
		L_warn("click: input dispatch failed, falling back to native click",
			"index", node.Index, "x", point.X, "y", point.Y, "error", err)
		if nerr := nativeClick(page, node); nerr != nil {
			return nil, nerr
		}
		return nil, nil
	}

	L_debug("click: dispatched", "index", node.Index, "x", point.X, "y", point.Y, "strategy", strategy)
	return &ClickMetadata{X: point.X, Y: point.Y, Strategy: strategy}, nil
}

// resolveClickPoint walks the geometry stages in order, advancing only when
// a stage yields nothing usable.
func resolveClickPoint(page *rod.Page, node *dom.ElementNode, vp Viewport) (Point, string, bool) {
	p := page.Timeout(stageTimeout)

	if res, err := (proto.DOMGetContentQuads{BackendNodeID: node.BackendNodeID}).Call(p); err == nil {
		if pt, ok := QuadPoint(res.Quads, vp); ok {
			return pt, "quads", true
		}
	} else {
		L_trace("click: content quads unavailable", "index", node.Index, "error", err)
	}

	if res, err := (proto.DOMGetBoxModel{BackendNodeID: node.BackendNodeID}).Call(p); err == nil && res.Model != nil {
		if pt, ok := QuadPoint([]proto.DOMQuad{res.Model.Content}, vp); ok {
			return pt, "box-model", true
		}
	} else {
		L_trace("click: box model unavailable", "index", node.Index, "error", err)
	}

	if r, err := boundingClientRect(p, node); err == nil {
		if pt, ok := RectPoint(r, vp); ok {
			return pt, "bounding-rect", true
		}
	} else {
		L_trace("click: bounding rect unavailable", "index", node.Index, "error", err)
	}

	return Point{}, "", false
}

// dispatchClick moves the pointer to the point, presses and releases, each
// input stage bounded on its own.
func dispatchClick(page *rod.Page, pt Point, modifiers int) error {
	stages := []proto.InputDispatchMouseEvent{
		{
			Type:      proto.InputDispatchMouseEventTypeMouseMoved,
			X:         pt.X,
			Y:         pt.Y,
			Modifiers: modifiers,
		},
		{
			Type:       proto.InputDispatchMouseEventTypeMousePressed,
			X:          pt.X,
			Y:          pt.Y,
			Modifiers:  modifiers,
			Button:     proto.InputMouseButtonLeft,
			ClickCount: 1,
		},
		{
			Type:       proto.InputDispatchMouseEventTypeMouseReleased,
			X:          pt.X,
			Y:          pt.Y,
			Modifiers:  modifiers,
			Button:     proto.InputMouseButtonLeft,
			ClickCount: 1,
		},
	}
	for _, ev := range stages {
		if err := ev.Call(page.Timeout(stageTimeout)); err != nil {
			return NewProtocolError("Input.dispatchMouseEvent", err)
		}
	}
	return nil
}

// scrollNodeIntoView brings the element into the viewport before geometry
// is read. Failures are logged and ignored; the quads tell the truth either
// way.
func scrollNodeIntoView(page *rod.Page, node *dom.ElementNode) {
	p := page.Timeout(stageTimeout)
	if err := (proto.DOMScrollIntoViewIfNeeded{BackendNodeID: node.BackendNodeID}).Call(p); err != nil {
		L_trace("click: scroll into view failed", "index", node.Index, "error", err)
	}
}

// pageViewport reads the CSS visual viewport, falling back to the layout
// viewport.
func pageViewport(page *rod.Page) (Viewport, error) {
	res, err := proto.PageGetLayoutMetrics{}.Call(page.Timeout(stageTimeout))
	if err != nil {
		return Viewport{}, NewProtocolError("Page.getLayoutMetrics", err)
	}
	if v := res.CSSVisualViewport; v != nil && v.ClientWidth > 0 {
		return Viewport{Width: v.ClientWidth, Height: v.ClientHeight}, nil
	}
	if v := res.CSSLayoutViewport; v != nil && v.ClientWidth > 0 {
		return Viewport{Width: float64(v.ClientWidth), Height: float64(v.ClientHeight)}, nil
	}
	return Viewport{}, fmt.Errorf("layout metrics empty")
}

// resolveRemoteObject turns the element's backend node into a remote object
// for script calls on it.
func resolveRemoteObject(page *rod.Page, node *dom.ElementNode) (proto.RuntimeRemoteObjectID, error) {
	res, err := proto.DOMResolveNode{BackendNodeID: node.BackendNodeID}.Call(page)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNodeGone, err)
	}
	if res.Object == nil || res.Object.ObjectID == "" {
		return "", ErrNodeGone
	}
	return res.Object.ObjectID, nil
}

// boundingClientRect reads the element's client rect through a remote call.
func boundingClientRect(page *rod.Page, node *dom.ElementNode) (*dom.Rect, error) {
	obj, err := resolveRemoteObject(page, node)
	if err != nil {
		return nil, err
	}
	res, err := proto.RuntimeCallFunctionOn{
		ObjectID: obj,
		FunctionDeclaration: `function() {
			const r = this.getBoundingClientRect();
			return {x: r.x, y: r.y, width: r.width, height: r.height};
		}`,
		ReturnByValue: true,
	}.Call(page)
	if err != nil {
		return nil, NewProtocolError("Runtime.callFunctionOn", err)
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("getBoundingClientRect threw: %s", res.ExceptionDetails.Text)
	}
	if res.Result == nil {
		return nil, fmt.Errorf("getBoundingClientRect returned nothing")
	}
	v := res.Result.Value
	return &dom.Rect{
		X:      v.Get("x").Num(),
		Y:      v.Get("y").Num(),
		Width:  v.Get("width").Num(),
		Height: v.Get("height").Num(),
	}, nil
}

// nativeClick falls back to the element's own click() method.
func nativeClick(page *rod.Page, node *dom.ElementNode) error {
	if err := remoteCall(page.Timeout(stageTimeout), node, `function() { this.click(); }`); err != nil {
		return fmt.Errorf("native click: %w", err)
	}
	return nil
}
