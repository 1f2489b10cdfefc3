package browser

import (
	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/dom"
)

// Point is a page coordinate in CSS pixels.
type Point struct {
	X float64
	Y float64
}

// Viewport is the layout viewport size in CSS pixels.
type Viewport struct {
	Width  float64
	Height float64
}

// QuadRect returns the axis-aligned bounding box of a protocol quad, nil for
// malformed quads.
func QuadRect(quad proto.DOMQuad) *dom.Rect {
	if len(quad) < 8 {
		return nil
	}
	minX, minY := quad[0], quad[1]
	maxX, maxY := quad[0], quad[1]
	for i := 2; i+1 < 8; i += 2 {
		x, y := quad[i], quad[i+1]
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return &dom.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// QuadCenter returns the centroid of a quad's vertices.
func QuadCenter(quad proto.DOMQuad) Point {
	var p Point
	if len(quad) < 8 {
		return p
	}
	for i := 0; i+1 < 8; i += 2 {
		p.X += quad[i]
		p.Y += quad[i+1]
	}
	p.X /= 4
	p.Y /= 4
	return p
}

// VisibleArea returns the area of r clipped to the viewport.
func VisibleArea(r *dom.Rect, vp Viewport) float64 {
	if r == nil {
		return 0
	}
	x0 := max(r.X, 0)
	y0 := max(r.Y, 0)
	x1 := min(r.X+r.Width, vp.Width)
	y1 := min(r.Y+r.Height, vp.Height)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	return (x1 - x0) * (y1 - y0)
}

// BestQuad picks the quad with the largest viewport-visible area. Ties keep
// the earliest quad. When every quad is fully off-screen the first quad is
// returned so the caller can still scroll it into reach.
func BestQuad(quads []proto.DOMQuad, vp Viewport) (proto.DOMQuad, bool) {
	var best proto.DOMQuad
	bestArea := 0.0
	for _, q := range quads {
		r := QuadRect(q)
		if r == nil {
			continue
		}
		if best == nil {
			best = q
		}
		if area := VisibleArea(r, vp); area > bestArea {
			best = q
			bestArea = area
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// ClampToViewport bounds a point to [0, dim-1] on each axis. The lower bound
// wins for degenerate viewports.
func ClampToViewport(p Point, vp Viewport) Point {
	p.X = min(p.X, vp.Width-1)
	p.Y = min(p.Y, vp.Height-1)
	p.X = max(p.X, 0)
	p.Y = max(p.Y, 0)
	return p
}

// QuadPoint resolves the interaction point for a set of content quads: the
// centroid of the best quad, clamped to the viewport.
func QuadPoint(quads []proto.DOMQuad, vp Viewport) (Point, bool) {
	q, ok := BestQuad(quads, vp)
	if !ok {
		return Point{}, false
	}
	return ClampToViewport(QuadCenter(q), vp), true
}

// RectPoint resolves the interaction point for a plain rectangle: its center,
// clamped to the viewport. Zero-area rectangles resolve to nothing.
func RectPoint(r *dom.Rect, vp Viewport) (Point, bool) {
	if r == nil || r.Area() <= 0 {
		return Point{}, false
	}
	x, y := r.Center()
	return ClampToViewport(Point{X: x, Y: y}, vp), true
}
