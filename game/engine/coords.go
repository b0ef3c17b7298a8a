package engine

import "math"

// ToTile maps a world point to its tile index. ok is false when the point lies
// outside the world, in which case the index is still the floor-divided value.
func (w World) ToTile(p Point) (TileIndex, bool) {
	t := TileIndex{
		X: int(math.Floor(p.X / w.TileWidth())),
		Y: int(math.Floor(p.Y / w.TileHeight())),
	}
	return t, w.ValidTile(t)
}

// ValidTile reports whether t addresses a cell of the grid
func (w World) ValidTile(t TileIndex) bool {
	return t.X >= 0 && t.X < w.TilesX && t.Y >= 0 && t.Y < w.TilesY
}

// TileCenter returns the world-space center of a tile
func (w World) TileCenter(t TileIndex) Point {
	return Point{
		X: (float64(t.X) + 0.5) * w.TileWidth(),
		Y: (float64(t.Y) + 0.5) * w.TileHeight(),
	}
}

// Contains reports whether p lies in [0,W) x [0,H)
func (w World) Contains(p Point) bool {
	return p.X >= 0 && p.X < w.Width && p.Y >= 0 && p.Y < w.Height
}

// Normalize wraps a point back into the world bounds
func (w World) Normalize(p Point) Point {
	return Point{X: wrapFloat(p.X, w.Width), Y: wrapFloat(p.Y, w.Height)}
}

// WrapAdjust decides whether the connection a-b should be routed across a world
// edge instead of through the interior. When it should, the returned point is b
// moved one tile beyond the world boundary next to b's edge band. X bands are
// checked before Y bands and only one axis is adjusted.
func (w World) WrapAdjust(a, b Point) (Point, bool) {
	tw, th := w.TileWidth(), w.TileHeight()
	ta := TileIndex{X: int(math.Floor(a.X / tw)), Y: int(math.Floor(a.Y / th))}
	tb := TileIndex{X: int(math.Floor(b.X / tw)), Y: int(math.Floor(b.Y / th))}
	lastX, lastY := w.TilesX-1, w.TilesY-1

	switch {
	case ta.X <= 0 && tb.X >= lastX:
		return Point{X: w.Width + tw, Y: b.Y}, true
	case ta.X >= lastX && tb.X <= 0:
		return Point{X: -tw, Y: b.Y}, true
	case ta.Y <= 0 && tb.Y >= lastY:
		return Point{X: b.X, Y: w.Height + th}, true
	case ta.Y >= lastY && tb.Y <= 0:
		return Point{X: b.X, Y: -th}, true
	}
	return b, false
}

// Distance returns the Euclidean distance between two points
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Snap centers a point inside its unit pixel
func Snap(p Point) Point {
	return Point{X: math.Floor(p.X) + 0.5, Y: math.Floor(p.Y) + 0.5}
}

// QuadrantCenter returns the center of the world quadrant containing (x, y)
func (w World) QuadrantCenter(x, y float64) Point {
	cx, cy := w.Width/2, w.Height/2
	mx, my := 0.0, 0.0
	if x >= cx {
		mx = 1
	}
	if y >= cy {
		my = 1
	}
	return Point{X: cx/2 + mx*cx, Y: cy/2 + my*cy}
}

func wrapFloat(v, size float64) float64 {
	if size <= 0 {
		return v
	}
	r := math.Mod(v, size)
	if r < 0 {
		r += size
	}
	return r
}
