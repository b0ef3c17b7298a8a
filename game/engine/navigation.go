package engine

import (
	"errors"
	"fmt"
)

var (
	ErrUnindexable    = errors.New("point does not map to a tile")
	ErrRevealDeclined = errors.New("target tile is hidden and reveal was not confirmed")
)

// ConfirmFunc is asked before a hidden tile is revealed as a side effect of navigation
type ConfirmFunc func(TileIndex) bool

// DefaultViewport frames the home tile
func (e *Engine) DefaultViewport() Viewport {
	return Viewport{Center: e.world.TileCenter(e.world.Home), Zoom: DefaultZoom}
}

// GotoQuadrant flies the view to the center of the world quadrant containing (x, y)
func (e *Engine) GotoQuadrant(x, y float64) Viewport {
	vp := Viewport{Center: e.world.QuadrantCenter(x, y), Zoom: QuadrantZoom}
	e.obs.emit(Event{Type: EventNavigate, Context: e.context, Viewport: &vp})
	return vp
}

// GotoTile flies the view to (x, y). When the containing tile is hidden, confirm
// must approve revealing it first; a nil confirm declines.
func (e *Engine) GotoTile(x, y float64, confirm ConfirmFunc) (Viewport, error) {
	target := Point{X: x, Y: y}
	t, ok := e.world.ToTile(target)
	if !ok {
		return Viewport{}, fmt.Errorf("%w: [%g, %g]", ErrUnindexable, y, x)
	}

	if !e.tiles.IsRevealed(t) {
		if confirm == nil || !confirm(t) {
			return Viewport{}, fmt.Errorf("%w: (%d,%d)", ErrRevealDeclined, t.X, t.Y)
		}
		if err := e.SetTile(t, true); err != nil {
			return Viewport{}, err
		}
	}

	vp := Viewport{Center: target, Zoom: TileZoom}
	e.obs.emit(Event{Type: EventNavigate, Context: e.context, Viewport: &vp})
	return vp, nil
}
