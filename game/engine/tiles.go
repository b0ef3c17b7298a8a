package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrTileOutOfRange  = errors.New("tile out of range")
	ErrInvalidEncoding = errors.New("invalid tile encoding")
)

// TileGrid holds the fog-of-war state for every cell of the world
type TileGrid struct {
	world World
	tiles [][]Tile
}

// tileMatrix is the persisted row-major form of the grid
type tileMatrix struct {
	Revealed [][]int `json:"revealed"`
}

// NewTileGrid creates a grid with every tile hidden except home
func NewTileGrid(world World) *TileGrid {
	g := &TileGrid{world: world}
	g.tiles = make([][]Tile, world.TilesY)
	for y := range g.tiles {
		g.tiles[y] = make([]Tile, world.TilesX)
		for x := range g.tiles[y] {
			g.tiles[y][x] = Tile{X: x, Y: y}
		}
	}
	g.forceHome()
	return g
}

// World returns the world the grid partitions
func (g *TileGrid) World() World {
	return g.world
}

// Tile returns a copy of the tile at t
func (g *TileGrid) Tile(t TileIndex) (Tile, error) {
	if !g.world.ValidTile(t) {
		return Tile{}, fmt.Errorf("%w: (%d,%d)", ErrTileOutOfRange, t.X, t.Y)
	}
	return g.tiles[t.Y][t.X], nil
}

// IsRevealed reports whether t is revealed. Out-of-range tiles are never revealed.
func (g *TileGrid) IsRevealed(t TileIndex) bool {
	if !g.world.ValidTile(t) {
		return false
	}
	return g.tiles[t.Y][t.X].Revealed
}

// Toggle flips the tile and returns its new state
func (g *TileGrid) Toggle(t TileIndex) (bool, error) {
	if !g.world.ValidTile(t) {
		return false, fmt.Errorf("%w: (%d,%d)", ErrTileOutOfRange, t.X, t.Y)
	}
	tile := &g.tiles[t.Y][t.X]
	tile.Revealed = !tile.Revealed
	return tile.Revealed, nil
}

// SetRevealed sets the tile to an explicit state
func (g *TileGrid) SetRevealed(t TileIndex, revealed bool) error {
	if !g.world.ValidTile(t) {
		return fmt.Errorf("%w: (%d,%d)", ErrTileOutOfRange, t.X, t.Y)
	}
	g.tiles[t.Y][t.X].Revealed = revealed
	return nil
}

// RevealAll reveals every tile
func (g *TileGrid) RevealAll() {
	g.setAll(true)
}

// HideAll hides every tile, then reveals home again
func (g *TileGrid) HideAll() {
	g.setAll(false)
	g.forceHome()
}

// Tiles returns a row-major copy of the grid
func (g *TileGrid) Tiles() [][]Tile {
	out := make([][]Tile, len(g.tiles))
	for y, row := range g.tiles {
		out[y] = append([]Tile(nil), row...)
	}
	return out
}

// RevealedCount returns the number of revealed tiles
func (g *TileGrid) RevealedCount() int {
	count := 0
	for _, row := range g.tiles {
		for _, tile := range row {
			if tile.Revealed {
				count++
			}
		}
	}
	return count
}

// Marshal encodes the grid as {"revealed": [[0|1, ...], ...]}
func (g *TileGrid) Marshal() (string, error) {
	m := tileMatrix{Revealed: make([][]int, len(g.tiles))}
	for y, row := range g.tiles {
		m.Revealed[y] = make([]int, len(row))
		for x, tile := range row {
			if tile.Revealed {
				m.Revealed[y][x] = 1
			}
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tiles: %w", err)
	}
	return string(data), nil
}

// Load replaces the grid state with a persisted matrix. Missing rows or cells are
// hidden, extra ones are ignored, and home is revealed afterwards. An empty input
// yields the initial state.
func (g *TileGrid) Load(data string) error {
	var m tileMatrix
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return fmt.Errorf("failed to unmarshal tiles: %w", err)
		}
	}

	g.setAll(false)
	for y := 0; y < len(m.Revealed) && y < g.world.TilesY; y++ {
		for x := 0; x < len(m.Revealed[y]) && x < g.world.TilesX; x++ {
			g.tiles[y][x].Revealed = m.Revealed[y][x] != 0
		}
	}
	g.forceHome()
	return nil
}

// EncodeBits packs the row-major reveal state into a base-36 string.
// Bit i is set when tile i (y*TilesX+x) is revealed.
func (g *TileGrid) EncodeBits() string {
	v := new(big.Int)
	for y, row := range g.tiles {
		for x, tile := range row {
			if tile.Revealed {
				v.SetBit(v, y*g.world.TilesX+x, 1)
			}
		}
	}
	return v.Text(36)
}

// DecodeBits restores a state produced by EncodeBits. Home stays revealed.
func (g *TileGrid) DecodeBits(encoded string) error {
	v, ok := new(big.Int).SetString(strings.ToLower(strings.TrimSpace(encoded)), 36)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidEncoding, encoded)
	}
	for y, row := range g.tiles {
		for x := range row {
			g.tiles[y][x].Revealed = v.Bit(y*g.world.TilesX+x) == 1
		}
	}
	g.forceHome()
	return nil
}

func (g *TileGrid) setAll(revealed bool) {
	for y := range g.tiles {
		for x := range g.tiles[y] {
			g.tiles[y][x].Revealed = revealed
		}
	}
}

func (g *TileGrid) forceHome() {
	if g.world.ValidTile(g.world.Home) {
		g.tiles[g.world.Home.Y][g.world.Home.X].Revealed = true
	}
}
