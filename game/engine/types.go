package engine

import (
	"encoding/json"
	"fmt"

	"github.com/zyedidia/generic/mapset"
)

// Reference world dimensions
const (
	DefaultWidth    = 640
	DefaultHeight   = 352
	DefaultTilesX   = 16
	DefaultTilesY   = 16
	DefaultHomeX    = 5
	DefaultHomeY    = 4
	MinTilesPerAxis = 2
	MaxTilesPerAxis = 64

	// Viewport zoom levels used by the navigation bridge
	DefaultZoom  = 3
	QuadrantZoom = 2
	TileZoom     = 3

	// IndicatorDistance is how far the edge direction indicator sits from its endpoint
	IndicatorDistance = 1.0
)

// Point is a world-space coordinate. On the wire it is encoded as [lat, lng] = [y, x].
type Point struct {
	X, Y float64
}

// MarshalJSON encodes the point as [lat, lng]
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Y, p.X})
}

// UnmarshalJSON decodes a [lat, lng] pair
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("point must be [lat, lng]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("point must have 2 components, got %d", len(pair))
	}
	p.Y, p.X = pair[0], pair[1]
	return nil
}

// TileIndex addresses one cell of the tile grid
type TileIndex struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// World describes the world's pixel size and its tile partition
type World struct {
	Width  float64   `json:"width"`
	Height float64   `json:"height"`
	TilesX int       `json:"tiles_x"`
	TilesY int       `json:"tiles_y"`
	Home   TileIndex `json:"home"`
}

// DefaultWorld returns the reference 640x352 world split into 16x16 tiles
func DefaultWorld() World {
	return World{
		Width:  DefaultWidth,
		Height: DefaultHeight,
		TilesX: DefaultTilesX,
		TilesY: DefaultTilesY,
		Home:   TileIndex{X: DefaultHomeX, Y: DefaultHomeY},
	}
}

// TileWidth returns the width of a single tile
func (w World) TileWidth() float64 {
	return w.Width / float64(w.TilesX)
}

// TileHeight returns the height of a single tile
func (w World) TileHeight() float64 {
	return w.Height / float64(w.TilesY)
}

// Tile is one fog-of-war cell
type Tile struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Revealed bool `json:"revealed"`
}

// VariantKind tags how a marker's related coordinates are connected
type VariantKind string

const (
	VariantNone        VariantKind = ""
	VariantDestination VariantKind = "destination"
	VariantSequence    VariantKind = "sequence"
)

// Variant is the tagged union None | Destination{points} | Sequence{points}
type Variant struct {
	Kind   VariantKind `json:"kind,omitempty"`
	Points []Point     `json:"points,omitempty"`
}

// Marker is a point-of-interest annotation
type Marker struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Hints       []string `json:"hints,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Type        string   `json:"type"`
	Coords      []Point  `json:"coords"`
	Found       bool     `json:"found"`
	Visible     bool     `json:"visible"`
	Variant     Variant  `json:"variant,omitempty"`
}

// MarkerGroup is a named category of markers, static or user-authored
type MarkerGroup struct {
	Name    string    `json:"name"`
	Label   string    `json:"label,omitempty"`
	Section string    `json:"section,omitempty"`
	Icon    string    `json:"icon,omitempty"`
	Custom  bool      `json:"custom,omitempty"`
	Visible bool      `json:"visible"`
	Markers []*Marker `json:"markers"`
}

// Node is a vertex of the connectivity graph. Edges are stored as id sets on both ends.
type Node struct {
	ID        int
	Coords    Point
	Connected mapset.Set[int]
}

// NodeRecord is the serializable form of a node handed to the export sink
type NodeRecord struct {
	ID        int   `json:"id"`
	Coords    Point `json:"coords"`
	Connected []int `json:"connected"`
}

// Segment is a line the renderer should draw between two points
type Segment struct {
	From  Point  `json:"from"`
	To    Point  `json:"to"`
	Color string `json:"color,omitempty"`
}

// EdgeSegment is the derived rendering of one undirected node edge
type EdgeSegment struct {
	A         int   `json:"a"`
	B         int   `json:"b"`
	From      Point `json:"from"`
	To        Point `json:"to"`
	Indicator Point `json:"indicator"`
	Wrapped   bool  `json:"wrapped"`
}

// Viewport is a navigation target for the external view
type Viewport struct {
	Center Point `json:"center"`
	Zoom   int   `json:"zoom"`
}
