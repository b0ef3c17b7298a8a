package service

import (
	"time"

	"github.com/wricardo/wellmap/game/engine"
)

// SessionInfo provides information about an exploration session
type SessionInfo struct {
	ID             string              `json:"id"`
	Editor         bool                `json:"editor"`
	CreatedAt      time.Time           `json:"created_at"`
	LastAccessedAt time.Time           `json:"last_accessed_at"`
	World          engine.World        `json:"world"`
	RevealedTiles  int                 `json:"revealed_tiles"`
	TotalTiles     int                 `json:"total_tiles"`
	FoundMarkers   int                 `json:"found_markers"`
	TotalMarkers   int                 `json:"total_markers"`
	Nodes          int                 `json:"nodes"`
	Viewport       engine.Viewport     `json:"viewport"`
	Diagnostics    []engine.Diagnostic `json:"diagnostics,omitempty"`
}

// TilesView is the fog-of-war state of a session
type TilesView struct {
	World    engine.World `json:"world"`
	Revealed [][]bool     `json:"revealed"`
	Count    int          `json:"revealed_count"`
	Encoded  string       `json:"encoded"`
}

// TileResult is the outcome of a single tile transition
type TileResult struct {
	Tile  engine.Tile `json:"tile"`
	Count int         `json:"revealed_count"`
}

// GroupSummary describes a marker group without its markers
type GroupSummary struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Section string `json:"section,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Custom  bool   `json:"custom"`
	Visible bool   `json:"visible"`
	Markers int    `json:"markers"`
	Found   int    `json:"found"`
	Shown   int    `json:"shown"`
}

// MarkerResult is the outcome of a found toggle
type MarkerResult struct {
	MarkerID   string `json:"marker_id"`
	Found      bool   `json:"found"`
	FoundCount int    `json:"found_count"`
}

// GroupFoundResult is the outcome of a bulk found update
type GroupFoundResult struct {
	Group   string `json:"group"`
	Found   bool   `json:"found"`
	Changed int    `json:"changed"`
}

// MarkerVisibleResult is the outcome of a single marker visibility change
type MarkerVisibleResult struct {
	MarkerID string `json:"marker_id"`
	Visible  bool   `json:"visible"`
}

// MarkersVisibleResult is the outcome of a bulk marker visibility change.
// An empty group means every group.
type MarkersVisibleResult struct {
	Group   string `json:"group,omitempty"`
	Visible bool   `json:"visible"`
	Changed int    `json:"changed"`
}

// NodesView lists the node graph of a session
type NodesView struct {
	Mode    engine.Mode         `json:"mode"`
	Current int                 `json:"current,omitempty"`
	Nodes   []engine.NodeRecord `json:"nodes"`
}

// ConnectResult reports the edge state after a connect toggle
type ConnectResult struct {
	A         int  `json:"a"`
	B         int  `json:"b"`
	Connected bool `json:"connected"`
}

// CollectionInfo provides information about a marker definition file
type CollectionInfo struct {
	Name    string `json:"name"`
	Groups  int    `json:"groups"`
	Markers int    `json:"markers"`
}
