package service

import (
	"context"
	"errors"
	"time"

	"github.com/wricardo/wellmap/game/engine"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEditorDisabled  = errors.New("editor mode is not enabled on this server")
)

// MapService defines all map-related operations
type MapService interface {
	// Session Management
	CreateSession(ctx context.Context, sessionID string, editor bool) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Fog of war
	GetTiles(ctx context.Context, sessionID string) (*TilesView, error)
	ToggleTile(ctx context.Context, sessionID string, tile engine.TileIndex) (*TileResult, error)
	SetTile(ctx context.Context, sessionID string, tile engine.TileIndex, revealed bool) (*TileResult, error)
	RevealAll(ctx context.Context, sessionID string) (*TilesView, error)
	HideAll(ctx context.Context, sessionID string) (*TilesView, error)
	LoadEncodedTiles(ctx context.Context, sessionID, encoded string) (*TilesView, error)

	// Markers
	ListGroups(ctx context.Context, sessionID string) ([]*GroupSummary, error)
	GetGroup(ctx context.Context, sessionID, group string) (*engine.MarkerGroup, error)
	SetGroupVisible(ctx context.Context, sessionID, group string, visible bool) (*GroupSummary, error)
	SetGroupFound(ctx context.Context, sessionID, group string, found bool) (*GroupFoundResult, error)
	SetMarkerVisible(ctx context.Context, sessionID, markerID string, visible bool) (*MarkerVisibleResult, error)
	SetMarkersVisible(ctx context.Context, sessionID, group string, visible bool) (*MarkersVisibleResult, error)
	ShowRevealedMarkers(ctx context.Context, sessionID, group string) (*MarkersVisibleResult, error)
	RevealedMarkers(ctx context.Context, sessionID, group string) ([]engine.Marker, error)
	ToggleFound(ctx context.Context, sessionID, markerID string) (*MarkerResult, error)
	RelatedLines(ctx context.Context, sessionID, markerID string, focus int) ([]engine.Segment, error)
	SaveCustomGroup(ctx context.Context, sessionID, group string, points []engine.Point, create bool) (*engine.MarkerGroup, error)
	DeleteCustomGroup(ctx context.Context, sessionID, group string) error

	// Navigation
	GotoQuadrant(ctx context.Context, sessionID string, x, y float64) (engine.Viewport, error)
	GotoTile(ctx context.Context, sessionID string, x, y float64, reveal bool) (engine.Viewport, error)

	// Node graph
	ListNodes(ctx context.Context, sessionID string) (*NodesView, error)
	AddNode(ctx context.Context, sessionID string, p engine.Point, connect, follow bool) (*engine.NodeRecord, error)
	SelectNode(ctx context.Context, sessionID string, nodeID int) (*NodesView, error)
	ConnectNodes(ctx context.Context, sessionID string, a, b int) (*ConnectResult, error)
	DisconnectNodes(ctx context.Context, sessionID string, a, b int) error
	MoveNode(ctx context.Context, sessionID string, nodeID int, p engine.Point) (*engine.NodeRecord, error)
	DeleteNode(ctx context.Context, sessionID string, nodeID int) error
	RenderNodes(ctx context.Context, sessionID string) ([]engine.EdgeSegment, error)
	ExportNodes(ctx context.Context, sessionID string) ([]engine.NodeRecord, error)
	PublishNodes(ctx context.Context, sessionID string) (int, error)

	// Definitions
	ListCollections(ctx context.Context) ([]*CollectionInfo, error)
	ReloadDefinitions(ctx context.Context) error

	// Events
	Subscribe(fn engine.Observer) func()
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(id string, editor bool) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Delete(id string) error
	UpdateLastAccessed(id string) (*Session, error)
	Reload() error
	Subscribe(fn engine.Observer) func()
}

// ConfigManager lists marker definition files
type ConfigManager interface {
	ListCollections() ([]*CollectionInfo, error)
}

// Session represents an active exploration profile
type Session struct {
	ID             string
	Engine         *engine.Engine
	Editor         bool
	CreatedAt      time.Time
	LastAccessedAt time.Time
}
