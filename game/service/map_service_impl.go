package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wricardo/wellmap/game/engine"
)

// mapServiceImpl implements the MapService interface
type mapServiceImpl struct {
	sessions    SessionManager
	configs     ConfigManager
	allowEditor bool
	mu          sync.RWMutex
}

// NewMapService creates a new map service instance. allowEditor gates the
// creation of sessions whose node graph can be edited.
func NewMapService(sessions SessionManager, configs ConfigManager, allowEditor bool) MapService {
	return &mapServiceImpl{
		sessions:    sessions,
		configs:     configs,
		allowEditor: allowEditor,
	}
}

// session resolves a session and touches its access time. Callers hold s.mu.
func (s *mapServiceImpl) session(sessionID string) (*Session, error) {
	sess, err := s.sessions.Get(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	// The touched session is a fresh copy; sess may be shared with other readers
	if touched, err := s.sessions.UpdateLastAccessed(sessionID); err == nil {
		return touched, nil
	}
	return sess, nil
}

func sessionInfo(sess *Session) *SessionInfo {
	eng := sess.Engine
	world := eng.World()
	return &SessionInfo{
		ID:             sess.ID,
		Editor:         sess.Editor,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
		World:          world,
		RevealedTiles:  eng.Tiles().RevealedCount(),
		TotalTiles:     world.TilesX * world.TilesY,
		FoundMarkers:   len(eng.Registry().FoundIDs()),
		TotalMarkers:   eng.Registry().Len(),
		Nodes:          eng.Graph().Len(),
		Viewport:       eng.DefaultViewport(),
		Diagnostics:    eng.Diagnostics(),
	}
}

func tilesView(eng *engine.Engine) *TilesView {
	grid := eng.Tiles()
	tiles := grid.Tiles()
	revealed := make([][]bool, len(tiles))
	for y, row := range tiles {
		revealed[y] = make([]bool, len(row))
		for x, tile := range row {
			revealed[y][x] = tile.Revealed
		}
	}
	return &TilesView{
		World:    grid.World(),
		Revealed: revealed,
		Count:    grid.RevealedCount(),
		Encoded:  grid.EncodeBits(),
	}
}

func groupSummary(g *engine.MarkerGroup) *GroupSummary {
	found, shown := 0, 0
	for _, m := range g.Markers {
		if m.Found {
			found++
		}
		if m.Visible {
			shown++
		}
	}
	return &GroupSummary{
		Name:    g.Name,
		Label:   g.Label,
		Section: g.Section,
		Icon:    g.Icon,
		Custom:  g.Custom,
		Visible: g.Visible,
		Markers: len(g.Markers),
		Found:   found,
		Shown:   shown,
	}
}

func nodesView(eng *engine.Engine) *NodesView {
	current, _ := eng.Graph().Current()
	return &NodesView{
		Mode:    eng.Graph().Mode(),
		Current: current,
		Nodes:   eng.ExportNodes(),
	}
}

// CreateSession creates a new exploration session
func (s *mapServiceImpl) CreateSession(ctx context.Context, sessionID string, editor bool) (*SessionInfo, error) {
	if editor && !s.allowEditor {
		return nil, ErrEditorDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessions.Create(sessionID, editor)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sessionInfo(sess), nil
}

// GetSession retrieves session information
func (s *mapServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sessionInfo(sess), nil
}

// ListSessions returns all active sessions ordered by creation time
func (s *mapServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionInfo(sess))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteSession removes a session
func (s *mapServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessions.Delete(sessionID)
}

// GetTiles returns the reveal matrix
func (s *mapServiceImpl) GetTiles(ctx context.Context, sessionID string) (*TilesView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return tilesView(sess.Engine), nil
}

// ToggleTile flips one tile
func (s *mapServiceImpl) ToggleTile(ctx context.Context, sessionID string, tile engine.TileIndex) (*TileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Engine.ToggleTile(tile); err != nil {
		return nil, err
	}
	return s.tileResult(sess.Engine, tile)
}

// SetTile sets one tile explicitly
func (s *mapServiceImpl) SetTile(ctx context.Context, sessionID string, tile engine.TileIndex, revealed bool) (*TileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Engine.SetTile(tile, revealed); err != nil {
		return nil, err
	}
	return s.tileResult(sess.Engine, tile)
}

func (s *mapServiceImpl) tileResult(eng *engine.Engine, tile engine.TileIndex) (*TileResult, error) {
	t, err := eng.Tiles().Tile(tile)
	if err != nil {
		return nil, err
	}
	return &TileResult{Tile: t, Count: eng.Tiles().RevealedCount()}, nil
}

// RevealAll reveals every tile. Callers confirm before invoking it.
func (s *mapServiceImpl) RevealAll(ctx context.Context, sessionID string) (*TilesView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Engine.RevealAll()
	return tilesView(sess.Engine), nil
}

// HideAll hides every tile except home. Callers confirm before invoking it.
func (s *mapServiceImpl) HideAll(ctx context.Context, sessionID string) (*TilesView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Engine.HideAll()
	return tilesView(sess.Engine), nil
}

// LoadEncodedTiles replaces the reveal state from a shared encoding
func (s *mapServiceImpl) LoadEncodedTiles(ctx context.Context, sessionID, encoded string) (*TilesView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Engine.LoadEncodedTiles(encoded); err != nil {
		return nil, err
	}
	return tilesView(sess.Engine), nil
}

// ListGroups summarizes every marker group
func (s *mapServiceImpl) ListGroups(ctx context.Context, sessionID string) ([]*GroupSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	groups := sess.Engine.Registry().Groups()
	result := make([]*GroupSummary, 0, len(groups))
	for _, g := range groups {
		result = append(result, groupSummary(g))
	}
	return result, nil
}

// GetGroup returns a detached copy of a group
func (s *mapServiceImpl) GetGroup(ctx context.Context, sessionID, group string) (*engine.MarkerGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	g, err := sess.Engine.Registry().CopyGroup(group)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SetGroupVisible changes a group's visibility
func (s *mapServiceImpl) SetGroupVisible(ctx context.Context, sessionID, group string, visible bool) (*GroupSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Engine.SetGroupVisible(group, visible); err != nil {
		return nil, err
	}
	g, err := sess.Engine.Registry().Group(group)
	if err != nil {
		return nil, err
	}
	return groupSummary(g), nil
}

// SetGroupFound marks every marker of a group. Callers confirm before invoking it.
func (s *mapServiceImpl) SetGroupFound(ctx context.Context, sessionID, group string, found bool) (*GroupFoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	changed, err := sess.Engine.SetGroupFound(group, found)
	if err != nil {
		return nil, err
	}
	return &GroupFoundResult{Group: group, Found: found, Changed: changed}, nil
}

// SetMarkerVisible shows or hides a single marker
func (s *mapServiceImpl) SetMarkerVisible(ctx context.Context, sessionID, markerID string, visible bool) (*MarkerVisibleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Engine.SetMarkerVisible(markerID, visible); err != nil {
		return nil, err
	}
	return &MarkerVisibleResult{MarkerID: markerID, Visible: visible}, nil
}

// SetMarkersVisible shows or hides every marker of a group, or of all groups when
// group is empty. Callers confirm before invoking it.
func (s *mapServiceImpl) SetMarkersVisible(ctx context.Context, sessionID, group string, visible bool) (*MarkersVisibleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	changed, err := sess.Engine.SetMarkersVisible(group, visible)
	if err != nil {
		return nil, err
	}
	return &MarkersVisibleResult{Group: group, Visible: visible, Changed: changed}, nil
}

// ShowRevealedMarkers shows the hidden markers sitting on revealed tiles.
// Callers confirm before invoking it.
func (s *mapServiceImpl) ShowRevealedMarkers(ctx context.Context, sessionID, group string) (*MarkersVisibleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	changed, err := sess.Engine.ShowRevealedMarkers(group)
	if err != nil {
		return nil, err
	}
	return &MarkersVisibleResult{Group: group, Visible: true, Changed: changed}, nil
}

// RevealedMarkers lists a group's markers that sit on revealed tiles
func (s *mapServiceImpl) RevealedMarkers(ctx context.Context, sessionID, group string) ([]engine.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Engine.RevealedMarkers(group)
}

// ToggleFound flips a marker's found flag
func (s *mapServiceImpl) ToggleFound(ctx context.Context, sessionID, markerID string) (*MarkerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	found, err := sess.Engine.ToggleFound(markerID)
	if err != nil {
		return nil, err
	}
	return &MarkerResult{
		MarkerID:   markerID,
		Found:      found,
		FoundCount: len(sess.Engine.Registry().FoundIDs()),
	}, nil
}

// RelatedLines resolves the lines for a marker's detail view
func (s *mapServiceImpl) RelatedLines(ctx context.Context, sessionID, markerID string, focus int) ([]engine.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Engine.RelatedLines(markerID, focus)
}

// SaveCustomGroup creates or replaces a custom group
func (s *mapServiceImpl) SaveCustomGroup(ctx context.Context, sessionID, group string, points []engine.Point, create bool) (*engine.MarkerGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	g, err := sess.Engine.SaveCustomGroup(group, points, create)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteCustomGroup removes a custom group. Callers confirm before invoking it.
func (s *mapServiceImpl) DeleteCustomGroup(ctx context.Context, sessionID, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	return sess.Engine.DeleteCustomGroup(group)
}

// GotoQuadrant resolves a quadrant navigation request
func (s *mapServiceImpl) GotoQuadrant(ctx context.Context, sessionID string, x, y float64) (engine.Viewport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return engine.Viewport{}, err
	}
	return sess.Engine.GotoQuadrant(x, y), nil
}

// GotoTile resolves a tile navigation request. reveal is the caller's answer to
// the reveal confirmation for a hidden tile.
func (s *mapServiceImpl) GotoTile(ctx context.Context, sessionID string, x, y float64, reveal bool) (engine.Viewport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return engine.Viewport{}, err
	}
	return sess.Engine.GotoTile(x, y, func(engine.TileIndex) bool { return reveal })
}

// ListNodes returns the node graph
func (s *mapServiceImpl) ListNodes(ctx context.Context, sessionID string) (*NodesView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return nodesView(sess.Engine), nil
}

// AddNode adds a node, optionally connected to and followed from the selection
func (s *mapServiceImpl) AddNode(ctx context.Context, sessionID string, p engine.Point, connect, follow bool) (*engine.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	rec, err := sess.Engine.AddNode(p, connect, follow)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SelectNode toggles the current selection
func (s *mapServiceImpl) SelectNode(ctx context.Context, sessionID string, nodeID int) (*NodesView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Engine.SelectNode(nodeID); err != nil {
		return nil, err
	}
	return nodesView(sess.Engine), nil
}

// ConnectNodes toggles an edge
func (s *mapServiceImpl) ConnectNodes(ctx context.Context, sessionID string, a, b int) (*ConnectResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	connected, err := sess.Engine.ConnectNodes(a, b)
	if err != nil {
		return nil, err
	}
	return &ConnectResult{A: a, B: b, Connected: connected}, nil
}

// DisconnectNodes removes an edge
func (s *mapServiceImpl) DisconnectNodes(ctx context.Context, sessionID string, a, b int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	return sess.Engine.DisconnectNodes(a, b)
}

// MoveNode moves a node
func (s *mapServiceImpl) MoveNode(ctx context.Context, sessionID string, nodeID int, p engine.Point) (*engine.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Engine.MoveNode(nodeID, p); err != nil {
		return nil, err
	}
	rec, err := sess.Engine.Graph().Node(nodeID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteNode removes a node and its edges
func (s *mapServiceImpl) DeleteNode(ctx context.Context, sessionID string, nodeID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	return sess.Engine.DeleteNode(nodeID)
}

// RenderNodes returns the drawable edges
func (s *mapServiceImpl) RenderNodes(ctx context.Context, sessionID string) ([]engine.EdgeSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Engine.RenderNodes(), nil
}

// ExportNodes returns the serializable node list
func (s *mapServiceImpl) ExportNodes(ctx context.Context, sessionID string) ([]engine.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Engine.ExportNodes(), nil
}

// PublishNodes queues the node list for the export sink and returns how many were queued
func (s *mapServiceImpl) PublishNodes(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return 0, err
	}
	count, _, err := sess.Engine.PublishNodes(ctx)
	return count, err
}

// ListCollections lists the marker definition files
func (s *mapServiceImpl) ListCollections(ctx context.Context) ([]*CollectionInfo, error) {
	return s.configs.ListCollections()
}

// ReloadDefinitions rebuilds every session against the current definitions.
// It holds the write lock so no engine is in use while sessions are rebuilt.
func (s *mapServiceImpl) ReloadDefinitions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Reload()
}

// Subscribe registers an observer for the events of every session
func (s *mapServiceImpl) Subscribe(fn engine.Observer) func() {
	return s.sessions.Subscribe(fn)
}
