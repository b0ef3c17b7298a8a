package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wricardo/wellmap/game/engine"
	"github.com/wricardo/wellmap/game/service"
	"github.com/wricardo/wellmap/game/session"
	"github.com/wricardo/wellmap/transport/websocket"
)

// MockMapService implements service.MapService for testing
type MockMapService struct {
	// Session Management
	CreateSessionFunc func(ctx context.Context, sessionID string, editor bool) (*service.SessionInfo, error)
	GetSessionFunc    func(ctx context.Context, sessionID string) (*service.SessionInfo, error)
	ListSessionsFunc  func(ctx context.Context) ([]*service.SessionInfo, error)
	DeleteSessionFunc func(ctx context.Context, sessionID string) error

	// Fog of war
	GetTilesFunc         func(ctx context.Context, sessionID string) (*service.TilesView, error)
	ToggleTileFunc       func(ctx context.Context, sessionID string, tile engine.TileIndex) (*service.TileResult, error)
	SetTileFunc          func(ctx context.Context, sessionID string, tile engine.TileIndex, revealed bool) (*service.TileResult, error)
	RevealAllFunc        func(ctx context.Context, sessionID string) (*service.TilesView, error)
	HideAllFunc          func(ctx context.Context, sessionID string) (*service.TilesView, error)
	LoadEncodedTilesFunc func(ctx context.Context, sessionID, encoded string) (*service.TilesView, error)

	// Markers
	ListGroupsFunc        func(ctx context.Context, sessionID string) ([]*service.GroupSummary, error)
	GetGroupFunc          func(ctx context.Context, sessionID, group string) (*engine.MarkerGroup, error)
	SetGroupVisibleFunc   func(ctx context.Context, sessionID, group string, visible bool) (*service.GroupSummary, error)
	SetGroupFoundFunc     func(ctx context.Context, sessionID, group string, found bool) (*service.GroupFoundResult, error)
	RevealedMarkersFunc   func(ctx context.Context, sessionID, group string) ([]engine.Marker, error)
	ToggleFoundFunc       func(ctx context.Context, sessionID, markerID string) (*service.MarkerResult, error)
	SetMarkerVisibleFunc  func(ctx context.Context, sessionID, markerID string, visible bool) (*service.MarkerVisibleResult, error)
	SetMarkersVisibleFunc func(ctx context.Context, sessionID, group string, visible bool) (*service.MarkersVisibleResult, error)
	ShowRevealedFunc      func(ctx context.Context, sessionID, group string) (*service.MarkersVisibleResult, error)
	RelatedLinesFunc      func(ctx context.Context, sessionID, markerID string, focus int) ([]engine.Segment, error)
	SaveCustomGroupFunc   func(ctx context.Context, sessionID, group string, points []engine.Point, create bool) (*engine.MarkerGroup, error)
	DeleteCustomGroupFunc func(ctx context.Context, sessionID, group string) error

	// Navigation
	GotoQuadrantFunc func(ctx context.Context, sessionID string, x, y float64) (engine.Viewport, error)
	GotoTileFunc     func(ctx context.Context, sessionID string, x, y float64, reveal bool) (engine.Viewport, error)

	// Node graph
	ListNodesFunc       func(ctx context.Context, sessionID string) (*service.NodesView, error)
	AddNodeFunc         func(ctx context.Context, sessionID string, p engine.Point, connect, follow bool) (*engine.NodeRecord, error)
	SelectNodeFunc      func(ctx context.Context, sessionID string, nodeID int) (*service.NodesView, error)
	ConnectNodesFunc    func(ctx context.Context, sessionID string, a, b int) (*service.ConnectResult, error)
	DisconnectNodesFunc func(ctx context.Context, sessionID string, a, b int) error
	MoveNodeFunc        func(ctx context.Context, sessionID string, nodeID int, p engine.Point) (*engine.NodeRecord, error)
	DeleteNodeFunc      func(ctx context.Context, sessionID string, nodeID int) error
	RenderNodesFunc     func(ctx context.Context, sessionID string) ([]engine.EdgeSegment, error)
	ExportNodesFunc     func(ctx context.Context, sessionID string) ([]engine.NodeRecord, error)
	PublishNodesFunc    func(ctx context.Context, sessionID string) (int, error)

	// Definitions
	ListCollectionsFunc   func(ctx context.Context) ([]*service.CollectionInfo, error)
	ReloadDefinitionsFunc func(ctx context.Context) error
}

func (m *MockMapService) CreateSession(ctx context.Context, sessionID string, editor bool) (*service.SessionInfo, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, sessionID, editor)
	}
	return &service.SessionInfo{ID: "test-session", Editor: editor, CreatedAt: time.Now()}, nil
}

func (m *MockMapService) GetSession(ctx context.Context, sessionID string) (*service.SessionInfo, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, sessionID)
	}
	return &service.SessionInfo{ID: sessionID, CreatedAt: time.Now()}, nil
}

func (m *MockMapService) ListSessions(ctx context.Context) ([]*service.SessionInfo, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx)
	}
	return []*service.SessionInfo{}, nil
}

func (m *MockMapService) DeleteSession(ctx context.Context, sessionID string) error {
	if m.DeleteSessionFunc != nil {
		return m.DeleteSessionFunc(ctx, sessionID)
	}
	return nil
}

func (m *MockMapService) GetTiles(ctx context.Context, sessionID string) (*service.TilesView, error) {
	if m.GetTilesFunc != nil {
		return m.GetTilesFunc(ctx, sessionID)
	}
	return &service.TilesView{World: engine.DefaultWorld(), Count: 1, Encoded: "abc"}, nil
}

func (m *MockMapService) ToggleTile(ctx context.Context, sessionID string, tile engine.TileIndex) (*service.TileResult, error) {
	if m.ToggleTileFunc != nil {
		return m.ToggleTileFunc(ctx, sessionID, tile)
	}
	return &service.TileResult{Tile: engine.Tile{X: tile.X, Y: tile.Y, Revealed: true}, Count: 2}, nil
}

func (m *MockMapService) SetTile(ctx context.Context, sessionID string, tile engine.TileIndex, revealed bool) (*service.TileResult, error) {
	if m.SetTileFunc != nil {
		return m.SetTileFunc(ctx, sessionID, tile, revealed)
	}
	return &service.TileResult{Tile: engine.Tile{X: tile.X, Y: tile.Y, Revealed: revealed}}, nil
}

func (m *MockMapService) RevealAll(ctx context.Context, sessionID string) (*service.TilesView, error) {
	if m.RevealAllFunc != nil {
		return m.RevealAllFunc(ctx, sessionID)
	}
	return &service.TilesView{Count: 256}, nil
}

func (m *MockMapService) HideAll(ctx context.Context, sessionID string) (*service.TilesView, error) {
	if m.HideAllFunc != nil {
		return m.HideAllFunc(ctx, sessionID)
	}
	return &service.TilesView{Count: 1}, nil
}

func (m *MockMapService) LoadEncodedTiles(ctx context.Context, sessionID, encoded string) (*service.TilesView, error) {
	if m.LoadEncodedTilesFunc != nil {
		return m.LoadEncodedTilesFunc(ctx, sessionID, encoded)
	}
	return &service.TilesView{Encoded: encoded}, nil
}

func (m *MockMapService) ListGroups(ctx context.Context, sessionID string) ([]*service.GroupSummary, error) {
	if m.ListGroupsFunc != nil {
		return m.ListGroupsFunc(ctx, sessionID)
	}
	return []*service.GroupSummary{}, nil
}

func (m *MockMapService) GetGroup(ctx context.Context, sessionID, group string) (*engine.MarkerGroup, error) {
	if m.GetGroupFunc != nil {
		return m.GetGroupFunc(ctx, sessionID, group)
	}
	return &engine.MarkerGroup{Name: group, Visible: true}, nil
}

func (m *MockMapService) SetGroupVisible(ctx context.Context, sessionID, group string, visible bool) (*service.GroupSummary, error) {
	if m.SetGroupVisibleFunc != nil {
		return m.SetGroupVisibleFunc(ctx, sessionID, group, visible)
	}
	return &service.GroupSummary{Name: group, Visible: visible}, nil
}

func (m *MockMapService) SetGroupFound(ctx context.Context, sessionID, group string, found bool) (*service.GroupFoundResult, error) {
	if m.SetGroupFoundFunc != nil {
		return m.SetGroupFoundFunc(ctx, sessionID, group, found)
	}
	return &service.GroupFoundResult{Group: group, Found: found}, nil
}

func (m *MockMapService) RevealedMarkers(ctx context.Context, sessionID, group string) ([]engine.Marker, error) {
	if m.RevealedMarkersFunc != nil {
		return m.RevealedMarkersFunc(ctx, sessionID, group)
	}
	return []engine.Marker{}, nil
}

func (m *MockMapService) ToggleFound(ctx context.Context, sessionID, markerID string) (*service.MarkerResult, error) {
	if m.ToggleFoundFunc != nil {
		return m.ToggleFoundFunc(ctx, sessionID, markerID)
	}
	return &service.MarkerResult{MarkerID: markerID, Found: true, FoundCount: 1}, nil
}

func (m *MockMapService) SetMarkerVisible(ctx context.Context, sessionID, markerID string, visible bool) (*service.MarkerVisibleResult, error) {
	if m.SetMarkerVisibleFunc != nil {
		return m.SetMarkerVisibleFunc(ctx, sessionID, markerID, visible)
	}
	return &service.MarkerVisibleResult{MarkerID: markerID, Visible: visible}, nil
}

func (m *MockMapService) SetMarkersVisible(ctx context.Context, sessionID, group string, visible bool) (*service.MarkersVisibleResult, error) {
	if m.SetMarkersVisibleFunc != nil {
		return m.SetMarkersVisibleFunc(ctx, sessionID, group, visible)
	}
	return &service.MarkersVisibleResult{Group: group, Visible: visible}, nil
}

func (m *MockMapService) ShowRevealedMarkers(ctx context.Context, sessionID, group string) (*service.MarkersVisibleResult, error) {
	if m.ShowRevealedFunc != nil {
		return m.ShowRevealedFunc(ctx, sessionID, group)
	}
	return &service.MarkersVisibleResult{Group: group, Visible: true}, nil
}

func (m *MockMapService) RelatedLines(ctx context.Context, sessionID, markerID string, focus int) ([]engine.Segment, error) {
	if m.RelatedLinesFunc != nil {
		return m.RelatedLinesFunc(ctx, sessionID, markerID, focus)
	}
	return []engine.Segment{}, nil
}

func (m *MockMapService) SaveCustomGroup(ctx context.Context, sessionID, group string, points []engine.Point, create bool) (*engine.MarkerGroup, error) {
	if m.SaveCustomGroupFunc != nil {
		return m.SaveCustomGroupFunc(ctx, sessionID, group, points, create)
	}
	return &engine.MarkerGroup{Name: group, Custom: true, Visible: true}, nil
}

func (m *MockMapService) DeleteCustomGroup(ctx context.Context, sessionID, group string) error {
	if m.DeleteCustomGroupFunc != nil {
		return m.DeleteCustomGroupFunc(ctx, sessionID, group)
	}
	return nil
}

func (m *MockMapService) GotoQuadrant(ctx context.Context, sessionID string, x, y float64) (engine.Viewport, error) {
	if m.GotoQuadrantFunc != nil {
		return m.GotoQuadrantFunc(ctx, sessionID, x, y)
	}
	return engine.Viewport{Zoom: engine.QuadrantZoom}, nil
}

func (m *MockMapService) GotoTile(ctx context.Context, sessionID string, x, y float64, reveal bool) (engine.Viewport, error) {
	if m.GotoTileFunc != nil {
		return m.GotoTileFunc(ctx, sessionID, x, y, reveal)
	}
	return engine.Viewport{Center: engine.Point{X: x, Y: y}, Zoom: engine.TileZoom}, nil
}

func (m *MockMapService) ListNodes(ctx context.Context, sessionID string) (*service.NodesView, error) {
	if m.ListNodesFunc != nil {
		return m.ListNodesFunc(ctx, sessionID)
	}
	return &service.NodesView{Mode: engine.ModeViewing, Nodes: []engine.NodeRecord{}}, nil
}

func (m *MockMapService) AddNode(ctx context.Context, sessionID string, p engine.Point, connect, follow bool) (*engine.NodeRecord, error) {
	if m.AddNodeFunc != nil {
		return m.AddNodeFunc(ctx, sessionID, p, connect, follow)
	}
	return &engine.NodeRecord{ID: 1, Coords: p, Connected: []int{}}, nil
}

func (m *MockMapService) SelectNode(ctx context.Context, sessionID string, nodeID int) (*service.NodesView, error) {
	if m.SelectNodeFunc != nil {
		return m.SelectNodeFunc(ctx, sessionID, nodeID)
	}
	return &service.NodesView{Mode: engine.ModeEditing, Current: nodeID}, nil
}

func (m *MockMapService) ConnectNodes(ctx context.Context, sessionID string, a, b int) (*service.ConnectResult, error) {
	if m.ConnectNodesFunc != nil {
		return m.ConnectNodesFunc(ctx, sessionID, a, b)
	}
	return &service.ConnectResult{A: a, B: b, Connected: true}, nil
}

func (m *MockMapService) DisconnectNodes(ctx context.Context, sessionID string, a, b int) error {
	if m.DisconnectNodesFunc != nil {
		return m.DisconnectNodesFunc(ctx, sessionID, a, b)
	}
	return nil
}

func (m *MockMapService) MoveNode(ctx context.Context, sessionID string, nodeID int, p engine.Point) (*engine.NodeRecord, error) {
	if m.MoveNodeFunc != nil {
		return m.MoveNodeFunc(ctx, sessionID, nodeID, p)
	}
	return &engine.NodeRecord{ID: nodeID, Coords: p}, nil
}

func (m *MockMapService) DeleteNode(ctx context.Context, sessionID string, nodeID int) error {
	if m.DeleteNodeFunc != nil {
		return m.DeleteNodeFunc(ctx, sessionID, nodeID)
	}
	return nil
}

func (m *MockMapService) RenderNodes(ctx context.Context, sessionID string) ([]engine.EdgeSegment, error) {
	if m.RenderNodesFunc != nil {
		return m.RenderNodesFunc(ctx, sessionID)
	}
	return []engine.EdgeSegment{}, nil
}

func (m *MockMapService) ExportNodes(ctx context.Context, sessionID string) ([]engine.NodeRecord, error) {
	if m.ExportNodesFunc != nil {
		return m.ExportNodesFunc(ctx, sessionID)
	}
	return []engine.NodeRecord{}, nil
}

func (m *MockMapService) PublishNodes(ctx context.Context, sessionID string) (int, error) {
	if m.PublishNodesFunc != nil {
		return m.PublishNodesFunc(ctx, sessionID)
	}
	return 0, nil
}

func (m *MockMapService) ListCollections(ctx context.Context) ([]*service.CollectionInfo, error) {
	if m.ListCollectionsFunc != nil {
		return m.ListCollectionsFunc(ctx)
	}
	return []*service.CollectionInfo{}, nil
}

func (m *MockMapService) ReloadDefinitions(ctx context.Context) error {
	if m.ReloadDefinitionsFunc != nil {
		return m.ReloadDefinitionsFunc(ctx)
	}
	return nil
}

func (m *MockMapService) Subscribe(fn engine.Observer) func() {
	return func() {}
}

// Test helpers
func setupTestServer(t *testing.T, mockService *MockMapService) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)
	return NewServer(mockService, hub, nil)
}

func makeRequest(method, path string, body any) *http.Request {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
}

func serve(t *testing.T, mock *MockMapService, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	server := setupTestServer(t, mock)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, makeRequest(method, path, body))
	return w
}

// Session Management Tests

func TestCreateSession(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    map[string]any
		setupMock      func(*MockMapService)
		expectedStatus int
		validateResp   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:        "Create session with generated ID",
			requestBody: nil,
			setupMock: func(m *MockMapService) {
				m.CreateSessionFunc = func(ctx context.Context, sessionID string, editor bool) (*service.SessionInfo, error) {
					if sessionID != "" || editor {
						t.Errorf("Unexpected arguments %q, %v", sessionID, editor)
					}
					return &service.SessionInfo{ID: "ab12", CreatedAt: time.Now()}, nil
				}
			},
			expectedStatus: http.StatusCreated,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp service.SessionInfo
				parseResponse(t, w, &resp)
				if resp.ID != "ab12" {
					t.Errorf("Expected session ID ab12, got %s", resp.ID)
				}
			},
		},
		{
			name:        "Create editor session",
			requestBody: map[string]any{"id": "mine", "editor": true},
			setupMock: func(m *MockMapService) {
				m.CreateSessionFunc = func(ctx context.Context, sessionID string, editor bool) (*service.SessionInfo, error) {
					return &service.SessionInfo{ID: sessionID, Editor: editor}, nil
				}
			},
			expectedStatus: http.StatusCreated,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp service.SessionInfo
				parseResponse(t, w, &resp)
				if resp.ID != "mine" || !resp.Editor {
					t.Errorf("Unexpected session: %+v", resp)
				}
			},
		},
		{
			name: "Editor disabled",
			setupMock: func(m *MockMapService) {
				m.CreateSessionFunc = func(ctx context.Context, sessionID string, editor bool) (*service.SessionInfo, error) {
					return nil, service.ErrEditorDisabled
				}
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "Duplicate session",
			setupMock: func(m *MockMapService) {
				m.CreateSessionFunc = func(ctx context.Context, sessionID string, editor bool) (*service.SessionInfo, error) {
					return nil, fmt.Errorf("failed to create session: %w", session.ErrSessionAlreadyExists)
				}
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "Handle service error",
			setupMock: func(m *MockMapService) {
				m.CreateSessionFunc = func(ctx context.Context, sessionID string, editor bool) (*service.SessionInfo, error) {
					return nil, fmt.Errorf("service error")
				}
			},
			expectedStatus: http.StatusInternalServerError,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp map[string]any
				parseResponse(t, w, &resp)
				if resp["error"] != "service error" {
					t.Errorf("Expected error message 'service error', got %v", resp["error"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockMapService{}
			if tt.setupMock != nil {
				tt.setupMock(mockService)
			}

			w := serve(t, mockService, "POST", "/api/sessions", tt.requestBody)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.validateResp != nil {
				tt.validateResp(t, w)
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	now := time.Now()
	mock := &MockMapService{
		ListSessionsFunc: func(ctx context.Context) ([]*service.SessionInfo, error) {
			return []*service.SessionInfo{
				{ID: "old", CreatedAt: now.Add(-2 * time.Hour), LastAccessedAt: now},
				{ID: "new", CreatedAt: now.Add(-time.Hour), LastAccessedAt: now.Add(-time.Hour)},
				{ID: "mid", CreatedAt: now.Add(-90 * time.Minute), LastAccessedAt: now.Add(-30 * time.Minute)},
			}, nil
		},
	}

	tests := []struct {
		name    string
		query   string
		wantIDs []string
		total   int
	}{
		{"default sorts by access desc", "", []string{"old", "mid", "new"}, 3},
		{"created ascending", "?sort=created&order=asc", []string{"old", "mid", "new"}, 3},
		{"created descending with limit", "?sort=created&limit=2", []string{"new", "mid"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, mock, "GET", "/api/sessions"+tt.query, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}

			var resp struct {
				Count    int                    `json:"count"`
				Total    int                    `json:"total"`
				Sessions []*service.SessionInfo `json:"sessions"`
			}
			parseResponse(t, w, &resp)
			if resp.Total != tt.total || resp.Count != len(tt.wantIDs) {
				t.Errorf("Unexpected counts: %d/%d", resp.Count, resp.Total)
			}
			for i, id := range tt.wantIDs {
				if resp.Sessions[i].ID != id {
					t.Errorf("Position %d: expected %s, got %s", i, id, resp.Sessions[i].ID)
				}
			}
		})
	}
}

func TestGetAndDeleteSession(t *testing.T) {
	notFound := &MockMapService{
		GetSessionFunc: func(ctx context.Context, sessionID string) (*service.SessionInfo, error) {
			return nil, fmt.Errorf("%w: %s", service.ErrSessionNotFound, sessionID)
		},
		DeleteSessionFunc: func(ctx context.Context, sessionID string) error {
			return service.ErrSessionNotFound
		},
	}

	if w := serve(t, &MockMapService{}, "GET", "/api/sessions/ab12", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if w := serve(t, notFound, "GET", "/api/sessions/none", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := serve(t, &MockMapService{}, "DELETE", "/api/sessions/ab12", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if w := serve(t, notFound, "DELETE", "/api/sessions/none", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// Tile Tests

func TestTiles(t *testing.T) {
	t.Run("toggle passes tile coordinates", func(t *testing.T) {
		var got engine.TileIndex
		mock := &MockMapService{
			ToggleTileFunc: func(ctx context.Context, sessionID string, tile engine.TileIndex) (*service.TileResult, error) {
				got = tile
				return &service.TileResult{Tile: engine.Tile{X: tile.X, Y: tile.Y, Revealed: true}, Count: 2}, nil
			},
		}
		w := serve(t, mock, "POST", "/api/sessions/ab12/tiles/3/7", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if got != (engine.TileIndex{X: 3, Y: 7}) {
			t.Errorf("Expected tile (3,7), got %+v", got)
		}
	})

	t.Run("out of range tile", func(t *testing.T) {
		mock := &MockMapService{
			ToggleTileFunc: func(ctx context.Context, sessionID string, tile engine.TileIndex) (*service.TileResult, error) {
				return nil, fmt.Errorf("%w: (%d,%d)", engine.ErrTileOutOfRange, tile.X, tile.Y)
			},
		}
		if w := serve(t, mock, "POST", "/api/sessions/ab12/tiles/99/0", nil); w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("set tile", func(t *testing.T) {
		var revealed bool
		mock := &MockMapService{
			SetTileFunc: func(ctx context.Context, sessionID string, tile engine.TileIndex, r bool) (*service.TileResult, error) {
				revealed = r
				return &service.TileResult{}, nil
			},
		}
		w := serve(t, mock, "PUT", "/api/sessions/ab12/tiles/1/1", map[string]bool{"revealed": true})
		if w.Code != http.StatusOK || !revealed {
			t.Errorf("Expected revealed set, got status %d", w.Code)
		}
	})

	t.Run("encoded round trip", func(t *testing.T) {
		w := serve(t, &MockMapService{}, "GET", "/api/sessions/ab12/tiles/encoded", nil)
		var resp map[string]string
		parseResponse(t, w, &resp)
		if resp["encoded"] != "abc" {
			t.Errorf("Expected encoded tiles, got %v", resp)
		}

		mock := &MockMapService{
			LoadEncodedTilesFunc: func(ctx context.Context, sessionID, encoded string) (*service.TilesView, error) {
				return nil, fmt.Errorf("%w: %q", engine.ErrInvalidEncoding, encoded)
			},
		}
		w = serve(t, mock, "PUT", "/api/sessions/ab12/tiles/encoded", map[string]string{"encoded": "!!"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for bad encoding, got %d", w.Code)
		}
	})
}

func TestConfirmationGates(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		setup  func(m *MockMapService, called *bool)
	}{
		{
			name:   "reveal all",
			method: "POST",
			path:   "/api/sessions/ab12/tiles/reveal-all",
			setup: func(m *MockMapService, called *bool) {
				m.RevealAllFunc = func(ctx context.Context, sessionID string) (*service.TilesView, error) {
					*called = true
					return &service.TilesView{}, nil
				}
			},
		},
		{
			name:   "hide all",
			method: "POST",
			path:   "/api/sessions/ab12/tiles/hide-all",
			setup: func(m *MockMapService, called *bool) {
				m.HideAllFunc = func(ctx context.Context, sessionID string) (*service.TilesView, error) {
					*called = true
					return &service.TilesView{}, nil
				}
			},
		},
		{
			name:   "group found",
			method: "PUT",
			path:   "/api/sessions/ab12/groups/egg/found",
			body:   map[string]bool{"found": true},
			setup: func(m *MockMapService, called *bool) {
				m.SetGroupFoundFunc = func(ctx context.Context, sessionID, group string, found bool) (*service.GroupFoundResult, error) {
					*called = true
					return &service.GroupFoundResult{Group: group, Found: found}, nil
				}
			},
		},
		{
			name:   "hide all markers",
			method: "PUT",
			path:   "/api/sessions/ab12/markers/visible",
			body:   map[string]any{"visible": false},
			setup: func(m *MockMapService, called *bool) {
				m.SetMarkersVisibleFunc = func(ctx context.Context, sessionID, group string, visible bool) (*service.MarkersVisibleResult, error) {
					*called = true
					return &service.MarkersVisibleResult{Group: group, Visible: visible}, nil
				}
			},
		},
		{
			name:   "show revealed markers",
			method: "POST",
			path:   "/api/sessions/ab12/markers/show-revealed",
			setup: func(m *MockMapService, called *bool) {
				m.ShowRevealedFunc = func(ctx context.Context, sessionID, group string) (*service.MarkersVisibleResult, error) {
					*called = true
					return &service.MarkersVisibleResult{Group: group, Visible: true}, nil
				}
			},
		},
		{
			name:   "delete custom group",
			method: "DELETE",
			path:   "/api/sessions/ab12/custom-groups/mine",
			setup: func(m *MockMapService, called *bool) {
				m.DeleteCustomGroupFunc = func(ctx context.Context, sessionID, group string) error {
					*called = true
					return nil
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+" without confirm", func(t *testing.T) {
			called := false
			mock := &MockMapService{}
			tt.setup(mock, &called)

			w := serve(t, mock, tt.method, tt.path, tt.body)
			if w.Code != http.StatusPreconditionFailed {
				t.Errorf("Expected 412, got %d", w.Code)
			}
			if called {
				t.Error("Service must not be called without confirmation")
			}
		})

		t.Run(tt.name+" with confirm", func(t *testing.T) {
			called := false
			mock := &MockMapService{}
			tt.setup(mock, &called)

			w := serve(t, mock, tt.method, tt.path+"?confirm=true", tt.body)
			if w.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", w.Code)
			}
			if !called {
				t.Error("Expected service call after confirmation")
			}
		})
	}
}

// Group and Marker Tests

func TestGroups(t *testing.T) {
	t.Run("copy uses definition tuples", func(t *testing.T) {
		mock := &MockMapService{
			GetGroupFunc: func(ctx context.Context, sessionID, group string) (*engine.MarkerGroup, error) {
				return &engine.MarkerGroup{
					Name: group,
					Markers: []*engine.Marker{
						{ID: "e1", Coords: []engine.Point{{X: 20, Y: 10}}},
					},
				}, nil
			},
		}
		w := serve(t, mock, "GET", "/api/sessions/ab12/groups/egg/copy", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		var resp struct {
			Name    string            `json:"name"`
			Markers []json.RawMessage `json:"markers"`
		}
		parseResponse(t, w, &resp)
		if len(resp.Markers) != 1 || string(resp.Markers[0]) != `["e1",[[10,20]]]` {
			t.Errorf("Unexpected copy payload: %s", w.Body.String())
		}

		var def engine.MarkerDefinition
		if err := json.Unmarshal(resp.Markers[0], &def); err != nil || def.ID != "e1" {
			t.Errorf("Copied marker should parse as a definition: %v", err)
		}
	})

	t.Run("unknown group", func(t *testing.T) {
		mock := &MockMapService{
			SetGroupVisibleFunc: func(ctx context.Context, sessionID, group string, visible bool) (*service.GroupSummary, error) {
				return nil, fmt.Errorf("%w: %s", engine.ErrGroupNotFound, group)
			},
		}
		w := serve(t, mock, "PUT", "/api/sessions/ab12/groups/nope/visible", map[string]bool{"visible": false})
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("revealed markers", func(t *testing.T) {
		mock := &MockMapService{
			RevealedMarkersFunc: func(ctx context.Context, sessionID, group string) ([]engine.Marker, error) {
				return []engine.Marker{{ID: "e2"}}, nil
			},
		}
		w := serve(t, mock, "GET", "/api/sessions/ab12/groups/egg/revealed", nil)
		var resp map[string]any
		parseResponse(t, w, &resp)
		if resp["count"] != float64(1) {
			t.Errorf("Expected one revealed marker, got %v", resp["count"])
		}
	})

	t.Run("list custom groups only", func(t *testing.T) {
		mock := &MockMapService{
			ListGroupsFunc: func(ctx context.Context, sessionID string) ([]*service.GroupSummary, error) {
				return []*service.GroupSummary{{Name: "egg"}, {Name: "mine", Custom: true}}, nil
			},
		}
		w := serve(t, mock, "GET", "/api/sessions/ab12/custom-groups", nil)
		var resp []service.GroupSummary
		parseResponse(t, w, &resp)
		if len(resp) != 1 || resp[0].Name != "mine" {
			t.Errorf("Expected only the custom group, got %+v", resp)
		}
	})
}

func TestCustomGroups(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		var gotPoints []engine.Point
		var gotCreate bool
		mock := &MockMapService{
			SaveCustomGroupFunc: func(ctx context.Context, sessionID, group string, points []engine.Point, create bool) (*engine.MarkerGroup, error) {
				gotPoints, gotCreate = points, create
				return &engine.MarkerGroup{Name: group, Custom: true}, nil
			},
		}
		body := map[string]any{"name": "mine", "points": [][2]float64{{10, 20}}}
		w := serve(t, mock, "POST", "/api/sessions/ab12/custom-groups", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d", w.Code)
		}
		if !gotCreate || len(gotPoints) != 1 || gotPoints[0] != (engine.Point{X: 20, Y: 10}) {
			t.Errorf("Unexpected save arguments: %v %+v", gotCreate, gotPoints)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		w := serve(t, &MockMapService{}, "POST", "/api/sessions/ab12/custom-groups", map[string]any{"points": []any{}})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		mock := &MockMapService{
			SaveCustomGroupFunc: func(ctx context.Context, sessionID, group string, points []engine.Point, create bool) (*engine.MarkerGroup, error) {
				return nil, fmt.Errorf("%w: %s", engine.ErrGroupExists, group)
			},
		}
		w := serve(t, mock, "POST", "/api/sessions/ab12/custom-groups", map[string]any{"name": "mine"})
		if w.Code != http.StatusConflict {
			t.Errorf("Expected 409, got %d", w.Code)
		}
	})

	t.Run("generated id taken", func(t *testing.T) {
		mock := &MockMapService{
			SaveCustomGroupFunc: func(ctx context.Context, sessionID, group string, points []engine.Point, create bool) (*engine.MarkerGroup, error) {
				return nil, fmt.Errorf("%w: custom:mine:1", engine.ErrDuplicateID)
			},
		}
		body := map[string]any{"name": "mine", "points": [][2]float64{{10, 20}}}
		w := serve(t, mock, "POST", "/api/sessions/ab12/custom-groups", body)
		if w.Code != http.StatusConflict {
			t.Errorf("Expected 409, got %d", w.Code)
		}
	})

	t.Run("update static group", func(t *testing.T) {
		mock := &MockMapService{
			SaveCustomGroupFunc: func(ctx context.Context, sessionID, group string, points []engine.Point, create bool) (*engine.MarkerGroup, error) {
				if create {
					t.Error("PUT must replace, not create")
				}
				return nil, engine.ErrStaticGroup
			},
		}
		w := serve(t, mock, "PUT", "/api/sessions/ab12/custom-groups/egg", map[string]any{"points": []any{}})
		if w.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", w.Code)
		}
	})
}

func TestMarkers(t *testing.T) {
	var focus int
	mock := &MockMapService{
		RelatedLinesFunc: func(ctx context.Context, sessionID, markerID string, f int) ([]engine.Segment, error) {
			focus = f
			return []engine.Segment{{From: engine.Point{}, To: engine.Point{X: 1, Y: 1}}}, nil
		},
		ToggleFoundFunc: func(ctx context.Context, sessionID, markerID string) (*service.MarkerResult, error) {
			return nil, fmt.Errorf("%w: %s", engine.ErrMarkerNotFound, markerID)
		},
	}

	w := serve(t, mock, "GET", "/api/sessions/ab12/markers/e1/lines?focus=2", nil)
	if w.Code != http.StatusOK || focus != 2 {
		t.Errorf("Expected lines with focus 2, got status %d focus %d", w.Code, focus)
	}
	if w := serve(t, mock, "GET", "/api/sessions/ab12/markers/e1/lines?focus=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad focus, got %d", w.Code)
	}
	if w := serve(t, mock, "POST", "/api/sessions/ab12/markers/zz/found", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown marker, got %d", w.Code)
	}
}

func TestMarkerVisibility(t *testing.T) {
	t.Run("single marker", func(t *testing.T) {
		var gotID string
		var gotVisible bool
		mock := &MockMapService{
			SetMarkerVisibleFunc: func(ctx context.Context, sessionID, markerID string, visible bool) (*service.MarkerVisibleResult, error) {
				gotID, gotVisible = markerID, visible
				return &service.MarkerVisibleResult{MarkerID: markerID, Visible: visible}, nil
			},
		}
		w := serve(t, mock, "PUT", "/api/sessions/ab12/markers/e1/visible", map[string]bool{"visible": true})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if gotID != "e1" || !gotVisible {
			t.Errorf("Unexpected arguments: %q %v", gotID, gotVisible)
		}
	})

	t.Run("unknown marker", func(t *testing.T) {
		mock := &MockMapService{
			SetMarkerVisibleFunc: func(ctx context.Context, sessionID, markerID string, visible bool) (*service.MarkerVisibleResult, error) {
				return nil, fmt.Errorf("%w: %s", engine.ErrMarkerNotFound, markerID)
			},
		}
		w := serve(t, mock, "PUT", "/api/sessions/ab12/markers/zz/visible", map[string]bool{"visible": true})
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("bulk passes group", func(t *testing.T) {
		var gotGroup string
		mock := &MockMapService{
			SetMarkersVisibleFunc: func(ctx context.Context, sessionID, group string, visible bool) (*service.MarkersVisibleResult, error) {
				gotGroup = group
				return &service.MarkersVisibleResult{Group: group, Visible: visible, Changed: 4}, nil
			},
		}
		body := map[string]any{"group": "egg", "visible": true}
		w := serve(t, mock, "PUT", "/api/sessions/ab12/markers/visible?confirm=true", body)
		var resp service.MarkersVisibleResult
		parseResponse(t, w, &resp)
		if gotGroup != "egg" || resp.Changed != 4 {
			t.Errorf("Unexpected bulk result: group=%q %+v", gotGroup, resp)
		}
	})

	t.Run("show revealed passes group", func(t *testing.T) {
		var gotGroup string
		mock := &MockMapService{
			ShowRevealedFunc: func(ctx context.Context, sessionID, group string) (*service.MarkersVisibleResult, error) {
				gotGroup = group
				return &service.MarkersVisibleResult{Group: group, Visible: true, Changed: 1}, nil
			},
		}
		w := serve(t, mock, "POST", "/api/sessions/ab12/markers/show-revealed?confirm=true&group=egg", nil)
		if w.Code != http.StatusOK || gotGroup != "egg" {
			t.Errorf("Expected 200 for group egg, got %d for %q", w.Code, gotGroup)
		}
	})
}

// Navigation Tests

func TestNavigation(t *testing.T) {
	mock := &MockMapService{
		GotoTileFunc: func(ctx context.Context, sessionID string, x, y float64, reveal bool) (engine.Viewport, error) {
			if !reveal {
				return engine.Viewport{}, engine.ErrRevealDeclined
			}
			return engine.Viewport{Center: engine.Point{X: x, Y: y}, Zoom: engine.TileZoom}, nil
		},
	}

	w := serve(t, mock, "POST", "/api/sessions/ab12/goto/tile", map[string]any{"x": 10, "y": 10})
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("Expected 412 without reveal, got %d", w.Code)
	}

	w = serve(t, mock, "POST", "/api/sessions/ab12/goto/tile", map[string]any{"x": 10, "y": 10, "reveal": true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 with reveal, got %d", w.Code)
	}
	var vp engine.Viewport
	parseResponse(t, w, &vp)
	if vp.Zoom != engine.TileZoom || vp.Center != (engine.Point{X: 10, Y: 10}) {
		t.Errorf("Unexpected viewport: %+v", vp)
	}

	w = serve(t, mock, "POST", "/api/sessions/ab12/goto/quadrant", map[string]any{"x": 1, "y": 1})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for quadrant, got %d", w.Code)
	}
}

// Node Tests

func TestNodes(t *testing.T) {
	t.Run("read-only session", func(t *testing.T) {
		mock := &MockMapService{
			AddNodeFunc: func(ctx context.Context, sessionID string, p engine.Point, connect, follow bool) (*engine.NodeRecord, error) {
				return nil, engine.ErrReadOnly
			},
		}
		w := serve(t, mock, "POST", "/api/sessions/ab12/nodes", map[string]any{"coords": []float64{1, 2}})
		if w.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", w.Code)
		}
	})

	t.Run("add with connect and follow", func(t *testing.T) {
		var gotConnect, gotFollow bool
		mock := &MockMapService{
			AddNodeFunc: func(ctx context.Context, sessionID string, p engine.Point, connect, follow bool) (*engine.NodeRecord, error) {
				gotConnect, gotFollow = connect, follow
				return &engine.NodeRecord{ID: 3, Coords: p}, nil
			},
		}
		body := map[string]any{"coords": []float64{1, 2}, "connect": true, "follow": true}
		w := serve(t, mock, "POST", "/api/sessions/ab12/nodes", body)
		if w.Code != http.StatusCreated || !gotConnect || !gotFollow {
			t.Errorf("Unexpected add: status %d connect %v follow %v", w.Code, gotConnect, gotFollow)
		}
		var rec engine.NodeRecord
		parseResponse(t, w, &rec)
		if rec.Coords != (engine.Point{X: 2, Y: 1}) {
			t.Errorf("Expected [lat,lng] decoding, got %+v", rec.Coords)
		}
	})

	t.Run("edges", func(t *testing.T) {
		mock := &MockMapService{
			ConnectNodesFunc: func(ctx context.Context, sessionID string, a, b int) (*service.ConnectResult, error) {
				if a == b {
					return nil, engine.ErrSelfEdge
				}
				return &service.ConnectResult{A: a, B: b, Connected: true}, nil
			},
		}
		if w := serve(t, mock, "POST", "/api/sessions/ab12/edges", map[string]int{"a": 1, "b": 1}); w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for self edge, got %d", w.Code)
		}
		if w := serve(t, mock, "POST", "/api/sessions/ab12/edges", map[string]int{"a": 1, "b": 2}); w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
		if w := serve(t, mock, "DELETE", "/api/sessions/ab12/edges/1/2", nil); w.Code != http.StatusOK {
			t.Errorf("Expected 200 on disconnect, got %d", w.Code)
		}
	})

	t.Run("node routes", func(t *testing.T) {
		mock := &MockMapService{
			DeleteNodeFunc: func(ctx context.Context, sessionID string, nodeID int) error {
				return fmt.Errorf("%w: %d", engine.ErrNodeNotFound, nodeID)
			},
		}
		if w := serve(t, mock, "POST", "/api/sessions/ab12/nodes/4/select", nil); w.Code != http.StatusOK {
			t.Errorf("Expected 200 on select, got %d", w.Code)
		}
		if w := serve(t, mock, "PUT", "/api/sessions/ab12/nodes/4", map[string]any{"coords": []float64{5, 5}}); w.Code != http.StatusOK {
			t.Errorf("Expected 200 on move, got %d", w.Code)
		}
		if w := serve(t, mock, "DELETE", "/api/sessions/ab12/nodes/9", nil); w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 on delete, got %d", w.Code)
		}
		if w := serve(t, mock, "GET", "/api/sessions/ab12/nodes/render", nil); w.Code != http.StatusOK {
			t.Errorf("Expected 200 on render, got %d", w.Code)
		}
	})

	t.Run("export and publish", func(t *testing.T) {
		mock := &MockMapService{
			ExportNodesFunc: func(ctx context.Context, sessionID string) ([]engine.NodeRecord, error) {
				return []engine.NodeRecord{{ID: 1, Connected: []int{}}}, nil
			},
			PublishNodesFunc: func(ctx context.Context, sessionID string) (int, error) {
				return 1, nil
			},
		}
		w := serve(t, mock, "GET", "/api/sessions/ab12/nodes/export", nil)
		var payload struct {
			Items []engine.NodeRecord `json:"items"`
		}
		parseResponse(t, w, &payload)
		if len(payload.Items) != 1 {
			t.Errorf("Expected items wrapper, got %s", w.Body.String())
		}

		w = serve(t, mock, "POST", "/api/sessions/ab12/nodes/publish", nil)
		var resp map[string]int
		parseResponse(t, w, &resp)
		if resp["published"] != 1 {
			t.Errorf("Expected published count, got %v", resp)
		}
	})
}

func TestListCollections(t *testing.T) {
	mock := &MockMapService{
		ListCollectionsFunc: func(ctx context.Context) ([]*service.CollectionInfo, error) {
			return []*service.CollectionInfo{{Name: "eggs", Groups: 1, Markers: 12}}, nil
		},
	}
	w := serve(t, mock, "GET", "/api/collections", nil)
	var resp []service.CollectionInfo
	parseResponse(t, w, &resp)
	if len(resp) != 1 || resp[0].Markers != 12 {
		t.Errorf("Unexpected collections: %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	w := serve(t, &MockMapService{}, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestWebSocket(t *testing.T) {
	tests := []struct {
		name           string
		queryParams    string
		setupMock      func(*MockMapService)
		expectedStatus int
	}{
		{
			name:           "Missing session parameter",
			queryParams:    "",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:        "Invalid session",
			queryParams: "?session=invalid",
			setupMock: func(m *MockMapService) {
				m.GetSessionFunc = func(ctx context.Context, sessionID string) (*service.SessionInfo, error) {
					return nil, service.ErrSessionNotFound
				}
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "Valid session",
			queryParams:    "?session=ab12",
			expectedStatus: http.StatusSwitchingProtocols,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockMapService{}
			if tt.setupMock != nil {
				tt.setupMock(mockService)
			}

			server := setupTestServer(t, mockService)
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/ws"+tt.queryParams, nil)

			if tt.expectedStatus == http.StatusSwitchingProtocols {
				req.Header.Set("Upgrade", "websocket")
				req.Header.Set("Connection", "Upgrade")
				req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
				req.Header.Set("Sec-WebSocket-Version", "13")
			}

			server.handleWebSocket(w, req)

			// httptest.ResponseRecorder does not implement http.Hijacker, so a
			// 500 means the upgrade was attempted
			if tt.expectedStatus == http.StatusSwitchingProtocols && w.Code == http.StatusInternalServerError {
				return
			}

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}
