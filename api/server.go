package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wricardo/wellmap/game/engine"
	"github.com/wricardo/wellmap/game/service"
	"github.com/wricardo/wellmap/game/session"
	"github.com/wricardo/wellmap/transport/websocket"
)

// Server represents the REST API server
type Server struct {
	service service.MapService
	hub     *websocket.Hub
	router  *mux.Router
	log     *zap.Logger
}

// NewServer creates a new API server
func NewServer(mapService service.MapService, hub *websocket.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		service: mapService,
		hub:     hub,
		router:  mux.NewRouter(),
		log:     log,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")

	// Fog of war
	api.HandleFunc("/sessions/{id}/tiles", s.handleGetTiles).Methods("GET")
	api.HandleFunc("/sessions/{id}/tiles/encoded", s.handleGetEncodedTiles).Methods("GET")
	api.HandleFunc("/sessions/{id}/tiles/encoded", s.handleLoadEncodedTiles).Methods("PUT")
	api.HandleFunc("/sessions/{id}/tiles/reveal-all", s.handleRevealAll).Methods("POST")
	api.HandleFunc("/sessions/{id}/tiles/hide-all", s.handleHideAll).Methods("POST")
	api.HandleFunc("/sessions/{id}/tiles/{x:[0-9]+}/{y:[0-9]+}", s.handleToggleTile).Methods("POST")
	api.HandleFunc("/sessions/{id}/tiles/{x:[0-9]+}/{y:[0-9]+}", s.handleSetTile).Methods("PUT")

	// Marker groups
	api.HandleFunc("/sessions/{id}/groups", s.handleListGroups).Methods("GET")
	api.HandleFunc("/sessions/{id}/groups/{group}", s.handleGetGroup).Methods("GET")
	api.HandleFunc("/sessions/{id}/groups/{group}/copy", s.handleCopyGroup).Methods("GET")
	api.HandleFunc("/sessions/{id}/groups/{group}/visible", s.handleSetGroupVisible).Methods("PUT")
	api.HandleFunc("/sessions/{id}/groups/{group}/found", s.handleSetGroupFound).Methods("PUT")
	api.HandleFunc("/sessions/{id}/groups/{group}/revealed", s.handleRevealedMarkers).Methods("GET")

	// Markers
	api.HandleFunc("/sessions/{id}/markers/visible", s.handleSetMarkersVisible).Methods("PUT")
	api.HandleFunc("/sessions/{id}/markers/show-revealed", s.handleShowRevealedMarkers).Methods("POST")
	api.HandleFunc("/sessions/{id}/markers/{marker}/found", s.handleToggleFound).Methods("POST")
	api.HandleFunc("/sessions/{id}/markers/{marker}/visible", s.handleSetMarkerVisible).Methods("PUT")
	api.HandleFunc("/sessions/{id}/markers/{marker}/lines", s.handleRelatedLines).Methods("GET")

	// Custom groups
	api.HandleFunc("/sessions/{id}/custom-groups", s.handleListCustomGroups).Methods("GET")
	api.HandleFunc("/sessions/{id}/custom-groups", s.handleCreateCustomGroup).Methods("POST")
	api.HandleFunc("/sessions/{id}/custom-groups/{group}", s.handleUpdateCustomGroup).Methods("PUT")
	api.HandleFunc("/sessions/{id}/custom-groups/{group}", s.handleDeleteCustomGroup).Methods("DELETE")

	// Navigation
	api.HandleFunc("/sessions/{id}/goto/quadrant", s.handleGotoQuadrant).Methods("POST")
	api.HandleFunc("/sessions/{id}/goto/tile", s.handleGotoTile).Methods("POST")

	// Node graph
	api.HandleFunc("/sessions/{id}/nodes", s.handleListNodes).Methods("GET")
	api.HandleFunc("/sessions/{id}/nodes", s.handleAddNode).Methods("POST")
	api.HandleFunc("/sessions/{id}/nodes/render", s.handleRenderNodes).Methods("GET")
	api.HandleFunc("/sessions/{id}/nodes/export", s.handleExportNodes).Methods("GET")
	api.HandleFunc("/sessions/{id}/nodes/publish", s.handlePublishNodes).Methods("POST")
	api.HandleFunc("/sessions/{id}/nodes/{node:[0-9]+}", s.handleMoveNode).Methods("PUT")
	api.HandleFunc("/sessions/{id}/nodes/{node:[0-9]+}", s.handleDeleteNode).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/nodes/{node:[0-9]+}/select", s.handleSelectNode).Methods("POST")
	api.HandleFunc("/sessions/{id}/edges", s.handleConnectNodes).Methods("POST")
	api.HandleFunc("/sessions/{id}/edges/{a:[0-9]+}/{b:[0-9]+}", s.handleDisconnectNodes).Methods("DELETE")

	// Definitions
	api.HandleFunc("/collections", s.handleListCollections).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message, "code": status})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, engine.ErrMarkerNotFound),
		errors.Is(err, engine.ErrGroupNotFound),
		errors.Is(err, engine.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrGroupExists),
		errors.Is(err, engine.ErrDuplicateID),
		errors.Is(err, session.ErrSessionAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrReadOnly),
		errors.Is(err, engine.ErrStaticGroup),
		errors.Is(err, service.ErrEditorDisabled):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrNoSink):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrRevealDeclined):
		return http.StatusPreconditionFailed
	case errors.Is(err, engine.ErrTileOutOfRange),
		errors.Is(err, engine.ErrInvalidEncoding),
		errors.Is(err, engine.ErrUnindexable),
		errors.Is(err, engine.ErrSelfEdge),
		errors.Is(err, session.ErrInvalidSessionID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	respondError(w, status, err.Error())
}

// confirmed reports whether the caller confirmed a destructive operation. When
// not, it answers 412 and the handler must not mutate anything.
func confirmed(w http.ResponseWriter, r *http.Request, what string) bool {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); ok {
		return true
	}
	respondError(w, http.StatusPreconditionFailed, fmt.Sprintf("%s requires confirm=true", what))
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func intVar(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return v, true
}

// Session Handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id,omitempty"`
		Editor bool   `json:"editor,omitempty"`
	}

	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	info, err := s.service.CreateSession(r.Context(), req.ID, req.Editor)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.log.Info("session created", zap.String("session", info.ID), zap.Bool("editor", info.Editor))
	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	// Parse query parameters
	query := r.URL.Query()
	sortBy := query.Get("sort")    // "created", "accessed" (default)
	order := query.Get("order")    // "asc", "desc" (default: "desc")
	limitStr := query.Get("limit") // number of sessions to return

	// Set defaults
	if sortBy == "" {
		sortBy = "accessed"
	}
	if order == "" {
		order = "desc"
	}

	sort.Slice(sessions, func(i, j int) bool {
		var ti, tj time.Time
		if sortBy == "created" {
			ti, tj = sessions[i].CreatedAt, sessions[j].CreatedAt
		} else {
			ti, tj = sessions[i].LastAccessedAt, sessions[j].LastAccessedAt
		}

		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	total := len(sessions)
	limit := total
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < total {
			limit = l
		}
	}
	sessions = sessions[:limit]

	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.service.DeleteSession(r.Context(), sessionID); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

// Tile Handlers

func (s *Server) handleGetTiles(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetTiles(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetEncodedTiles(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetTiles(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"encoded": view.Encoded})
}

func (s *Server) handleLoadEncodedTiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Encoded string `json:"encoded"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := s.service.LoadEncodedTiles(r.Context(), mux.Vars(r)["id"], req.Encoded)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleRevealAll(w http.ResponseWriter, r *http.Request) {
	if !confirmed(w, r, "revealing every tile") {
		return
	}
	view, err := s.service.RevealAll(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleHideAll(w http.ResponseWriter, r *http.Request) {
	if !confirmed(w, r, "hiding every tile") {
		return
	}
	view, err := s.service.HideAll(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func tileVars(w http.ResponseWriter, r *http.Request) (engine.TileIndex, bool) {
	x, ok := intVar(w, r, "x")
	if !ok {
		return engine.TileIndex{}, false
	}
	y, ok := intVar(w, r, "y")
	if !ok {
		return engine.TileIndex{}, false
	}
	return engine.TileIndex{X: x, Y: y}, true
}

func (s *Server) handleToggleTile(w http.ResponseWriter, r *http.Request) {
	tile, ok := tileVars(w, r)
	if !ok {
		return
	}
	res, err := s.service.ToggleTile(r.Context(), mux.Vars(r)["id"], tile)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetTile(w http.ResponseWriter, r *http.Request) {
	tile, ok := tileVars(w, r)
	if !ok {
		return
	}
	var req struct {
		Revealed bool `json:"revealed"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.service.SetTile(r.Context(), mux.Vars(r)["id"], tile, req.Revealed)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Group Handlers

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.ListGroups(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	g, err := s.service.GetGroup(r.Context(), vars["id"], vars["group"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

// handleCopyGroup returns the group in the definition file's tuple form, ready to
// paste into a collection
func (s *Server) handleCopyGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	g, err := s.service.GetGroup(r.Context(), vars["id"], vars["group"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	markers := make([][2]any, 0, len(g.Markers))
	for _, m := range g.Markers {
		markers = append(markers, [2]any{m.ID, m.Coords})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"name":    g.Name,
		"icon":    g.Icon,
		"markers": markers,
	})
}

func (s *Server) handleSetGroupVisible(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible bool `json:"visible"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	summary, err := s.service.SetGroupVisible(r.Context(), vars["id"], vars["group"], req.Visible)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSetGroupFound(w http.ResponseWriter, r *http.Request) {
	if !confirmed(w, r, "marking a whole group") {
		return
	}
	var req struct {
		Found bool `json:"found"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	res, err := s.service.SetGroupFound(r.Context(), vars["id"], vars["group"], req.Found)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRevealedMarkers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	markers, err := s.service.RevealedMarkers(r.Context(), vars["id"], vars["group"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(markers),
		"markers": markers,
	})
}

// Marker Handlers

func (s *Server) handleToggleFound(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.service.ToggleFound(r.Context(), vars["id"], vars["marker"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetMarkerVisible(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible bool `json:"visible"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	res, err := s.service.SetMarkerVisible(r.Context(), vars["id"], vars["marker"], req.Visible)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleSetMarkersVisible shows or hides a group's markers, or every marker
// when no group is given
func (s *Server) handleSetMarkersVisible(w http.ResponseWriter, r *http.Request) {
	if !confirmed(w, r, "changing the visibility of many markers") {
		return
	}
	var req struct {
		Group   string `json:"group"`
		Visible bool   `json:"visible"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.service.SetMarkersVisible(r.Context(), mux.Vars(r)["id"], req.Group, req.Visible)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleShowRevealedMarkers(w http.ResponseWriter, r *http.Request) {
	if !confirmed(w, r, "showing the markers of revealed tiles") {
		return
	}
	group := r.URL.Query().Get("group")
	res, err := s.service.ShowRevealedMarkers(r.Context(), mux.Vars(r)["id"], group)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRelatedLines(w http.ResponseWriter, r *http.Request) {
	focus := 0
	if f := r.URL.Query().Get("focus"); f != "" {
		v, err := strconv.Atoi(f)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid focus")
			return
		}
		focus = v
	}

	vars := mux.Vars(r)
	lines, err := s.service.RelatedLines(r.Context(), vars["id"], vars["marker"], focus)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lines)
}

// Custom Group Handlers

func (s *Server) handleListCustomGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.ListGroups(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	custom := []*service.GroupSummary{}
	for _, g := range groups {
		if g.Custom {
			custom = append(custom, g)
		}
	}
	respondJSON(w, http.StatusOK, custom)
}

type customGroupRequest struct {
	Name   string         `json:"name"`
	Points []engine.Point `json:"points"`
}

func (s *Server) handleCreateCustomGroup(w http.ResponseWriter, r *http.Request) {
	var req customGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Group name is required")
		return
	}

	g, err := s.service.SaveCustomGroup(r.Context(), mux.Vars(r)["id"], req.Name, req.Points, true)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

func (s *Server) handleUpdateCustomGroup(w http.ResponseWriter, r *http.Request) {
	var req customGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	g, err := s.service.SaveCustomGroup(r.Context(), vars["id"], vars["group"], req.Points, false)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteCustomGroup(w http.ResponseWriter, r *http.Request) {
	if !confirmed(w, r, "deleting a custom group") {
		return
	}

	vars := mux.Vars(r)
	if err := s.service.DeleteCustomGroup(r.Context(), vars["id"], vars["group"]); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Group %s deleted", vars["group"]),
	})
}

// Navigation Handlers

type gotoRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Reveal bool    `json:"reveal,omitempty"`
}

func (s *Server) handleGotoQuadrant(w http.ResponseWriter, r *http.Request) {
	var req gotoRequest
	if !decodeBody(w, r, &req) {
		return
	}

	vp, err := s.service.GotoQuadrant(r.Context(), mux.Vars(r)["id"], req.X, req.Y)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, vp)
}

func (s *Server) handleGotoTile(w http.ResponseWriter, r *http.Request) {
	var req gotoRequest
	if !decodeBody(w, r, &req) {
		return
	}

	vp, err := s.service.GotoTile(r.Context(), mux.Vars(r)["id"], req.X, req.Y, req.Reveal)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, vp)
}

// Node Handlers

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ListNodes(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Coords  engine.Point `json:"coords"`
		Connect bool         `json:"connect,omitempty"`
		Follow  bool         `json:"follow,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.service.AddNode(r.Context(), mux.Vars(r)["id"], req.Coords, req.Connect, req.Follow)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleSelectNode(w http.ResponseWriter, r *http.Request) {
	node, ok := intVar(w, r, "node")
	if !ok {
		return
	}
	view, err := s.service.SelectNode(r.Context(), mux.Vars(r)["id"], node)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleMoveNode(w http.ResponseWriter, r *http.Request) {
	node, ok := intVar(w, r, "node")
	if !ok {
		return
	}
	var req struct {
		Coords engine.Point `json:"coords"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.service.MoveNode(r.Context(), mux.Vars(r)["id"], node, req.Coords)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	node, ok := intVar(w, r, "node")
	if !ok {
		return
	}
	if err := s.service.DeleteNode(r.Context(), mux.Vars(r)["id"], node); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Node %d deleted", node),
	})
}

func (s *Server) handleConnectNodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.service.ConnectNodes(r.Context(), mux.Vars(r)["id"], req.A, req.B)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDisconnectNodes(w http.ResponseWriter, r *http.Request) {
	a, ok := intVar(w, r, "a")
	if !ok {
		return
	}
	b, ok := intVar(w, r, "b")
	if !ok {
		return
	}
	if err := s.service.DisconnectNodes(r.Context(), mux.Vars(r)["id"], a, b); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, service.ConnectResult{A: a, B: b, Connected: false})
}

func (s *Server) handleRenderNodes(w http.ResponseWriter, r *http.Request) {
	segments, err := s.service.RenderNodes(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, segments)
}

func (s *Server) handleExportNodes(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ExportNodes(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handlePublishNodes(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	count, err := s.service.PublishNodes(r.Context(), sessionID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.log.Info("nodes queued for publishing", zap.String("session", sessionID), zap.Int("count", count))
	respondJSON(w, http.StatusAccepted, map[string]int{"published": count})
}

// Definition Handlers

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.service.ListCollections(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, collections)
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	// Verify session exists
	info, err := s.service.GetSession(context.Background(), sessionID)
	if err != nil {
		http.Error(w, "Invalid session", http.StatusNotFound)
		return
	}

	if s.hub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}

	// Events carry the canonical (lower-case) session id
	s.hub.ServeWS(w, r, info.ID)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
