package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/wellmap/game/engine"
	"github.com/wricardo/wellmap/game/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Wellmap",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Wellmap - MCP Interface

This is a thin client that proxies all requests to the REST API server.

Wellmap is an annotated world map with a fog of war. The world is split into a grid
of tiles; markers (collectibles, teleporters, points of interest) live on tiles and
can be marked found. Editor sessions can also author a graph of route nodes.

Coordinates: tools take world x/y. Tile tools take tile column/row indices.

AVAILABLE TOOLS:
- create_session, get_session, list_sessions: exploration profiles
- map_tiles: fog of war grid (# revealed, . hidden)
- toggle_tile, reveal_all, hide_all: change the fog of war
- list_groups, set_group_visible, mark_group_found, revealed_markers: marker groups
- toggle_found, related_lines: single markers
- goto_tile, goto_quadrant: move the viewer camera
- list_nodes, add_node, connect_nodes, delete_node, export_nodes: route node graph
- list_collections: definition files loaded by the server
- map_instructions: full usage guide

Destructive bulk tools (reveal_all, hide_all, mark_group_found) require confirm=true.`),
	)

	// Register all tools
	c.registerTools()
}

func sessionProp() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Session ID",
	}
}

func prop(kind, description string) map[string]any {
	return map[string]any{
		"type":        kind,
		"description": description,
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new exploration session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": prop("string", "Session ID to use (optional, generated when empty)"),
				"editor":     prop("boolean", "Enable node editing for this session"),
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"session_id": sessionProp()},
			Required:   []string{"session_id"},
		},
	}, c.handleGetSession)

	// Fog of war
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "map_tiles",
		Description: "Show the fog of war grid. '#' is revealed, '.' is hidden, 'H' marks the home tile.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"session_id": sessionProp()},
			Required:   []string{"session_id"},
		},
	}, c.handleMapTiles)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "toggle_tile",
		Description: "Toggle a tile between revealed and hidden",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"x":          prop("integer", "Tile column"),
				"y":          prop("integer", "Tile row"),
			},
			Required: []string{"session_id", "x", "y"},
		},
	}, c.handleToggleTile)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reveal_all",
		Description: "Reveal every tile. Requires confirm=true.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"confirm":    prop("boolean", "Must be true"),
			},
			Required: []string{"session_id", "confirm"},
		},
	}, c.handleRevealAll)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "hide_all",
		Description: "Hide every tile except home. Requires confirm=true.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"confirm":    prop("boolean", "Must be true"),
			},
			Required: []string{"session_id", "confirm"},
		},
	}, c.handleHideAll)

	// Markers
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_groups",
		Description: "List marker groups with found counts and visibility",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"session_id": sessionProp()},
			Required:   []string{"session_id"},
		},
	}, c.handleListGroups)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_group_visible",
		Description: "Show or hide a marker group",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"group":      prop("string", "Group name"),
				"visible":    prop("boolean", "Whether the group is shown"),
			},
			Required: []string{"session_id", "group", "visible"},
		},
	}, c.handleSetGroupVisible)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "mark_group_found",
		Description: "Mark every marker of a group found or not found. Requires confirm=true.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"group":      prop("string", "Group name"),
				"found":      prop("boolean", "Found state to apply"),
				"confirm":    prop("boolean", "Must be true"),
			},
			Required: []string{"session_id", "group", "found", "confirm"},
		},
	}, c.handleMarkGroupFound)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "revealed_markers",
		Description: "List the markers of a group that sit on revealed tiles",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"group":      prop("string", "Group name"),
			},
			Required: []string{"session_id", "group"},
		},
	}, c.handleRevealedMarkers)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "toggle_found",
		Description: "Toggle the found state of a marker",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"marker_id":  prop("string", "Marker ID"),
			},
			Required: []string{"session_id", "marker_id"},
		},
	}, c.handleToggleFound)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_marker_visible",
		Description: "Show or hide a single marker",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"marker_id":  prop("string", "Marker ID"),
				"visible":    prop("boolean", "Whether the marker is shown"),
			},
			Required: []string{"session_id", "marker_id", "visible"},
		},
	}, c.handleSetMarkerVisible)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_markers_visible",
		Description: "Show or hide every marker of a group, or of all groups when group is omitted. Requires confirm=true.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"group":      prop("string", "Group name (optional)"),
				"visible":    prop("boolean", "Whether the markers are shown"),
				"confirm":    prop("boolean", "Must be true"),
			},
			Required: []string{"session_id", "visible", "confirm"},
		},
	}, c.handleSetMarkersVisible)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "show_revealed_markers",
		Description: "Show the hidden markers that sit on revealed tiles. Requires confirm=true.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"group":      prop("string", "Group name (optional)"),
				"confirm":    prop("boolean", "Must be true"),
			},
			Required: []string{"session_id", "confirm"},
		},
	}, c.handleShowRevealedMarkers)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "related_lines",
		Description: "Get the lines drawn for a marker (teleporter destination, sequence path)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"marker_id":  prop("string", "Marker ID"),
				"focus":      prop("integer", "Index of the coordinate the lines start from (default 0)"),
			},
			Required: []string{"session_id", "marker_id"},
		},
	}, c.handleRelatedLines)

	// Navigation
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "goto_tile",
		Description: "Fly the viewer to a world point. Set reveal=true to reveal its tile when hidden.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"x":          prop("number", "World x"),
				"y":          prop("number", "World y"),
				"reveal":     prop("boolean", "Reveal the tile if it is hidden"),
			},
			Required: []string{"session_id", "x", "y"},
		},
	}, c.handleGotoTile)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "goto_quadrant",
		Description: "Fly the viewer to the quadrant containing a world point",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"x":          prop("number", "World x"),
				"y":          prop("number", "World y"),
			},
			Required: []string{"session_id", "x", "y"},
		},
	}, c.handleGotoQuadrant)

	// Node graph
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_nodes",
		Description: "List route nodes and their connections",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"session_id": sessionProp()},
			Required:   []string{"session_id"},
		},
	}, c.handleListNodes)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "add_node",
		Description: "Add a route node (editor sessions only)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"x":          prop("number", "World x"),
				"y":          prop("number", "World y"),
				"connect":    prop("boolean", "Connect to the selected node"),
				"follow":     prop("boolean", "Select the new node"),
			},
			Required: []string{"session_id", "x", "y"},
		},
	}, c.handleAddNode)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "connect_nodes",
		Description: "Toggle the edge between two nodes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"a":          prop("integer", "First node ID"),
				"b":          prop("integer", "Second node ID"),
			},
			Required: []string{"session_id", "a", "b"},
		},
	}, c.handleConnectNodes)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_node",
		Description: "Delete a route node and its edges",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionProp(),
				"node_id":    prop("integer", "Node ID"),
			},
			Required: []string{"session_id", "node_id"},
		},
	}, c.handleDeleteNode)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "export_nodes",
		Description: "Export the node graph as JSON",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"session_id": sessionProp()},
			Required:   []string{"session_id"},
		},
	}, c.handleExportNodes)

	// Definitions
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_collections",
		Description: "List marker definition files loaded by the server",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, c.handleListCollections)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "map_instructions",
		Description: "Get the full usage guide",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, c.handleMapInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

func sessionPath(args map[string]any, suffix string) (string, error) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix, nil
}

// number reads a JSON number argument; MCP clients send every number as float64
func number(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	editor, _ := args["editor"].(bool)

	body := map[string]any{"editor": editor}
	if sessionID != "" {
		body["id"] = sessionID
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &session); err != nil {
		return toolError(err)
	}

	result := fmt.Sprintf("Created session: %s\nEditor: %v\n\n%s", session.ID, session.Editor, formatSessionInfo(&session))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                   `json:"count"`
		Sessions []service.SessionInfo `json:"sessions"`
	}

	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response); err != nil {
		return toolError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		mode := "viewer"
		if s.Editor {
			mode = "editor"
		}
		fmt.Fprintf(&b, "- %s (%s, Tiles: %d/%d, Found: %d/%d, Last access: %s)\n",
			s.ID, mode, s.RevealedTiles, s.TotalTiles, s.FoundMarkers, s.TotalMarkers,
			s.LastAccessedAt.Format("2006-01-02 15:04:05"))
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "")
	if err != nil {
		return toolError(err)
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", path, nil, &session); err != nil {
		return toolError(err)
	}

	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleMapTiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/tiles")
	if err != nil {
		return toolError(err)
	}

	var view service.TilesView
	if err := c.apiCall(ctx, "GET", path, nil, &view); err != nil {
		return toolError(err)
	}

	return mcp.NewToolResultText(formatTiles(&view)), nil
}

func (c *Client) handleToggleTile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	x, okX := number(args, "x")
	y, okY := number(args, "y")
	if !okX || !okY {
		return mcp.NewToolResultError("x and y are required"), nil
	}
	path, err := sessionPath(args, fmt.Sprintf("/tiles/%d/%d", int(x), int(y)))
	if err != nil {
		return toolError(err)
	}

	var res service.TileResult
	if err := c.apiCall(ctx, "POST", path, nil, &res); err != nil {
		return toolError(err)
	}

	state := "hidden"
	if res.Tile.Revealed {
		state = "revealed"
	}
	result := fmt.Sprintf("Tile (%d, %d) is now %s. Revealed tiles: %d", res.Tile.X, res.Tile.Y, state, res.Count)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) bulkTiles(ctx context.Context, request mcp.CallToolRequest, suffix, verb string) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if ok, _ := args["confirm"].(bool); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s every tile needs confirm=true", verb)), nil
	}
	path, err := sessionPath(args, suffix+"?confirm=true")
	if err != nil {
		return toolError(err)
	}

	var view service.TilesView
	if err := c.apiCall(ctx, "POST", path, nil, &view); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(formatTiles(&view)), nil
}

func (c *Client) handleRevealAll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.bulkTiles(ctx, request, "/tiles/reveal-all", "Revealing")
}

func (c *Client) handleHideAll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.bulkTiles(ctx, request, "/tiles/hide-all", "Hiding")
}

func (c *Client) handleListGroups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/groups")
	if err != nil {
		return toolError(err)
	}

	var groups []service.GroupSummary
	if err := c.apiCall(ctx, "GET", path, nil, &groups); err != nil {
		return toolError(err)
	}

	return mcp.NewToolResultText(formatGroups(groups)), nil
}

func (c *Client) handleSetGroupVisible(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	group, _ := args["group"].(string)
	visible, _ := args["visible"].(bool)
	path, err := sessionPath(args, "/groups/"+url.PathEscape(group)+"/visible")
	if err != nil {
		return toolError(err)
	}

	var summary service.GroupSummary
	if err := c.apiCall(ctx, "PUT", path, map[string]bool{"visible": visible}, &summary); err != nil {
		return toolError(err)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Group %s visible: %v", summary.Name, summary.Visible)), nil
}

func (c *Client) handleMarkGroupFound(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if ok, _ := args["confirm"].(bool); !ok {
		return mcp.NewToolResultError("Marking a whole group needs confirm=true"), nil
	}
	group, _ := args["group"].(string)
	found, _ := args["found"].(bool)
	path, err := sessionPath(args, "/groups/"+url.PathEscape(group)+"/found?confirm=true")
	if err != nil {
		return toolError(err)
	}

	var res service.GroupFoundResult
	if err := c.apiCall(ctx, "PUT", path, map[string]bool{"found": found}, &res); err != nil {
		return toolError(err)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Group %s: %d markers set found=%v", res.Group, res.Changed, res.Found)), nil
}

func (c *Client) handleRevealedMarkers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	group, _ := args["group"].(string)
	path, err := sessionPath(args, "/groups/"+url.PathEscape(group)+"/revealed")
	if err != nil {
		return toolError(err)
	}

	var response struct {
		Count   int             `json:"count"`
		Markers []engine.Marker `json:"markers"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return toolError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Markers of %s on revealed tiles (%d):\n", group, response.Count)
	for _, m := range response.Markers {
		b.WriteString(formatMarkerLine(m))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleToggleFound(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	markerID, _ := args["marker_id"].(string)
	path, err := sessionPath(args, "/markers/"+url.PathEscape(markerID)+"/found")
	if err != nil {
		return toolError(err)
	}

	var res service.MarkerResult
	if err := c.apiCall(ctx, "POST", path, nil, &res); err != nil {
		return toolError(err)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Marker %s found: %v (total found: %d)", res.MarkerID, res.Found, res.FoundCount)), nil
}

func (c *Client) handleSetMarkerVisible(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	markerID, _ := args["marker_id"].(string)
	visible, _ := args["visible"].(bool)
	path, err := sessionPath(args, "/markers/"+url.PathEscape(markerID)+"/visible")
	if err != nil {
		return toolError(err)
	}

	var res service.MarkerVisibleResult
	if err := c.apiCall(ctx, "PUT", path, map[string]bool{"visible": visible}, &res); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Marker %s visible: %v", res.MarkerID, res.Visible)), nil
}

func (c *Client) handleSetMarkersVisible(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if ok, _ := args["confirm"].(bool); !ok {
		return mcp.NewToolResultError("Changing many markers needs confirm=true"), nil
	}
	group, _ := args["group"].(string)
	visible, _ := args["visible"].(bool)
	path, err := sessionPath(args, "/markers/visible?confirm=true")
	if err != nil {
		return toolError(err)
	}

	var res service.MarkersVisibleResult
	body := map[string]any{"group": group, "visible": visible}
	if err := c.apiCall(ctx, "PUT", path, body, &res); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %d markers set visible=%v", groupLabel(res.Group), res.Changed, res.Visible)), nil
}

func (c *Client) handleShowRevealedMarkers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if ok, _ := args["confirm"].(bool); !ok {
		return mcp.NewToolResultError("Showing the markers of revealed tiles needs confirm=true"), nil
	}
	group, _ := args["group"].(string)
	path, err := sessionPath(args, "/markers/show-revealed?confirm=true&group="+url.QueryEscape(group))
	if err != nil {
		return toolError(err)
	}

	var res service.MarkersVisibleResult
	if err := c.apiCall(ctx, "POST", path, nil, &res); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %d markers on revealed tiles shown", groupLabel(res.Group), res.Changed)), nil
}

func groupLabel(group string) string {
	if group == "" {
		return "All groups"
	}
	return "Group " + group
}

func (c *Client) handleRelatedLines(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	markerID, _ := args["marker_id"].(string)
	focus, _ := number(args, "focus")
	path, err := sessionPath(args, fmt.Sprintf("/markers/%s/lines?focus=%d", url.PathEscape(markerID), int(focus)))
	if err != nil {
		return toolError(err)
	}

	var lines []engine.Segment
	if err := c.apiCall(ctx, "GET", path, nil, &lines); err != nil {
		return toolError(err)
	}

	if len(lines) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Marker %s has no related lines", markerID)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Lines for %s (%d):\n", markerID, len(lines))
	for _, l := range lines {
		fmt.Fprintf(&b, "- %s -> %s", formatPoint(l.From), formatPoint(l.To))
		if l.Color != "" {
			fmt.Fprintf(&b, " (%s)", l.Color)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGotoTile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	x, okX := number(args, "x")
	y, okY := number(args, "y")
	if !okX || !okY {
		return mcp.NewToolResultError("x and y are required"), nil
	}
	reveal, _ := args["reveal"].(bool)
	path, err := sessionPath(args, "/goto/tile")
	if err != nil {
		return toolError(err)
	}

	var vp engine.Viewport
	if err := c.apiCall(ctx, "POST", path, map[string]any{"x": x, "y": y, "reveal": reveal}, &vp); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(formatViewport(vp)), nil
}

func (c *Client) handleGotoQuadrant(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	x, okX := number(args, "x")
	y, okY := number(args, "y")
	if !okX || !okY {
		return mcp.NewToolResultError("x and y are required"), nil
	}
	path, err := sessionPath(args, "/goto/quadrant")
	if err != nil {
		return toolError(err)
	}

	var vp engine.Viewport
	if err := c.apiCall(ctx, "POST", path, map[string]any{"x": x, "y": y}, &vp); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(formatViewport(vp)), nil
}

func (c *Client) handleListNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/nodes")
	if err != nil {
		return toolError(err)
	}

	var view service.NodesView
	if err := c.apiCall(ctx, "GET", path, nil, &view); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(formatNodes(&view)), nil
}

func (c *Client) handleAddNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	x, okX := number(args, "x")
	y, okY := number(args, "y")
	if !okX || !okY {
		return mcp.NewToolResultError("x and y are required"), nil
	}
	connect, _ := args["connect"].(bool)
	follow, _ := args["follow"].(bool)
	path, err := sessionPath(args, "/nodes")
	if err != nil {
		return toolError(err)
	}

	body := map[string]any{
		"coords":  engine.Point{X: x, Y: y},
		"connect": connect,
		"follow":  follow,
	}
	var rec engine.NodeRecord
	if err := c.apiCall(ctx, "POST", path, body, &rec); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Added node %d at %s, connected to %v", rec.ID, formatPoint(rec.Coords), rec.Connected)), nil
}

func (c *Client) handleConnectNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	a, okA := number(args, "a")
	b, okB := number(args, "b")
	if !okA || !okB {
		return mcp.NewToolResultError("a and b are required"), nil
	}
	path, err := sessionPath(args, "/edges")
	if err != nil {
		return toolError(err)
	}

	var res service.ConnectResult
	if err := c.apiCall(ctx, "POST", path, map[string]int{"a": int(a), "b": int(b)}, &res); err != nil {
		return toolError(err)
	}

	if res.Connected {
		return mcp.NewToolResultText(fmt.Sprintf("Connected %d and %d", res.A, res.B)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Disconnected %d and %d", res.A, res.B)), nil
}

func (c *Client) handleDeleteNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	id, ok := number(args, "node_id")
	if !ok {
		return mcp.NewToolResultError("node_id is required"), nil
	}
	path, err := sessionPath(args, fmt.Sprintf("/nodes/%d", int(id)))
	if err != nil {
		return toolError(err)
	}

	if err := c.apiCall(ctx, "DELETE", path, nil, nil); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted node %d", int(id))), nil
}

func (c *Client) handleExportNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/nodes/export")
	if err != nil {
		return toolError(err)
	}

	var payload json.RawMessage
	if err := c.apiCall(ctx, "GET", path, nil, &payload); err != nil {
		return toolError(err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, payload, "", "  "); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(out.String()), nil
}

func (c *Client) handleListCollections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var collections []service.CollectionInfo
	if err := c.apiCall(ctx, "GET", "/api/collections", nil, &collections); err != nil {
		return toolError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Collections (%d):\n", len(collections))
	for _, col := range collections {
		fmt.Fprintf(&b, "- %s: %d groups, %d markers\n", col.Name, col.Groups, col.Markers)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleMapInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `Wellmap - Usage Guide

WORLD:
The world is a rectangle of world units split into a grid of tiles (16x16 by default).
Tile (0,0) is the bottom-left corner. Points are given as world x/y; the REST API and
exports use [lat, lng] pairs, which are [y, x].

FOG OF WAR:
- Every tile is revealed or hidden. The home tile starts revealed.
- map_tiles draws the grid with row 0 at the bottom.
- toggle_tile flips one tile; reveal_all and hide_all need confirm=true.
- hide_all keeps the home tile revealed.

MARKERS:
- Markers belong to groups (collectibles, teleporters, custom groups).
- toggle_found marks a single marker found. mark_group_found applies to a whole group.
- revealed_markers lists the markers of a group whose tile is revealed.
- set_marker_visible shows or hides one marker. set_markers_visible does it for a
  group or every group, and show_revealed_markers shows the markers on revealed tiles.
- related_lines shows where a teleporter leads or how a sequence continues.

NAVIGATION:
- goto_quadrant flies the viewer to the center of a quadrant at zoom 2.
- goto_tile flies to a point at zoom 3. If the tile is hidden the call fails unless
  reveal=true, in which case the tile is revealed first.

NODE GRAPH (editor sessions):
- add_node places a node; connect=true links it to the selected node, follow=true
  selects the new node so a path can be drawn node by node.
- connect_nodes toggles an edge. Edges are undirected.
- Edges that cross the world boundary wrap around to the other side.
- export_nodes returns {"items":[{id, coords, connected}]}.

TIPS:
- Use get_session to see progress counters.
- Errors from the server are passed through unchanged.`

	return mcp.NewToolResultText(instructions), nil
}

func formatPoint(p engine.Point) string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

func formatSessionInfo(session *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", session.ID)
	fmt.Fprintf(&b, "Editor: %v\n", session.Editor)
	fmt.Fprintf(&b, "World: %.0fx%.0f, %dx%d tiles, home (%d, %d)\n",
		session.World.Width, session.World.Height, session.World.TilesX, session.World.TilesY,
		session.World.Home.X, session.World.Home.Y)
	fmt.Fprintf(&b, "Revealed tiles: %d/%d\n", session.RevealedTiles, session.TotalTiles)
	fmt.Fprintf(&b, "Found markers: %d/%d\n", session.FoundMarkers, session.TotalMarkers)
	fmt.Fprintf(&b, "Nodes: %d\n", session.Nodes)
	fmt.Fprintf(&b, "Viewport: %s zoom %d\n", formatPoint(session.Viewport.Center), session.Viewport.Zoom)
	if len(session.Diagnostics) > 0 {
		fmt.Fprintf(&b, "Diagnostics: %d definition problems\n", len(session.Diagnostics))
	}
	return b.String()
}

// formatTiles draws the grid with the highest row first so north is up
func formatTiles(view *service.TilesView) string {
	var b strings.Builder
	total := view.World.TilesX * view.World.TilesY
	fmt.Fprintf(&b, "Revealed tiles: %d/%d\n", view.Count, total)
	fmt.Fprintf(&b, "Encoded: %s\n\n", view.Encoded)

	for y := len(view.Revealed) - 1; y >= 0; y-- {
		fmt.Fprintf(&b, "%2d ", y)
		for x, revealed := range view.Revealed[y] {
			switch {
			case x == view.World.Home.X && y == view.World.Home.Y:
				b.WriteByte('H')
			case revealed:
				b.WriteByte('#')
			default:
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatGroups(groups []service.GroupSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Groups (%d):\n", len(groups))
	for _, g := range groups {
		label := g.Label
		if label == "" {
			label = g.Name
		}
		flags := []string{}
		if g.Custom {
			flags = append(flags, "custom")
		}
		if !g.Visible {
			flags = append(flags, "hidden")
		}
		fmt.Fprintf(&b, "- %s [%s]: %d/%d found, %d shown", label, g.Name, g.Found, g.Markers, g.Shown)
		if len(flags) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(flags, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatMarkerLine(m engine.Marker) string {
	status := " "
	if m.Found {
		status = "x"
	}
	name := m.Name
	if name == "" {
		name = m.ID
	}
	if len(m.Coords) == 0 {
		return fmt.Sprintf("[%s] %s\n", status, name)
	}
	return fmt.Sprintf("[%s] %s at %s\n", status, name, formatPoint(m.Coords[0]))
}

func formatViewport(vp engine.Viewport) string {
	return fmt.Sprintf("Viewer moved to %s at zoom %d", formatPoint(vp.Center), vp.Zoom)
}

func formatNodes(view *service.NodesView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", view.Mode)
	if view.Current != 0 {
		fmt.Fprintf(&b, "Selected: %d\n", view.Current)
	}
	fmt.Fprintf(&b, "Nodes (%d):\n", len(view.Nodes))
	for _, n := range view.Nodes {
		fmt.Fprintf(&b, "- %d at %s -> %v\n", n.ID, formatPoint(n.Coords), n.Connected)
	}
	return b.String()
}
