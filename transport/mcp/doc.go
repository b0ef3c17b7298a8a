// Package mcp exposes the map over the Model Context Protocol.
//
// The Client is a thin proxy: every tool call becomes a request against the REST
// API and the JSON response is rendered as text for the agent. It can be served
// over stdio for local MCP clients or mounted on the HTTP server at /mcp.
//
// Tools:
//   - create_session, get_session, list_sessions
//   - map_tiles, toggle_tile, reveal_all, hide_all
//   - list_groups, set_group_visible, mark_group_found, revealed_markers
//   - toggle_found, related_lines
//   - goto_tile, goto_quadrant
//   - list_nodes, add_node, connect_nodes, delete_node, export_nodes
//   - list_collections, map_instructions
//
// Bulk tools refuse to run unless called with confirm=true, mirroring the
// confirmation the REST API requires.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
