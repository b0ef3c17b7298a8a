// Package api provides the HTTP REST API for the map.
//
// Endpoints:
//
// Sessions:
//   - POST /api/sessions - Create a session ({"id", "editor"}, both optional)
//   - GET /api/sessions - List sessions (sort=created|accessed, order=asc|desc, limit)
//   - GET /api/sessions/{id} - Session details and progress counters
//   - DELETE /api/sessions/{id} - Delete a session and its stored state
//
// Fog of war:
//   - GET /api/sessions/{id}/tiles - Reveal grid
//   - GET, PUT /api/sessions/{id}/tiles/encoded - Compact share string
//   - POST /api/sessions/{id}/tiles/{x}/{y} - Toggle a tile
//   - PUT /api/sessions/{id}/tiles/{x}/{y} - Set a tile ({"revealed"})
//   - POST /api/sessions/{id}/tiles/reveal-all?confirm=true
//   - POST /api/sessions/{id}/tiles/hide-all?confirm=true
//
// Markers:
//   - GET /api/sessions/{id}/groups, /groups/{group}, /groups/{group}/copy
//   - PUT /api/sessions/{id}/groups/{group}/visible
//   - PUT /api/sessions/{id}/groups/{group}/found?confirm=true
//   - GET /api/sessions/{id}/groups/{group}/revealed
//   - POST /api/sessions/{id}/markers/{marker}/found
//   - PUT /api/sessions/{id}/markers/{marker}/visible
//   - PUT /api/sessions/{id}/markers/visible?confirm=true
//   - POST /api/sessions/{id}/markers/show-revealed?confirm=true&group=
//   - GET /api/sessions/{id}/markers/{marker}/lines?focus=N
//   - GET, POST /api/sessions/{id}/custom-groups
//   - PUT, DELETE /api/sessions/{id}/custom-groups/{group} (DELETE needs confirm=true)
//
// Navigation:
//   - POST /api/sessions/{id}/goto/quadrant ({"x", "y"})
//   - POST /api/sessions/{id}/goto/tile ({"x", "y", "reveal"})
//
// Node graph:
//   - GET, POST /api/sessions/{id}/nodes
//   - PUT, DELETE /api/sessions/{id}/nodes/{node}
//   - POST /api/sessions/{id}/nodes/{node}/select
//   - POST /api/sessions/{id}/edges ({"a", "b"}) toggles an edge
//   - DELETE /api/sessions/{id}/edges/{a}/{b}
//   - GET /api/sessions/{id}/nodes/render, /nodes/export
//   - POST /api/sessions/{id}/nodes/publish - Queue the node list for the export sink (202)
//
// Other:
//   - GET /api/collections - Loaded definition files
//   - GET /ws?session={id} - Engine event stream
//   - GET /health
//
// Points are encoded as [lat, lng] pairs, i.e. [y, x].
//
// Operations that need confirmation answer 412 Precondition Failed without
// touching state when confirm=true is missing. Navigating to a hidden tile
// without "reveal": true also answers 412.
//
// Errors are returned as JSON with the matching HTTP status code:
//
//	{
//	  "error": "error message",
//	  "code": 404
//	}
package api
