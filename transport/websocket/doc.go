// Package websocket streams map engine events to browser clients.
//
// Clients connect to /ws?session=<id> and receive one JSON message per engine
// event of that session:
//
//	{"session_id": "ab12", "event": "navigate", "data": {"type": "navigate", "viewport": {...}}}
//
// A viewer may narrow its stream by sending a filter; an empty list restores
// every event:
//
//	{"events": ["navigate", "tile_revealed"]}
//
// This is the navigation bridge: quadrant and tile navigation requests made over
// REST or MCP arrive at the map view as navigate events, and tile, marker, group
// and node changes let the view redraw without polling.
//
// Usage:
//
//	hub := websocket.NewHub(logger)
//	go hub.Run(ctx)
//	mapService.Subscribe(hub.Publish)
//
// The hub owns its viewer table from the Run goroutine. Publish never blocks the
// engine; when the broadcast buffer is full the event is dropped and logged, and
// a viewer that stops reading is disconnected.
package websocket
