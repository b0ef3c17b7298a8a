// Package engine provides the map annotation and exploration engine.
//
// The engine package implements:
//   - The coordinate model and tile indexing, including wrap-around edge routing
//   - The fog-of-war tile grid with its persisted reveal state
//   - The marker registry with tuple/object definition decoding and found tracking
//   - Related-line resolution for destination, sequence and multi-point markers
//   - The node graph editor with symmetric edge maintenance
//
// Core Types:
//
// Engine is the facade used by the service layer. It owns a TileGrid, a Registry
// and a Graph, persists user state through a Store and notifies observers
// registered with Subscribe. Definitions describe the static marker collections
// and node records an engine is built from.
//
// Usage:
//
//	eng, err := engine.NewEngine(defs, engine.Options{
//		Context: "profile-1",
//		Store:   store,
//		Logger:  logger,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	unsubscribe := eng.Subscribe(func(e engine.Event) {
//		fmt.Println(e.Type)
//	})
//	defer unsubscribe()
//
//	eng.ToggleTile(engine.TileIndex{X: 3, Y: 7})
//	eng.ToggleFound("shrine-1")
//
// Coordinates:
//
// Points are world pixels. Definition files and JSON payloads write them as
// [lat, lng], which is [y, x].
package engine
