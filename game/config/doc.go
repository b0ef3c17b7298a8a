// Package config provides definition and settings management for the map server.
//
// The config package handles:
//   - Loading marker collections from JSON or YAML files
//   - Loading node records (nodes.json) and the icon list (icons.json)
//   - Caching definitions and refreshing them when files change
//   - Reading server settings from a TOML file
//
// Definition Format:
//
// Each collection file holds either {"name": ..., "groups": [...]} or a bare
// array of groups. Markers inside a group may be written as [id, [lat, lng]]
// tuples or as objects with coords, destination and sequence fields.
//
// Usage:
//
//	manager, err := config.NewManager("definitions", logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	defs, err := manager.Definitions()
//
//	// Reload on change
//	go manager.Watch(ctx, func() { maps.ReloadDefinitions(ctx) })
//
// Settings:
//
// LoadSettings reads wellmap.toml over DefaultSettings, so every key is
// optional.
package config
