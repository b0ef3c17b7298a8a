// Package service provides the business logic layer for the wellmap explorer.
//
// The service package implements:
//   - Multi-session map exploration
//   - Fog-of-war, marker and custom group operations per session
//   - Navigation requests with reveal confirmation
//   - Editor-gated node graph editing and export
//
// Core Interfaces:
//
// MapService is the main service interface used by the HTTP, WebSocket and MCP
// transports. SessionManager owns the per-session engines. ConfigManager lists
// the marker definition files.
//
// Usage:
//
//	sessions, _ := session.NewManager(session.ManagerOptions{...})
//	configs, _ := config.NewManager("definitions", logger)
//	svc := service.NewMapService(sessions, configs, false)
//
//	info, err := svc.CreateSession(ctx, "", false)
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, err = svc.ToggleTile(ctx, info.ID, engine.TileIndex{X: 2, Y: 3})
//
// Confirmation:
//
// Destructive bulk operations (RevealAll, HideAll, SetGroupFound and
// DeleteCustomGroup) do not prompt. The transport layer asks the user and only
// calls them once confirmed.
package service
