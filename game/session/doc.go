// Package session provides session management for the wellmap explorer.
//
// A session is one exploration profile: its own engine, fog of war, found
// markers and custom groups. The engine persists that state into a shared
// KVStore under keys scoped by the session id ("<id>.tiles", "<id>.found", ...),
// while the manager keeps session metadata under "session:<id>".
//
// Stores:
//
//   - MemoryStore keeps everything in process memory
//   - FileStore writes one JSON file per key
//   - PostgresStore keeps a kv table, migrated with goose on startup
//
// Usage:
//
//	store, _ := session.NewFileStore("sessions")
//	manager, err := session.NewManager(session.ManagerOptions{
//		Store:       store,
//		Definitions: configs.Definitions,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	manager.LoadPersistedSessions()
//
//	sess, err := manager.Create("", false)
//
// Events from every session engine fan out to Manager.Subscribe observers, and
// keep flowing after Reload rebuilds the engines for changed definitions.
package session
