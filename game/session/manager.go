package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/wellmap/game/engine"
	"github.com/wricardo/wellmap/game/service"
)

var (
	ErrSessionNotFound      = service.ErrSessionNotFound
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrInvalidSessionID     = errors.New("invalid session ID")
)

// Session ids become storage key prefixes, so dots and colons are not allowed
var validSessionID = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ManagerOptions configures a session manager
type ManagerOptions struct {
	// Store holds engine snapshots and session metadata. Defaults to a MemoryStore.
	Store KVStore
	// Definitions supplies the marker and node definitions for new engines
	Definitions func() (engine.Definitions, error)
	World       engine.World
	Sink        engine.ExportSink
	Logger      *zap.Logger
}

// Manager handles exploration session lifecycle. Each session owns an engine whose
// persistence context is the session id.
type Manager struct {
	opts        ManagerOptions
	sessions    map[string]*service.Session
	persistence SessionPersistence
	log         *zap.Logger
	mu          sync.RWMutex

	// node definitions the latest engine was built from
	nodes []engine.NodeRecord

	obsMu  sync.RWMutex
	obsSeq int
	obs    map[int]engine.Observer
}

// NewManager creates a new session manager
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Definitions == nil {
		return nil, fmt.Errorf("session manager requires a definitions source")
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		opts:        opts,
		sessions:    make(map[string]*service.Session),
		persistence: NewStorePersistence(opts.Store),
		log:         opts.Logger,
		obs:         make(map[int]engine.Observer),
	}, nil
}

// Create creates a new session with the given ID. An empty ID is generated.
func (m *Manager) Create(id string, editor bool) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = m.generateSessionID()
	}
	id = strings.ToLower(id)
	if !validSessionID.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}

	if _, exists := m.sessions[id]; exists || m.persistence.Exists(id) {
		return nil, ErrSessionAlreadyExists
	}

	defs, err := m.definitions()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	session, err := m.build(PersistedSessionData{ID: id, Editor: editor, CreatedAt: now, LastAccessedAt: now}, defs)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = session

	if err := m.persistence.Save(metadata(session)); err != nil {
		// Log error but don't fail the creation
		m.log.Warn("failed to persist session", zap.String("session", id), zap.Error(err))
	}

	m.log.Info("session created", zap.String("session", id), zap.Bool("editor", editor))
	return session, nil
}

// definitions loads the current definitions and remembers their nodes. Callers hold m.mu.
func (m *Manager) definitions() (engine.Definitions, error) {
	defs, err := m.opts.Definitions()
	if err != nil {
		return engine.Definitions{}, fmt.Errorf("failed to load definitions: %w", err)
	}
	m.nodes = defs.Nodes
	return defs, nil
}

// build creates the engine for a session. The engine restores its own state from the store.
func (m *Manager) build(data PersistedSessionData, defs engine.Definitions) (*service.Session, error) {
	eng, err := engine.NewEngine(defs, engine.Options{
		World:   m.opts.World,
		Context: data.ID,
		Store:   m.opts.Store,
		Sink:    m.opts.Sink,
		Logger:  m.log.With(zap.String("session", data.ID)),
		Editing: data.Editor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	eng.Subscribe(m.dispatch)

	return &service.Session{
		ID:             data.ID,
		Engine:         eng,
		Editor:         data.Editor,
		CreatedAt:      data.CreatedAt,
		LastAccessedAt: data.LastAccessedAt,
	}, nil
}

func metadata(s *service.Session) PersistedSessionData {
	return PersistedSessionData{
		ID:             s.ID,
		Editor:         s.Editor,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}

// Get retrieves a session by ID (case-insensitive), loading it from the store
// when it is not in memory
func (m *Manager) Get(id string) (*service.Session, error) {
	id = strings.ToLower(id)

	m.mu.RLock()
	session, exists := m.sessions[id]
	m.mu.RUnlock()
	if exists {
		return session, nil
	}

	if !validSessionID.MatchString(id) || !m.persistence.Exists(id) {
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have loaded it meanwhile
	if session, exists := m.sessions[id]; exists {
		return session, nil
	}

	data, err := m.persistence.Load(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted session: %w", err)
	}
	defs, err := m.definitions()
	if err != nil {
		return nil, err
	}
	session, err = m.build(data, defs)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = session
	return session, nil
}

// List returns all active sessions
func (m *Manager) List() []*service.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*service.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Delete removes a session and its persisted state
func (m *Manager) Delete(id string) error {
	id = strings.ToLower(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	_, inMemory := m.sessions[id]
	delete(m.sessions, id)

	if m.persistence.Exists(id) {
		if err := m.persistence.Delete(id); err != nil {
			return fmt.Errorf("failed to delete persisted session: %w", err)
		}
		return nil
	}

	// If not in persistence and not in memory, it doesn't exist
	if !inMemory {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateLastAccessed stamps the access time of a session and returns the stamped
// session. Sessions handed out earlier are never written to: the stamp goes on a
// copy that replaces the stored one, so callers may read their fields without
// holding the manager lock.
func (m *Manager) UpdateLastAccessed(id string) (*service.Session, error) {
	id = strings.ToLower(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	touched := *session
	touched.LastAccessedAt = time.Now()
	m.sessions[id] = &touched

	if err := m.persistence.Save(metadata(&touched)); err != nil {
		m.log.Warn("failed to persist session after access update", zap.String("session", id), zap.Error(err))
	}
	return &touched, nil
}

// CleanupExpiredSessions evicts sessions that haven't been accessed in the given
// duration from memory. Their persisted state is kept and reloaded on next access.
func (m *Manager) CleanupExpiredSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for id, session := range m.sessions {
		if session.LastAccessedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		m.log.Info("evicted idle sessions", zap.Int("count", removed))
	}
	return removed
}

// PruneOrphaned drops in-memory sessions whose metadata was removed from the store
// by another process sharing it. It returns the number of sessions pruned.
func (m *Manager) PruneOrphaned() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for id := range m.sessions {
		if !m.persistence.Exists(id) {
			delete(m.sessions, id)
			pruned++
			m.log.Info("pruned session missing from store", zap.String("session", id))
		}
	}
	return pruned
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// LoadPersistedSessions loads all persisted sessions into memory
func (m *Manager) LoadPersistedSessions() error {
	ids, err := m.persistence.ListAll()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	defs, err := m.definitions()
	if err != nil {
		return err
	}

	loadedCount := 0
	for _, id := range ids {
		// Skip if already loaded in memory
		if _, exists := m.sessions[id]; exists {
			continue
		}

		data, err := m.persistence.Load(id)
		if err != nil {
			m.log.Warn("failed to load persisted session", zap.String("session", id), zap.Error(err))
			continue
		}
		session, err := m.build(data, defs)
		if err != nil {
			m.log.Warn("failed to rebuild persisted session", zap.String("session", id), zap.Error(err))
			continue
		}

		m.sessions[id] = session
		loadedCount++
	}

	if loadedCount > 0 {
		m.log.Info("loaded persisted sessions", zap.Int("count", loadedCount))
	}
	return nil
}

// Reload rebuilds every in-memory session against fresh definitions. User state
// is restored from the store, so found flags and custom groups survive while
// markers that disappeared from the definitions are dropped. Sessions are replaced
// rather than mutated so callers holding the old session are not disturbed.
//
// The node graph is not persisted. Editor sessions keep their unpublished graph
// when the node definitions are unchanged; when they changed, the graph is
// rebuilt from the new definitions and unpublished edits are discarded.
// Reload reads the old engines, so callers must keep them idle meanwhile.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.nodes
	defs, err := m.definitions()
	if err != nil {
		return err
	}
	nodesChanged := !reflect.DeepEqual(previous, defs.Nodes)

	var errs []error
	for id, old := range m.sessions {
		sessionDefs := defs
		if old.Editor && !nodesChanged {
			sessionDefs.Nodes = old.Engine.ExportNodes()
		} else if old.Editor {
			m.log.Warn("node definitions changed, discarding unpublished graph edits", zap.String("session", id))
		}
		session, err := m.build(metadata(old), sessionDefs)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			continue
		}
		m.sessions[id] = session
	}

	m.log.Info("sessions reloaded", zap.Int("count", len(m.sessions)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Subscribe registers an observer for the events of every session, including
// sessions created or rebuilt later. The returned func unsubscribes.
func (m *Manager) Subscribe(fn engine.Observer) func() {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	m.obsSeq++
	id := m.obsSeq
	m.obs[id] = fn
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		delete(m.obs, id)
	}
}

func (m *Manager) dispatch(e engine.Event) {
	m.obsMu.RLock()
	ids := make([]int, 0, len(m.obs))
	for id := range m.obs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]engine.Observer, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.obs[id])
	}
	m.obsMu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// generateSessionID generates a random 4-character session ID that is not in use.
// Callers hold m.mu.
func (m *Manager) generateSessionID() string {
	for {
		// Generate 2 random bytes (4 hex characters)
		bytes := make([]byte, 2)
		rand.Read(bytes)
		id := hex.EncodeToString(bytes)
		if _, exists := m.sessions[id]; !exists && !m.persistence.Exists(id) {
			return id
		}
	}
}
