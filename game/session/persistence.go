package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// sessionKeyPrefix scopes session metadata inside the shared KVStore
const sessionKeyPrefix = "session:"

// SessionPersistence defines the interface for persisting session metadata.
// Engine state is persisted by the engine itself under "<id>.<suffix>" keys.
type SessionPersistence interface {
	// Save persists session metadata
	Save(data PersistedSessionData) error

	// Load retrieves session metadata by ID
	Load(id string) (PersistedSessionData, error)

	// Delete removes the metadata and every engine key of the session
	Delete(id string) error

	// ListAll returns all persisted session IDs
	ListAll() ([]string, error)

	// Exists checks if a session exists in storage
	Exists(id string) bool
}

// PersistedSessionData represents the JSON structure for persisted sessions
type PersistedSessionData struct {
	ID             string    `json:"id"`
	Editor         bool      `json:"editor"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// StorePersistence implements SessionPersistence on a KVStore
type StorePersistence struct {
	store KVStore
}

// NewStorePersistence creates a persistence layer over store
func NewStorePersistence(store KVStore) *StorePersistence {
	return &StorePersistence{store: store}
}

func (p *StorePersistence) Save(data PersistedSessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}
	if err := p.store.Set(sessionKeyPrefix+data.ID, string(raw)); err != nil {
		return fmt.Errorf("failed to save session %s: %w", data.ID, err)
	}
	return nil
}

func (p *StorePersistence) Load(id string) (PersistedSessionData, error) {
	raw, ok, err := p.store.Get(sessionKeyPrefix + id)
	if err != nil {
		return PersistedSessionData{}, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	if !ok {
		return PersistedSessionData{}, ErrSessionNotFound
	}

	var data PersistedSessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return PersistedSessionData{}, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	if data.ID == "" {
		data.ID = id
	}
	return data, nil
}

func (p *StorePersistence) Delete(id string) error {
	if !p.Exists(id) {
		return ErrSessionNotFound
	}

	keys, err := p.store.Keys(id + ".")
	if err != nil {
		return fmt.Errorf("failed to list session keys: %w", err)
	}
	for _, k := range append(keys, sessionKeyPrefix+id) {
		if err := p.store.Delete(k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return nil
}

func (p *StorePersistence) ListAll() ([]string, error) {
	keys, err := p.store.Keys(sessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list persisted sessions: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, sessionKeyPrefix))
	}
	return ids, nil
}

func (p *StorePersistence) Exists(id string) bool {
	_, ok, err := p.store.Get(sessionKeyPrefix + id)
	return err == nil && ok
}
