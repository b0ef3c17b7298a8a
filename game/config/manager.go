package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wricardo/wellmap/game/engine"
	"github.com/wricardo/wellmap/game/service"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Reserved file names inside the definitions directory
const (
	NodesFile = "nodes.json"
	IconsFile = "icons.json"
)

// Manager loads marker collections, node records and icon names from a
// definitions directory and caches them until the next refresh.
type Manager struct {
	dir         string
	log         *zap.Logger
	collections map[string]engine.Collection
	defs        *engine.Definitions
	mu          sync.RWMutex
}

// NewManager creates a definitions manager rooted at dir
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("definitions directory does not exist: %s", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		dir:         dir,
		log:         logger,
		collections: make(map[string]engine.Collection),
	}, nil
}

// Dir returns the definitions directory
func (m *Manager) Dir() string {
	return m.dir
}

// LoadCollection loads one marker collection by name (file name without extension)
func (m *Manager) LoadCollection(name string) (engine.Collection, error) {
	m.mu.RLock()
	if col, exists := m.collections[name]; exists {
		m.mu.RUnlock()
		return col, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCollectionLocked(name)
}

func (m *Manager) loadCollectionLocked(name string) (engine.Collection, error) {
	if col, exists := m.collections[name]; exists {
		return col, nil
	}

	path, err := m.findCollectionFile(name)
	if err != nil {
		return engine.Collection{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Collection{}, fmt.Errorf("failed to read collection file: %w", err)
	}

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return engine.Collection{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, filepath.Base(path), err)
		}
	}

	col, err := engine.ParseCollection(name, data)
	if err != nil {
		return engine.Collection{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	m.collections[name] = col
	return col, nil
}

func (m *Manager) findCollectionFile(name string) (string, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(m.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrConfigNotFound, name)
}

// CollectionNames returns the sorted collection names found in the directory
func (m *Manager) CollectionNames() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
			continue
		}
		if entry.Name() == NodesFile || entry.Name() == IconsFile {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListCollections returns a summary of every valid collection
func (m *Manager) ListCollections() ([]*service.CollectionInfo, error) {
	names, err := m.CollectionNames()
	if err != nil {
		return nil, err
	}

	var infos []*service.CollectionInfo
	for _, name := range names {
		col, err := m.LoadCollection(name)
		if err != nil {
			m.log.Warn("skipping invalid collection", zap.String("collection", name), zap.Error(err))
			continue
		}

		info := &service.CollectionInfo{Name: name, Groups: len(col.Groups)}
		for _, g := range col.Groups {
			info.Markers += len(g.Markers)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Definitions returns every collection plus node and icon definitions
func (m *Manager) Definitions() (engine.Definitions, error) {
	m.mu.RLock()
	if m.defs != nil {
		defs := *m.defs
		m.mu.RUnlock()
		return defs, nil
	}
	m.mu.RUnlock()

	names, err := m.CollectionNames()
	if err != nil {
		return engine.Definitions{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var defs engine.Definitions
	for _, name := range names {
		col, err := m.loadCollectionLocked(name)
		if err != nil {
			return engine.Definitions{}, err
		}
		defs.Collections = append(defs.Collections, col)
	}

	if data, err := os.ReadFile(filepath.Join(m.dir, NodesFile)); err == nil {
		nodes, err := engine.ParseNodes(data)
		if err != nil {
			return engine.Definitions{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		defs.Nodes = nodes
	} else if !os.IsNotExist(err) {
		return engine.Definitions{}, fmt.Errorf("failed to read nodes file: %w", err)
	}

	if data, err := os.ReadFile(filepath.Join(m.dir, IconsFile)); err == nil {
		if err := json.Unmarshal(data, &defs.Icons); err != nil {
			return engine.Definitions{}, fmt.Errorf("%w: icons: %v", ErrInvalidConfig, err)
		}
	} else if !os.IsNotExist(err) {
		return engine.Definitions{}, fmt.Errorf("failed to read icons file: %w", err)
	}

	m.defs = &defs
	m.log.Info("definitions loaded",
		zap.Int("collections", len(defs.Collections)),
		zap.Int("nodes", len(defs.Nodes)),
		zap.Int("icons", len(defs.Icons)))
	return defs, nil
}

// RefreshCache drops every cached definition so the next call rereads the disk
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]engine.Collection)
	m.defs = nil
}

// SaveCollection writes a collection as indented JSON and updates the cache
func (m *Manager) SaveCollection(name string, col engine.Collection) error {
	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err)
	}

	path := filepath.Join(m.dir, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write collection file: %w", err)
	}

	m.mu.Lock()
	m.collections[name] = col
	m.defs = nil
	m.mu.Unlock()
	return nil
}

// IsDefinitionFile reports whether path has a definition file extension
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON re-encodes a YAML document so the JSON decoders handle both formats
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
