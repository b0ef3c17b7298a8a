package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Storage key suffixes. Keys are scoped as "<context>.<suffix>".
const (
	KeyTiles        = "tiles"
	KeyFound        = "found"
	KeyVisible      = "visible"
	KeyCustomGroups = "custom-groups"
	KeyMarkerShown  = "marker-visible"
)

// Store is the key-value persistence capability the engine snapshots into
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// ExportSink receives the exported node list in editor mode
type ExportSink interface {
	Publish(ctx context.Context, records []NodeRecord) error
}

// Options configures an engine
type Options struct {
	World   World
	Context string
	Store   Store
	Sink    ExportSink
	Logger  *zap.Logger
	Editing bool
}

// Engine ties the tile grid, marker registry and node graph together, persists
// their user state and notifies observers. It is not safe for concurrent use.
type Engine struct {
	world    World
	context  string
	store    Store
	sink     ExportSink
	log      *zap.Logger
	tiles    *TileGrid
	registry *Registry
	graph    *Graph
	diags    []Diagnostic
	obs      observers
}

// NewEngine loads the definitions and restores persisted user state. The engine is
// fully loaded when returned.
func NewEngine(defs Definitions, opts Options) (*Engine, error) {
	if opts.World == (World{}) {
		opts.World = DefaultWorld()
	}
	if err := ValidateWorld(opts.World); err != nil {
		return nil, err
	}
	if opts.Context == "" {
		opts.Context = "default"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	mode := ModeViewing
	if opts.Editing {
		mode = ModeEditing
	}

	registry, diags := LoadRegistry(opts.World, defs.Icons, defs.Collections...)
	e := &Engine{
		world:    opts.World,
		context:  opts.Context,
		store:    opts.Store,
		sink:     opts.Sink,
		log:      opts.Logger.With(zap.String("context", opts.Context)),
		tiles:    NewTileGrid(opts.World),
		registry: registry,
		graph:    LoadGraph(opts.World, defs.Nodes, mode),
		diags:    diags,
	}

	for _, d := range diags {
		e.log.Warn("definition warning",
			zap.String("kind", string(d.Kind)),
			zap.String("marker_id", d.MarkerID),
			zap.String("group", d.Group),
			zap.String("message", d.Message))
	}

	if err := e.restore(); err != nil {
		return nil, err
	}
	return e, nil
}

// restore applies every persisted key that is present
func (e *Engine) restore() error {
	if e.store == nil {
		return nil
	}

	if raw, ok, err := e.get(KeyTiles); err != nil {
		return err
	} else if ok {
		if err := e.tiles.Load(raw); err != nil {
			e.log.Warn("discarding stored tile state", zap.Error(err))
		}
	}

	if raw, ok, err := e.get(KeyCustomGroups); err != nil {
		return err
	} else if ok {
		var table map[string][]Point
		if err := json.Unmarshal([]byte(raw), &table); err != nil {
			e.log.Warn("discarding stored custom groups", zap.Error(err))
		} else {
			names := make([]string, 0, len(table))
			for name := range table {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if _, err := e.registry.PutCustomGroup(name, table[name], true); err != nil {
					e.log.Warn("skipping stored custom group", zap.String("group", name), zap.Error(err))
				}
			}
		}
	}

	if raw, ok, err := e.get(KeyFound); err != nil {
		return err
	} else if ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			e.log.Warn("discarding stored found list", zap.Error(err))
		} else {
			e.registry.ApplyFound(ids)
		}
	}

	if raw, ok, err := e.get(KeyVisible); err != nil {
		return err
	} else if ok {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			e.log.Warn("discarding stored visible groups", zap.Error(err))
		} else {
			e.registry.ApplyVisible(names)
		}
	}

	if raw, ok, err := e.get(KeyMarkerShown); err != nil {
		return err
	} else if ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			e.log.Warn("discarding stored marker visibility", zap.Error(err))
		} else {
			e.registry.ApplyMarkerVisible(ids)
		}
	}

	return nil
}

func (e *Engine) key(suffix string) string {
	return e.context + "." + suffix
}

func (e *Engine) get(suffix string) (string, bool, error) {
	v, ok, err := e.store.Get(e.key(suffix))
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", e.key(suffix), err)
	}
	return v, ok, nil
}

// persist writes one key. Failures are logged and never abort the mutation.
func (e *Engine) persist(suffix string, value any) {
	if e.store == nil {
		return
	}

	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			e.log.Warn("failed to encode state", zap.String("key", e.key(suffix)), zap.Error(err))
			return
		}
		raw = string(data)
	}

	if err := e.store.Set(e.key(suffix), raw); err != nil {
		e.log.Warn("failed to persist state", zap.String("key", e.key(suffix)), zap.Error(err))
	}
}

func (e *Engine) persistTiles() {
	raw, err := e.tiles.Marshal()
	if err != nil {
		e.log.Warn("failed to encode tiles", zap.Error(err))
		return
	}
	e.persist(KeyTiles, raw)
}

// Subscribe registers an observer and returns a function that removes it
func (e *Engine) Subscribe(fn Observer) func() {
	return e.obs.add(fn)
}

// World returns the world geometry
func (e *Engine) World() World {
	return e.world
}

// Context returns the storage scope of this engine
func (e *Engine) Context() string {
	return e.context
}

// Diagnostics returns the warnings raised while loading definitions
func (e *Engine) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), e.diags...)
}

// Tiles returns the live tile grid. Mutate it through the engine so changes persist.
func (e *Engine) Tiles() *TileGrid {
	return e.tiles
}

// Registry returns the live marker registry
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Graph returns the live node graph
func (e *Engine) Graph() *Graph {
	return e.graph
}

// ToggleTile flips one tile
func (e *Engine) ToggleTile(t TileIndex) (bool, error) {
	revealed, err := e.tiles.Toggle(t)
	if err != nil {
		return false, err
	}
	e.persistTiles()
	e.emitTiles(revealed, []TileIndex{t})
	return revealed, nil
}

// SetTile sets one tile to an explicit state
func (e *Engine) SetTile(t TileIndex, revealed bool) error {
	if err := e.tiles.SetRevealed(t, revealed); err != nil {
		return err
	}
	e.persistTiles()
	e.emitTiles(revealed, []TileIndex{t})
	return nil
}

// RevealAll reveals the whole grid
func (e *Engine) RevealAll() {
	e.tiles.RevealAll()
	e.persistTiles()
	e.emitTiles(true, nil)
}

// HideAll hides the whole grid except home
func (e *Engine) HideAll() {
	e.tiles.HideAll()
	e.persistTiles()
	e.emitTiles(false, nil)
}

// EncodedTiles returns the compact shareable tile state
func (e *Engine) EncodedTiles() string {
	return e.tiles.EncodeBits()
}

// LoadEncodedTiles replaces the tile state with a compact encoding
func (e *Engine) LoadEncodedTiles(encoded string) error {
	if err := e.tiles.DecodeBits(encoded); err != nil {
		return err
	}
	e.persistTiles()
	e.emitTiles(true, nil)
	return nil
}

func (e *Engine) emitTiles(revealed bool, tiles []TileIndex) {
	typ := EventTileHidden
	if revealed {
		typ = EventTileRevealed
	}
	e.obs.emit(Event{Type: typ, Context: e.context, Tiles: tiles})
}

// ToggleFound flips a marker's found flag and persists the found list
func (e *Engine) ToggleFound(id string) (bool, error) {
	found, err := e.registry.ToggleFound(id)
	if err != nil {
		return false, err
	}
	e.persist(KeyFound, e.registry.FoundIDs())
	e.obs.emit(Event{Type: EventMarkerFound, Context: e.context, MarkerID: id, Found: &found})
	return found, nil
}

// SetGroupFound marks a whole group as found or not found
func (e *Engine) SetGroupFound(group string, found bool) (int, error) {
	changed, err := e.registry.SetGroupFound(group, found)
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		e.persist(KeyFound, e.registry.FoundIDs())
		e.obs.emit(Event{Type: EventMarkerFound, Context: e.context, Group: group, Found: &found})
	}
	return changed, nil
}

// SetGroupVisible changes a group's presentation flag and persists the visible list
func (e *Engine) SetGroupVisible(group string, visible bool) error {
	if err := e.registry.SetGroupVisible(group, visible); err != nil {
		return err
	}
	e.persist(KeyVisible, e.registry.VisibleGroups())
	e.obs.emit(Event{Type: EventVisibilityChanged, Context: e.context, Group: group, Visible: &visible})
	return nil
}

// SetMarkerVisible shows or hides one marker and persists the visible marker list
func (e *Engine) SetMarkerVisible(id string, visible bool) error {
	if err := e.registry.SetMarkerVisible(id, visible); err != nil {
		return err
	}
	e.persist(KeyMarkerShown, e.registry.VisibleMarkerIDs())
	e.obs.emit(Event{Type: EventVisibilityChanged, Context: e.context, MarkerID: id, Visible: &visible})
	return nil
}

// SetMarkersVisible shows or hides every marker of a group, or of all groups
// when group is empty. It returns the number of markers that changed.
func (e *Engine) SetMarkersVisible(group string, visible bool) (int, error) {
	changed, err := e.registry.SetMarkersVisible(group, visible)
	if err != nil {
		return 0, err
	}
	e.markersShown(group, changed, visible)
	return len(changed), nil
}

// ShowRevealedMarkers shows the hidden markers that sit on revealed tiles
func (e *Engine) ShowRevealedMarkers(group string) (int, error) {
	changed, err := e.registry.ShowRevealedMarkers(group, e.tiles)
	if err != nil {
		return 0, err
	}
	e.markersShown(group, changed, true)
	return len(changed), nil
}

func (e *Engine) markersShown(group string, ids []string, visible bool) {
	if len(ids) == 0 {
		return
	}
	e.persist(KeyMarkerShown, e.registry.VisibleMarkerIDs())
	e.obs.emit(Event{Type: EventVisibilityChanged, Context: e.context, Group: group, Markers: ids, Visible: &visible})
}

// RelatedLines resolves the lines to draw for a marker's detail view
func (e *Engine) RelatedLines(id string, focus int) ([]Segment, error) {
	m, err := e.registry.Marker(id)
	if err != nil {
		return nil, err
	}
	return RelatedLines(m, focus), nil
}

// RevealedMarkers returns copies of the markers of a group that sit on revealed tiles
func (e *Engine) RevealedMarkers(group string) ([]Marker, error) {
	markers, err := e.registry.RevealedMarkers(group, e.tiles)
	if err != nil {
		return nil, err
	}
	out := make([]Marker, 0, len(markers))
	for _, m := range markers {
		out = append(out, *m)
	}
	return out, nil
}

// SaveCustomGroup creates (create=true) or replaces a custom group. Points are snapped.
func (e *Engine) SaveCustomGroup(name string, points []Point, create bool) (MarkerGroup, error) {
	g, err := e.registry.PutCustomGroup(name, points, create)
	if err != nil {
		return MarkerGroup{}, err
	}
	e.persist(KeyCustomGroups, e.registry.CustomGroups())
	e.persist(KeyVisible, e.registry.VisibleGroups())
	e.persist(KeyMarkerShown, e.registry.VisibleMarkerIDs())
	e.obs.emit(Event{Type: EventGroupsChanged, Context: e.context, Group: name})
	return copyGroup(g), nil
}

// DeleteCustomGroup removes a custom group
func (e *Engine) DeleteCustomGroup(name string) error {
	if err := e.registry.RemoveCustomGroup(name); err != nil {
		return err
	}
	e.persist(KeyCustomGroups, e.registry.CustomGroups())
	e.persist(KeyVisible, e.registry.VisibleGroups())
	e.persist(KeyMarkerShown, e.registry.VisibleMarkerIDs())
	e.obs.emit(Event{Type: EventGroupsChanged, Context: e.context, Group: name})
	return nil
}

// SetEditing switches the node graph between editing and viewing
func (e *Engine) SetEditing(editing bool) {
	if editing {
		e.graph.SetMode(ModeEditing)
		return
	}
	e.graph.SetMode(ModeViewing)
}

// AddNode adds a node, optionally connecting it to the selection and selecting it
func (e *Engine) AddNode(p Point, connect, follow bool) (NodeRecord, error) {
	rec, err := e.graph.AddNodeFrom(p, connect, follow)
	if err != nil {
		return NodeRecord{}, err
	}
	e.nodesChanged()
	return rec, nil
}

// SelectNode toggles the selection and returns the selected id, 0 for none
func (e *Engine) SelectNode(id int) (int, error) {
	return e.graph.Select(id)
}

// ConnectNodes toggles the edge a-b
func (e *Engine) ConnectNodes(a, b int) (bool, error) {
	connected, err := e.graph.Connect(a, b)
	if err != nil {
		return false, err
	}
	e.nodesChanged()
	return connected, nil
}

// DisconnectNodes removes the edge a-b
func (e *Engine) DisconnectNodes(a, b int) error {
	if err := e.graph.Disconnect(a, b); err != nil {
		return err
	}
	e.nodesChanged()
	return nil
}

// DeleteNode removes a node and its edges
func (e *Engine) DeleteNode(id int) error {
	if err := e.graph.DeleteNode(id); err != nil {
		return err
	}
	e.nodesChanged()
	return nil
}

// MoveNode moves a node
func (e *Engine) MoveNode(id int, p Point) error {
	if err := e.graph.MoveNode(id, p); err != nil {
		return err
	}
	e.nodesChanged()
	return nil
}

// RenderNodes returns the drawable edges
func (e *Engine) RenderNodes() []EdgeSegment {
	return e.graph.Render()
}

// ExportNodes returns the serializable node list
func (e *Engine) ExportNodes() []NodeRecord {
	return e.graph.Export()
}

// PublishNodes snapshots the exported node list and hands it to the configured
// sink in the background. Delivery failures are logged, not returned. The
// returned channel is closed once the sink has finished.
func (e *Engine) PublishNodes(ctx context.Context) (int, <-chan struct{}, error) {
	if err := e.graph.editable(); err != nil {
		return 0, nil, err
	}
	if e.sink == nil {
		return 0, nil, ErrNoSink
	}

	records := e.graph.Export()
	done := make(chan struct{})
	go func(ctx context.Context) {
		defer close(done)
		if err := e.sink.Publish(ctx, records); err != nil {
			e.log.Warn("failed to publish nodes", zap.Int("count", len(records)), zap.Error(err))
			return
		}
		e.log.Info("published nodes", zap.Int("count", len(records)))
	}(context.WithoutCancel(ctx))
	return len(records), done, nil
}

func (e *Engine) nodesChanged() {
	e.obs.emit(Event{Type: EventNodesChanged, Context: e.context})
}
