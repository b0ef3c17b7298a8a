package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zyedidia/generic/mapset"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrReadOnly     = errors.New("node graph is read-only")
	ErrSelfEdge     = errors.New("cannot connect a node to itself")
	ErrNoSink       = errors.New("no export sink configured")
)

// Mode controls whether the node graph accepts edits
type Mode string

const (
	ModeViewing Mode = "viewing"
	ModeEditing Mode = "editing"
)

// Graph is the undirected node graph. Nodes live in a table keyed by id and edges
// are stored as id sets on both endpoints.
type Graph struct {
	world   World
	mode    Mode
	nodes   map[int]*Node
	current int
}

// NewGraph creates an empty graph
func NewGraph(world World, mode Mode) *Graph {
	if mode == "" {
		mode = ModeViewing
	}
	return &Graph{world: world, mode: mode, nodes: make(map[int]*Node)}
}

// LoadGraph rebuilds a graph from exported records. References to unknown nodes
// are dropped and one-sided edges are mirrored so the result is symmetric.
func LoadGraph(world World, records []NodeRecord, mode Mode) *Graph {
	g := NewGraph(world, mode)
	for _, rec := range records {
		g.nodes[rec.ID] = &Node{ID: rec.ID, Coords: rec.Coords, Connected: mapset.New[int]()}
	}
	for _, rec := range records {
		for _, other := range rec.Connected {
			if other == rec.ID {
				continue
			}
			if _, ok := g.nodes[other]; !ok {
				continue
			}
			g.link(rec.ID, other)
		}
	}
	return g
}

// Mode returns the current edit mode
func (g *Graph) Mode() Mode {
	return g.mode
}

// SetMode switches between viewing and editing. Leaving edit mode clears the selection.
func (g *Graph) SetMode(mode Mode) {
	g.mode = mode
	if mode != ModeEditing {
		g.current = 0
	}
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns a snapshot of one node
func (g *Graph) Node(id int) (NodeRecord, error) {
	n, ok := g.nodes[id]
	if !ok {
		return NodeRecord{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return n.record(), nil
}

// HasEdge reports whether a and b are connected
func (g *Graph) HasEdge(a, b int) bool {
	n, ok := g.nodes[a]
	return ok && n.Connected.Has(b)
}

// Current returns the selected node id, if any
func (g *Graph) Current() (int, bool) {
	return g.current, g.current != 0
}

func (g *Graph) editable() error {
	if g.mode != ModeEditing {
		return ErrReadOnly
	}
	return nil
}

func (g *Graph) lookup(id int) (*Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return n, nil
}

// AddNode inserts an unconnected node with the next free id (max + 1, or 1)
func (g *Graph) AddNode(p Point) (NodeRecord, error) {
	if err := g.editable(); err != nil {
		return NodeRecord{}, err
	}
	id := 1
	for existing := range g.nodes {
		if existing >= id {
			id = existing + 1
		}
	}
	n := &Node{ID: id, Coords: p, Connected: mapset.New[int]()}
	g.nodes[id] = n
	return n.record(), nil
}

// AddNodeFrom adds a node and, when connect is set and a node is selected, links the
// selection to it. With follow the new node becomes the selection.
func (g *Graph) AddNodeFrom(p Point, connect, follow bool) (NodeRecord, error) {
	rec, err := g.AddNode(p)
	if err != nil {
		return NodeRecord{}, err
	}
	if connect && g.current != 0 {
		g.link(g.current, rec.ID)
	}
	if follow {
		g.current = rec.ID
	}
	return g.nodes[rec.ID].record(), nil
}

// Select makes id the current node. Selecting the current node clears the selection.
func (g *Graph) Select(id int) (int, error) {
	if err := g.editable(); err != nil {
		return 0, err
	}
	if _, err := g.lookup(id); err != nil {
		return 0, err
	}
	if g.current == id {
		g.current = 0
	} else {
		g.current = id
	}
	return g.current, nil
}

// Connect toggles the edge a-b and returns whether the pair is now connected
func (g *Graph) Connect(a, b int) (bool, error) {
	if err := g.editable(); err != nil {
		return false, err
	}
	if a == b {
		return false, ErrSelfEdge
	}
	if _, err := g.lookup(a); err != nil {
		return false, err
	}
	if _, err := g.lookup(b); err != nil {
		return false, err
	}
	if g.HasEdge(a, b) {
		g.unlink(a, b)
		return false, nil
	}
	g.link(a, b)
	return true, nil
}

// Disconnect removes the edge a-b if present
func (g *Graph) Disconnect(a, b int) error {
	if err := g.editable(); err != nil {
		return err
	}
	if _, err := g.lookup(a); err != nil {
		return err
	}
	if _, err := g.lookup(b); err != nil {
		return err
	}
	g.unlink(a, b)
	return nil
}

// DeleteNode removes a node after detaching it from every neighbor
func (g *Graph) DeleteNode(id int) error {
	if err := g.editable(); err != nil {
		return err
	}
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	for _, other := range sortedIDs(n.Connected) {
		g.unlink(id, other)
	}
	delete(g.nodes, id)
	if g.current == id {
		g.current = 0
	}
	return nil
}

// MoveNode updates a node's coordinates. Edges are untouched.
func (g *Graph) MoveNode(id int, p Point) error {
	if err := g.editable(); err != nil {
		return err
	}
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	n.Coords = p
	return nil
}

// Edges returns every undirected edge once as [low, high], sorted
func (g *Graph) Edges() [][2]int {
	edges := [][2]int{}
	for _, id := range g.ids() {
		for _, other := range sortedIDs(g.nodes[id].Connected) {
			if id < other {
				edges = append(edges, [2]int{id, other})
			}
		}
	}
	return edges
}

// Render derives the drawable segment of every edge. The B endpoint is wrap
// adjusted and the indicator sits IndicatorDistance from B' along A->B', scaled
// by the distance between the original points.
func (g *Graph) Render() []EdgeSegment {
	segments := []EdgeSegment{}
	for _, e := range g.Edges() {
		a, b := g.nodes[e[0]].Coords, g.nodes[e[1]].Coords
		to, wrapped := g.world.WrapAdjust(a, b)

		indicator := to
		if d := Distance(a, b); d > 0 {
			k := IndicatorDistance / d
			indicator = Point{X: to.X - (to.X-a.X)*k, Y: to.Y - (to.Y-a.Y)*k}
		}

		segments = append(segments, EdgeSegment{
			A:         e[0],
			B:         e[1],
			From:      a,
			To:        to,
			Indicator: indicator,
			Wrapped:   wrapped,
		})
	}
	return segments
}

// Export returns the serializable node list sorted by id
func (g *Graph) Export() []NodeRecord {
	records := make([]NodeRecord, 0, len(g.nodes))
	for _, id := range g.ids() {
		records = append(records, g.nodes[id].record())
	}
	return records
}

func (g *Graph) ids() []int {
	ids := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// link and unlink always touch both sides before returning
func (g *Graph) link(a, b int) {
	g.nodes[a].Connected.Put(b)
	g.nodes[b].Connected.Put(a)
}

func (g *Graph) unlink(a, b int) {
	if n, ok := g.nodes[a]; ok {
		n.Connected.Remove(b)
	}
	if n, ok := g.nodes[b]; ok {
		n.Connected.Remove(a)
	}
}

func (n *Node) record() NodeRecord {
	return NodeRecord{ID: n.ID, Coords: n.Coords, Connected: sortedIDs(n.Connected)}
}

func sortedIDs(s mapset.Set[int]) []int {
	ids := make([]int, 0, s.Size())
	s.Each(func(id int) {
		ids = append(ids, id)
	})
	sort.Ints(ids)
	return ids
}
