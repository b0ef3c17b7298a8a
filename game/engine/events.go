package engine

import "sort"

// EventType names a notification emitted to observers
type EventType string

const (
	EventTileRevealed      EventType = "tile_revealed"
	EventTileHidden        EventType = "tile_hidden"
	EventMarkerFound       EventType = "marker_found"
	EventVisibilityChanged EventType = "marker_visibility_changed"
	EventGroupsChanged     EventType = "groups_changed"
	EventNodesChanged      EventType = "nodes_changed"
	EventNavigate          EventType = "navigate"
)

// Event is delivered synchronously to every observer after a state change
type Event struct {
	Type     EventType   `json:"type"`
	Context  string      `json:"context,omitempty"`
	Tiles    []TileIndex `json:"tiles,omitempty"`
	MarkerID string      `json:"marker_id,omitempty"`
	Markers  []string    `json:"markers,omitempty"`
	Found    *bool       `json:"found,omitempty"`
	Group    string      `json:"group,omitempty"`
	Visible  *bool       `json:"visible,omitempty"`
	Viewport *Viewport   `json:"viewport,omitempty"`
}

// Observer receives engine events
type Observer func(Event)

type observers struct {
	next  int
	funcs map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	if o.funcs == nil {
		o.funcs = make(map[int]Observer)
	}
	o.next++
	id := o.next
	o.funcs[id] = fn
	return func() {
		delete(o.funcs, id)
	}
}

// emit notifies observers in registration order
func (o *observers) emit(e Event) {
	ids := make([]int, 0, len(o.funcs))
	for id := range o.funcs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := o.funcs[id]; ok {
			fn(e)
		}
	}
}
