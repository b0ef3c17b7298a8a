package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zyedidia/generic/mapset"
)

var (
	ErrMarkerNotFound = errors.New("marker not found")
	ErrGroupNotFound  = errors.New("marker group not found")
	ErrGroupExists    = errors.New("marker group already exists")
	ErrStaticGroup    = errors.New("static marker groups cannot be modified")
	ErrDuplicateID    = errors.New("marker id already in use")
)

// DiagnosticKind classifies a data-quality warning raised while loading
type DiagnosticKind string

const (
	DiagnosticDuplicateID DiagnosticKind = "duplicate_id"
	DiagnosticMissingIcon DiagnosticKind = "missing_icon"
	DiagnosticOutOfRange  DiagnosticKind = "out_of_range"
)

// Diagnostic is a non-fatal loading warning
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind"`
	MarkerID string         `json:"marker_id,omitempty"`
	Group    string         `json:"group,omitempty"`
	Message  string         `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// Registry owns every marker group. Markers handed out by Group and Marker are
// the live shared entities; use CopyGroup for a detached snapshot.
type Registry struct {
	world  World
	groups []*MarkerGroup
	byName map[string]*MarkerGroup
	byID   map[string]*Marker
	owner  map[string]*MarkerGroup
	icons  mapset.Set[string]
}

// LoadRegistry ingests marker collections in order. Duplicate ids are reported
// once each and the later definition replaces the earlier one.
func LoadRegistry(world World, icons []string, collections ...Collection) (*Registry, []Diagnostic) {
	r := &Registry{
		world:  world,
		byName: make(map[string]*MarkerGroup),
		byID:   make(map[string]*Marker),
		owner:  make(map[string]*MarkerGroup),
		icons:  mapset.New[string](),
	}
	for _, icon := range icons {
		r.icons.Put(icon)
	}

	var diags []Diagnostic
	reported := mapset.New[string]()

	for _, col := range collections {
		for _, gd := range col.Groups {
			group := r.byName[gd.Name]
			if group == nil {
				group = &MarkerGroup{
					Name:    gd.Name,
					Label:   gd.Label,
					Section: gd.Section,
					Icon:    gd.Icon,
					Visible: gd.Visible == nil || *gd.Visible,
				}
				if group.Label == "" {
					group.Label = gd.Name
				}
				r.groups = append(r.groups, group)
				r.byName[gd.Name] = group
				if d, ok := r.checkIcon(gd.Icon, "", gd.Name); !ok {
					diags = append(diags, d)
				}
			}

			markerType := gd.Type
			if markerType == "" {
				markerType = gd.Name
			}

			for _, md := range gd.Markers {
				m := &Marker{
					ID:          md.ID,
					Name:        md.Name,
					Description: md.Description,
					Hints:       append([]string(nil), md.Hints...),
					Icon:        md.Icon,
					Type:        markerType,
					Coords:      append([]Point(nil), md.Coords...),
					Variant:     md.Variant(),
					Visible:     !gd.MarkersHidden,
				}

				if prev, dup := r.byID[m.ID]; dup {
					if !reported.Has(m.ID) {
						reported.Put(m.ID)
						diags = append(diags, Diagnostic{
							Kind:     DiagnosticDuplicateID,
							MarkerID: m.ID,
							Group:    gd.Name,
							Message:  fmt.Sprintf("marker id %q defined in %q is redefined in %q", m.ID, r.owner[m.ID].Name, gd.Name),
						})
					}
					r.detach(prev)
				}

				if d, ok := r.checkIcon(m.Icon, m.ID, gd.Name); !ok {
					diags = append(diags, d)
				}
				if d, ok := r.checkRange(m, gd.Name); !ok {
					diags = append(diags, d)
				}

				group.Markers = append(group.Markers, m)
				r.byID[m.ID] = m
				r.owner[m.ID] = group
			}
		}
	}

	return r, diags
}

func (r *Registry) checkIcon(icon, markerID, group string) (Diagnostic, bool) {
	if icon == "" || r.icons.Size() == 0 || r.icons.Has(icon) {
		return Diagnostic{}, true
	}
	return Diagnostic{
		Kind:     DiagnosticMissingIcon,
		MarkerID: markerID,
		Group:    group,
		Message:  fmt.Sprintf("icon %q is not defined", icon),
	}, false
}

func (r *Registry) checkRange(m *Marker, group string) (Diagnostic, bool) {
	points := append(append([]Point(nil), m.Coords...), m.Variant.Points...)
	for _, p := range points {
		if !r.world.Contains(p) {
			return Diagnostic{
				Kind:     DiagnosticOutOfRange,
				MarkerID: m.ID,
				Group:    group,
				Message:  fmt.Sprintf("marker %q has coordinate [%g, %g] outside the world", m.ID, p.Y, p.X),
			}, false
		}
	}
	return Diagnostic{}, true
}

// detach removes a marker from its owning group
func (r *Registry) detach(m *Marker) {
	group := r.owner[m.ID]
	if group == nil {
		return
	}
	for i, existing := range group.Markers {
		if existing == m {
			group.Markers = append(group.Markers[:i], group.Markers[i+1:]...)
			break
		}
	}
	delete(r.owner, m.ID)
	delete(r.byID, m.ID)
}

// Groups returns all groups in load order
func (r *Registry) Groups() []*MarkerGroup {
	return append([]*MarkerGroup(nil), r.groups...)
}

// Group returns the live group with the given name
func (r *Registry) Group(name string) (*MarkerGroup, error) {
	g, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	return g, nil
}

// Marker returns the live marker with the given id
func (r *Registry) Marker(id string) (*Marker, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarkerNotFound, id)
	}
	return m, nil
}

// Len returns the number of registered markers
func (r *Registry) Len() int {
	return len(r.byID)
}

// CopyGroup returns a deep copy of a group that shares nothing with the registry
func (r *Registry) CopyGroup(name string) (MarkerGroup, error) {
	g, err := r.Group(name)
	if err != nil {
		return MarkerGroup{}, err
	}
	return copyGroup(g), nil
}

func copyGroup(g *MarkerGroup) MarkerGroup {
	out := *g
	out.Markers = make([]*Marker, len(g.Markers))
	for i, m := range g.Markers {
		c := *m
		c.Hints = append([]string(nil), m.Hints...)
		c.Coords = append([]Point(nil), m.Coords...)
		c.Variant.Points = append([]Point(nil), m.Variant.Points...)
		out.Markers[i] = &c
	}
	return out
}

// ToggleFound flips a marker's found flag and returns the new value
func (r *Registry) ToggleFound(id string) (bool, error) {
	m, err := r.Marker(id)
	if err != nil {
		return false, err
	}
	m.Found = !m.Found
	return m.Found, nil
}

// SetGroupFound marks every marker in a group as found or not found and
// returns how many markers changed
func (r *Registry) SetGroupFound(name string, found bool) (int, error) {
	g, err := r.Group(name)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, m := range g.Markers {
		if m.Found != found {
			m.Found = found
			changed++
		}
	}
	return changed, nil
}

// FoundIDs returns the sorted ids of all found markers
func (r *Registry) FoundIDs() []string {
	ids := []string{}
	for id, m := range r.byID {
		if m.Found {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ApplyFound resets found flags to exactly the given id list. Unknown ids are ignored.
func (r *Registry) ApplyFound(ids []string) {
	found := mapset.New[string]()
	for _, id := range ids {
		found.Put(id)
	}
	for id, m := range r.byID {
		m.Found = found.Has(id)
	}
}

// SetGroupVisible sets the presentation flag of a group
func (r *Registry) SetGroupVisible(name string, visible bool) error {
	g, err := r.Group(name)
	if err != nil {
		return err
	}
	g.Visible = visible
	return nil
}

// VisibleGroups returns the names of visible groups in load order
func (r *Registry) VisibleGroups() []string {
	names := []string{}
	for _, g := range r.groups {
		if g.Visible {
			names = append(names, g.Name)
		}
	}
	return names
}

// ApplyVisible makes exactly the named groups visible
func (r *Registry) ApplyVisible(names []string) {
	visible := mapset.New[string]()
	for _, name := range names {
		visible.Put(name)
	}
	for _, g := range r.groups {
		g.Visible = visible.Has(g.Name)
	}
}

// PutCustomGroup creates or replaces a user-authored group of point markers.
// Creating requires a fresh name; replacing requires an existing custom group.
func (r *Registry) PutCustomGroup(name string, points []Point, create bool) (*MarkerGroup, error) {
	if name == "" {
		return nil, fmt.Errorf("custom group name cannot be empty")
	}

	g, exists := r.byName[name]
	switch {
	case create && exists:
		return nil, fmt.Errorf("%w: %s", ErrGroupExists, name)
	case !create && !exists:
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	case exists && !g.Custom:
		return nil, fmt.Errorf("%w: %s", ErrStaticGroup, name)
	}

	// Generated ids must not shadow markers of other groups
	ids := make([]string, len(points))
	for i := range points {
		ids[i] = customMarkerID(name, i)
		if owner, taken := r.owner[ids[i]]; taken && owner != g {
			return nil, fmt.Errorf("%w: %s (group %s)", ErrDuplicateID, ids[i], owner.Name)
		}
	}

	if g == nil {
		g = &MarkerGroup{Name: name, Label: name, Custom: true, Visible: true}
		r.groups = append(r.groups, g)
		r.byName[name] = g
	}

	r.forget(g)
	g.Markers = make([]*Marker, 0, len(points))
	for i, p := range points {
		m := &Marker{
			ID:      ids[i],
			Type:    name,
			Coords:  []Point{Snap(p)},
			Visible: true,
		}
		g.Markers = append(g.Markers, m)
		r.byID[m.ID] = m
		r.owner[m.ID] = g
	}
	return g, nil
}

// RemoveCustomGroup deletes a user-authored group and its markers
func (r *Registry) RemoveCustomGroup(name string) error {
	g, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	if !g.Custom {
		return fmt.Errorf("%w: %s", ErrStaticGroup, name)
	}

	r.forget(g)
	delete(r.byName, name)
	for i, existing := range r.groups {
		if existing == g {
			r.groups = append(r.groups[:i], r.groups[i+1:]...)
			break
		}
	}
	return nil
}

// forget drops the id index entries of markers owned by g
func (r *Registry) forget(g *MarkerGroup) {
	for _, m := range g.Markers {
		if r.owner[m.ID] == g {
			delete(r.byID, m.ID)
			delete(r.owner, m.ID)
		}
	}
}

// CustomGroups returns the point table of all custom groups
func (r *Registry) CustomGroups() map[string][]Point {
	out := make(map[string][]Point)
	for _, g := range r.groups {
		if !g.Custom {
			continue
		}
		points := make([]Point, 0, len(g.Markers))
		for _, m := range g.Markers {
			points = append(points, m.Coords...)
		}
		out[g.Name] = points
	}
	return out
}

// RevealedMarkers returns the markers of a group with at least one coordinate on a
// revealed tile. Unindexable coordinates never count.
func (r *Registry) RevealedMarkers(name string, tiles *TileGrid) ([]*Marker, error) {
	g, err := r.Group(name)
	if err != nil {
		return nil, err
	}
	out := []*Marker{}
	for _, m := range g.Markers {
		if r.onRevealedTile(m, tiles) {
			out = append(out, m)
		}
	}
	return out, nil
}

// SetMarkerVisible shows or hides a single marker
func (r *Registry) SetMarkerVisible(id string, visible bool) error {
	m, err := r.Marker(id)
	if err != nil {
		return err
	}
	m.Visible = visible
	return nil
}

// markersOf returns the markers of one group, or of every group when name is empty
func (r *Registry) markersOf(name string) ([]*Marker, error) {
	if name != "" {
		g, err := r.Group(name)
		if err != nil {
			return nil, err
		}
		return g.Markers, nil
	}
	var out []*Marker
	for _, g := range r.groups {
		out = append(out, g.Markers...)
	}
	return out, nil
}

// SetMarkersVisible shows or hides every marker of a group (all groups when
// name is empty) and returns the ids that changed
func (r *Registry) SetMarkersVisible(name string, visible bool) ([]string, error) {
	markers, err := r.markersOf(name)
	if err != nil {
		return nil, err
	}
	changed := []string{}
	for _, m := range markers {
		if m.Visible != visible {
			m.Visible = visible
			changed = append(changed, m.ID)
		}
	}
	return changed, nil
}

// ShowRevealedMarkers makes visible every marker of a group (all groups when name
// is empty) that sits on a revealed tile, and returns the ids that changed
func (r *Registry) ShowRevealedMarkers(name string, tiles *TileGrid) ([]string, error) {
	markers, err := r.markersOf(name)
	if err != nil {
		return nil, err
	}
	changed := []string{}
	for _, m := range markers {
		if !m.Visible && r.onRevealedTile(m, tiles) {
			m.Visible = true
			changed = append(changed, m.ID)
		}
	}
	return changed, nil
}

// VisibleMarkerIDs returns the sorted ids of all visible markers
func (r *Registry) VisibleMarkerIDs() []string {
	ids := []string{}
	for id, m := range r.byID {
		if m.Visible {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ApplyMarkerVisible makes exactly the listed markers visible. Unknown ids are ignored.
func (r *Registry) ApplyMarkerVisible(ids []string) {
	visible := mapset.New[string]()
	for _, id := range ids {
		visible.Put(id)
	}
	for id, m := range r.byID {
		m.Visible = visible.Has(id)
	}
}

func (r *Registry) onRevealedTile(m *Marker, tiles *TileGrid) bool {
	for _, p := range m.Coords {
		if t, ok := r.world.ToTile(p); ok && tiles.IsRevealed(t) {
			return true
		}
	}
	return false
}

func customMarkerID(group string, i int) string {
	return fmt.Sprintf("custom:%s:%d", group, i+1)
}
