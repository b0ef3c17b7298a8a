package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Definitions is the static input an engine is built from
type Definitions struct {
	Collections []Collection `json:"collections"`
	Nodes       []NodeRecord `json:"nodes,omitempty"`
	Icons       []string     `json:"icons,omitempty"`
}

// Collection is one source of marker groups, usually one definition file
type Collection struct {
	Name   string            `json:"name"`
	Groups []GroupDefinition `json:"groups"`
}

// GroupDefinition describes a static marker category
type GroupDefinition struct {
	Name    string `json:"name"`
	Label   string `json:"label,omitempty"`
	Section string `json:"section,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Type    string `json:"type,omitempty"`
	Visible *bool  `json:"visible,omitempty"`
	// MarkersHidden starts every marker hidden until the user shows it
	MarkersHidden bool               `json:"markers_hidden,omitempty"`
	Markers       []MarkerDefinition `json:"markers"`
}

// MarkerDefinition is a marker as written in a definition file. It decodes from
// either a bare [id, [lat, lng]] tuple or a structured object.
type MarkerDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Hints       []string `json:"hints,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Coords      Coords   `json:"coords"`
	Destination Coords   `json:"destination,omitempty"`
	Sequence    Coords   `json:"sequence,omitempty"`
}

// Coords decodes a single [lat, lng] pair or a list of pairs
type Coords []Point

// UnmarshalJSON accepts [lat, lng] and [[lat, lng], ...]
func (c *Coords) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("coords must be an array: %w", err)
	}
	if len(raw) == 0 {
		*c = nil
		return nil
	}

	first := bytes.TrimSpace(raw[0])
	if len(first) > 0 && first[0] != '[' {
		var p Point
		if err := p.UnmarshalJSON(data); err != nil {
			return err
		}
		*c = Coords{p}
		return nil
	}

	points := make(Coords, 0, len(raw))
	for i, item := range raw {
		var p Point
		if err := p.UnmarshalJSON(item); err != nil {
			return fmt.Errorf("coords[%d]: %w", i, err)
		}
		points = append(points, p)
	}
	*c = points
	return nil
}

// UnmarshalJSON normalizes tuple markers into the structured form
func (m *MarkerDefinition) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil {
			return err
		}
		if len(tuple) != 2 {
			return fmt.Errorf("marker tuple must be [id, coords], got %d elements", len(tuple))
		}
		id, err := decodeID(tuple[0])
		if err != nil {
			return err
		}
		var coords Coords
		if err := coords.UnmarshalJSON(tuple[1]); err != nil {
			return fmt.Errorf("marker %s: %w", id, err)
		}
		*m = MarkerDefinition{ID: id, Coords: coords}
		return nil
	}

	type plain MarkerDefinition
	var obj struct {
		plain
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = MarkerDefinition(obj.plain)
	if len(obj.ID) > 0 {
		id, err := decodeID(obj.ID)
		if err != nil {
			return err
		}
		m.ID = id
	}
	return nil
}

// decodeID accepts string or numeric ids
func decodeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("marker id must be a string or number: %s", string(raw))
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// Variant derives the tagged variant from the optional destination/sequence fields.
// Destination wins when both are present.
func (m MarkerDefinition) Variant() Variant {
	switch {
	case len(m.Destination) > 0:
		return Variant{Kind: VariantDestination, Points: append([]Point(nil), m.Destination...)}
	case len(m.Sequence) > 0:
		return Variant{Kind: VariantSequence, Points: append([]Point(nil), m.Sequence...)}
	}
	return Variant{Kind: VariantNone}
}

// ParseCollection decodes a marker collection. The document may be an object with
// "groups" or a bare array of groups.
func ParseCollection(name string, data []byte) (Collection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Collection{}, fmt.Errorf("collection %s is empty", name)
	}

	var col Collection
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &col.Groups); err != nil {
			return Collection{}, fmt.Errorf("failed to parse collection %s: %w", name, err)
		}
	} else if err := json.Unmarshal(trimmed, &col); err != nil {
		return Collection{}, fmt.Errorf("failed to parse collection %s: %w", name, err)
	}
	if col.Name == "" {
		col.Name = name
	}
	return col, nil
}

// ParseNodes decodes node records from {"items": [...]} or a bare array
func ParseNodes(data []byte) ([]NodeRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var records []NodeRecord
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to parse nodes: %w", err)
		}
		return records, nil
	}

	var doc struct {
		Items []NodeRecord `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse nodes: %w", err)
	}
	return doc.Items, nil
}

// ValidateWorld checks that the world dimensions describe a usable grid
func ValidateWorld(w World) error {
	if w.Width <= 0 || w.Height <= 0 {
		return fmt.Errorf("world validation: width and height must be positive, got %gx%g", w.Width, w.Height)
	}
	if w.TilesX < MinTilesPerAxis || w.TilesX > MaxTilesPerAxis {
		return fmt.Errorf("world validation: tiles_x must be between %d and %d, got %d", MinTilesPerAxis, MaxTilesPerAxis, w.TilesX)
	}
	if w.TilesY < MinTilesPerAxis || w.TilesY > MaxTilesPerAxis {
		return fmt.Errorf("world validation: tiles_y must be between %d and %d, got %d", MinTilesPerAxis, MaxTilesPerAxis, w.TilesY)
	}
	if !w.ValidTile(w.Home) {
		return fmt.Errorf("world validation: home tile (%d,%d) is outside the %dx%d grid", w.Home.X, w.Home.Y, w.TilesX, w.TilesY)
	}
	return nil
}
