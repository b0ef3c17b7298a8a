package engine

// Palette colors distinguish index-paired destination lines
var Palette = []string{
	"#e6194b",
	"#3cb44b",
	"#4363d8",
	"#f58231",
	"#911eb4",
	"#42d4f4",
	"#f032e6",
	"#bfef45",
}

// DefaultLineColor is used for every line that is not part of a color-coded pairing
const DefaultLineColor = "#ffffff"

// RelatedLines returns the segments to draw while a marker's detail view is open.
// focus selects which of the marker's own coordinates is active and only matters
// for plain multi-point markers.
//
// Resolution order:
//  1. Destination: index-wise pairs when there are several destinations (colored per
//     pair), or every own point to the single destination.
//  2. Sequence: consecutive points form a path.
//  3. Plain: a star from the focused sibling to every other sibling.
func RelatedLines(m *Marker, focus int) []Segment {
	if m == nil {
		return nil
	}

	switch m.Variant.Kind {
	case VariantDestination:
		return destinationLines(m.Coords, m.Variant.Points)
	case VariantSequence:
		return sequenceLines(m.Variant.Points)
	}
	return siblingLines(m.Coords, focus)
}

func destinationLines(own, dest []Point) []Segment {
	segments := []Segment{}
	if len(own) == 0 || len(dest) == 0 {
		return segments
	}

	if len(dest) == 1 {
		for _, p := range own {
			segments = append(segments, Segment{From: p, To: dest[0], Color: DefaultLineColor})
		}
		return segments
	}

	n := min(len(own), len(dest))
	for i := 0; i < n; i++ {
		segments = append(segments, Segment{
			From:  own[i],
			To:    dest[i],
			Color: Palette[i%len(Palette)],
		})
	}
	return segments
}

func sequenceLines(points []Point) []Segment {
	segments := []Segment{}
	for i := 1; i < len(points); i++ {
		segments = append(segments, Segment{From: points[i-1], To: points[i], Color: DefaultLineColor})
	}
	return segments
}

func siblingLines(coords []Point, focus int) []Segment {
	segments := []Segment{}
	if len(coords) < 2 {
		return segments
	}
	if focus < 0 || focus >= len(coords) {
		focus = 0
	}
	for i, p := range coords {
		if i == focus {
			continue
		}
		segments = append(segments, Segment{From: coords[focus], To: p, Color: DefaultLineColor})
	}
	return segments
}
