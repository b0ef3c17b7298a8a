package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/wricardo/wellmap/game/config"
	"github.com/wricardo/wellmap/game/engine"
)

// GroupStats summarizes one marker group
type GroupStats struct {
	Collection   string
	Group        string
	Markers      int
	Destinations int
	Sequences    int
}

// TileDensity counts markers whose first coordinate lies in a tile
type TileDensity struct {
	Tile    engine.TileIndex
	Markers int
}

// Analysis is the output of analyzeDefinitions
type Analysis struct {
	World        engine.World
	Groups       []GroupStats
	Densest      []TileDensity
	EmptyTiles   int
	OutsideWorld int
	Nodes        int
	Edges        int
}

// analyzeDefinitions computes per-group counts, per-tile marker density and the
// size of the node graph. top limits the densest tile list.
func analyzeDefinitions(configs *config.Manager, world engine.World, top int) (*Analysis, error) {
	defs, err := configs.Definitions()
	if err != nil {
		return nil, err
	}

	a := &Analysis{World: world}
	density := make(map[engine.TileIndex]int)
	for _, col := range defs.Collections {
		for _, g := range col.Groups {
			stats := GroupStats{Collection: col.Name, Group: g.Name, Markers: len(g.Markers)}
			for _, m := range g.Markers {
				switch m.Variant().Kind {
				case engine.VariantDestination:
					stats.Destinations++
				case engine.VariantSequence:
					stats.Sequences++
				}
				if len(m.Coords) == 0 {
					continue
				}
				tile, ok := world.ToTile(m.Coords[0])
				if !ok {
					a.OutsideWorld++
					continue
				}
				density[tile]++
			}
			a.Groups = append(a.Groups, stats)
		}
	}

	for tile, n := range density {
		a.Densest = append(a.Densest, TileDensity{Tile: tile, Markers: n})
	}
	sort.Slice(a.Densest, func(i, j int) bool {
		di, dj := a.Densest[i], a.Densest[j]
		if di.Markers != dj.Markers {
			return di.Markers > dj.Markers
		}
		if di.Tile.Y != dj.Tile.Y {
			return di.Tile.Y < dj.Tile.Y
		}
		return di.Tile.X < dj.Tile.X
	})
	if top >= 0 && len(a.Densest) > top {
		a.Densest = a.Densest[:top]
	}
	a.EmptyTiles = world.TilesX*world.TilesY - len(density)

	graph := engine.LoadGraph(world, defs.Nodes, engine.ModeViewing)
	a.Nodes = graph.Len()
	a.Edges = len(graph.Edges())

	return a, nil
}

func printAnalysis(w io.Writer, a *Analysis) {
	fmt.Fprintf(w, "World: %gx%g, %dx%d tiles (%gx%g each)\n",
		a.World.Width, a.World.Height, a.World.TilesX, a.World.TilesY,
		a.World.TileWidth(), a.World.TileHeight())

	fmt.Fprintf(w, "\n=== Groups ===\n")
	total := 0
	for _, g := range a.Groups {
		total += g.Markers
		fmt.Fprintf(w, "%-20s %-20s %4d markers", g.Collection, g.Group, g.Markers)
		if g.Destinations > 0 {
			fmt.Fprintf(w, ", %d with destinations", g.Destinations)
		}
		if g.Sequences > 0 {
			fmt.Fprintf(w, ", %d sequences", g.Sequences)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total markers: %d\n", total)

	fmt.Fprintf(w, "\n=== Tile density ===\n")
	for _, d := range a.Densest {
		fmt.Fprintf(w, "tile (%d, %d): %d markers\n", d.Tile.X, d.Tile.Y, d.Markers)
	}
	fmt.Fprintf(w, "Tiles without markers: %d\n", a.EmptyTiles)
	if a.OutsideWorld > 0 {
		fmt.Fprintf(w, "⚠️  Markers outside the world: %d\n", a.OutsideWorld)
	}

	fmt.Fprintf(w, "\n=== Nodes ===\n")
	fmt.Fprintf(w, "Nodes: %d\nEdges: %d\n", a.Nodes, a.Edges)
}
