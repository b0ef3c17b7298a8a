package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wricardo/wellmap/game/config"
	"github.com/wricardo/wellmap/game/engine"
)

// ValidationResult captures the outcome of validating a single definition file.
// Notes holds informational lines for valid files.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
	Notes  []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// validateDefinitions checks every collection in the directory plus the nodes
// file. Marker ids must be unique across all collections.
func validateDefinitions(configs *config.Manager, world engine.World) ([]ValidationResult, error) {
	names, err := configs.CollectionNames()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string) // marker id -> collection
	var results []ValidationResult
	for _, name := range names {
		results = append(results, validateCollection(configs, name, world, seen))
	}

	nodesPath := filepath.Join(configs.Dir(), config.NodesFile)
	if data, err := os.ReadFile(nodesPath); err == nil {
		results = append(results, validateNodes(data, world))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read nodes file: %w", err)
	}

	return results, nil
}

func validateCollection(configs *config.Manager, name string, world engine.World, seen map[string]string) ValidationResult {
	result := ValidationResult{File: name, Valid: true}

	col, err := configs.LoadCollection(name)
	if err != nil {
		result.fail("Failed to parse: %v", err)
		return result
	}

	markers := 0
	for gi, g := range col.Groups {
		if g.Name == "" {
			result.fail("Group %d has no name", gi+1)
		}
		for _, m := range g.Markers {
			markers++
			if m.ID == "" {
				result.fail("Marker without id in group %s", g.Name)
				continue
			}
			if prev, dup := seen[m.ID]; dup {
				result.fail("Duplicate marker id %s (also in %s)", m.ID, prev)
			} else {
				seen[m.ID] = name
			}
			if len(m.Coords) == 0 {
				result.fail("Marker %s has no coordinates", m.ID)
			}
			for _, p := range m.Coords {
				if !world.Contains(p) {
					result.fail("Marker %s coordinate [%g, %g] is outside the %gx%g world", m.ID, p.Y, p.X, world.Width, world.Height)
				}
			}
			for _, p := range m.Destination {
				if !world.Contains(p) {
					result.fail("Marker %s destination [%g, %g] is outside the world", m.ID, p.Y, p.X)
				}
			}
		}
	}

	if result.Valid {
		result.Notes = append(result.Notes,
			fmt.Sprintf("✓ Groups: %d", len(col.Groups)),
			fmt.Sprintf("✓ Markers: %d", markers))
	}
	return result
}

// validateNodes reports dangling, asymmetric and self edges in a nodes file
func validateNodes(data []byte, world engine.World) ValidationResult {
	result := ValidationResult{File: config.NodesFile, Valid: true}

	records, err := engine.ParseNodes(data)
	if err != nil {
		result.fail("Failed to parse: %v", err)
		return result
	}

	byID := make(map[int]engine.NodeRecord, len(records))
	for _, rec := range records {
		if _, dup := byID[rec.ID]; dup {
			result.fail("Duplicate node id %d", rec.ID)
		}
		byID[rec.ID] = rec
	}

	edges := 0
	for _, rec := range records {
		if !world.Contains(rec.Coords) {
			result.fail("Node %d at [%g, %g] is outside the world", rec.ID, rec.Coords.Y, rec.Coords.X)
		}
		for _, other := range rec.Connected {
			switch peer, ok := byID[other]; {
			case other == rec.ID:
				result.fail("Node %d is connected to itself", rec.ID)
			case !ok:
				result.fail("Node %d is connected to missing node %d", rec.ID, other)
			case !connectedTo(peer, rec.ID):
				result.fail("Edge %d-%d is only listed on node %d", rec.ID, other, rec.ID)
			default:
				edges++
			}
		}
	}

	if result.Valid {
		result.Notes = append(result.Notes,
			fmt.Sprintf("✓ Nodes: %d", len(records)),
			fmt.Sprintf("✓ Edges: %d", edges/2))
	}
	return result
}

func connectedTo(rec engine.NodeRecord, id int) bool {
	for _, c := range rec.Connected {
		if c == id {
			return true
		}
	}
	return false
}

// printValidation writes a report and returns whether every file is valid
func printValidation(w io.Writer, results []ValidationResult) bool {
	sort.SliceStable(results, func(i, j int) bool { return results[i].File < results[j].File })

	allValid := true
	for _, result := range results {
		fmt.Fprintf(w, "\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Fprintln(w, "✅ VALID")
			for _, note := range result.Notes {
				fmt.Fprintln(w, "  "+note)
			}
		} else {
			fmt.Fprintln(w, "❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Fprintln(w, "  ❌ "+err)
			}
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Fprintln(w, "✅ All definitions are valid!")
	} else {
		fmt.Fprintln(w, "❌ Some definitions have errors")
	}
	return allValid
}
