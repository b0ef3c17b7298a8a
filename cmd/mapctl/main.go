// Command mapctl inspects and maintains map definition files.
//
//	mapctl validate              check collections and the nodes file
//	mapctl analyze --top 5       group counts, tile density and graph size
//	mapctl snap 12.3 45.6        snap a [lat, lng] to the middle of its unit cell
//	mapctl export-nodes -o out   rewrite nodes.json as a normalized {"items": [...]}
//
// The world geometry comes from the server settings file when --config is given.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/wellmap/game/config"
	"github.com/wricardo/wellmap/game/engine"
	"github.com/wricardo/wellmap/transport/export"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mapctl: %v\n", err)
		os.Exit(1)
	}
}

var errInvalidDefinitions = errors.New("definitions have errors")

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "mapctl",
		Usage: "inspect and maintain map definition files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "definitions",
				Aliases: []string{"d"},
				Value:   "definitions",
				Usage:   "directory containing marker collections and nodes.json",
				Sources: cli.EnvVars("WELLMAP_DEFINITIONS"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "server settings file providing the world geometry",
				Sources: cli.EnvVars("WELLMAP_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "validate",
				Usage:  "check definitions for duplicate ids, out-of-range coordinates and broken edges",
				Action: runValidate,
			},
			{
				Name:  "analyze",
				Usage: "print per-group counts, per-tile marker density and node graph size",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "top", Value: 10, Usage: "number of densest tiles to list"},
				},
				Action: runAnalyze,
			},
			{
				Name:      "snap",
				Usage:     "snap a coordinate to the middle of its unit cell",
				ArgsUsage: "<lat> <lng>",
				Action:    runSnap,
			},
			{
				Name:  "export-nodes",
				Usage: "write the node graph as {\"items\": [...]} with symmetric edges",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (stdout when empty)"},
				},
				Action: runExportNodes,
			},
		},
	}
}

// environment loads the definitions manager and world for a command
func environment(cmd *cli.Command) (*config.Manager, engine.World, error) {
	world := engine.DefaultWorld()
	if path := cmd.String("config"); path != "" {
		settings, err := config.LoadSettings(path)
		if err != nil {
			return nil, world, err
		}
		world = settings.World.World()
	}

	configs, err := config.NewManager(cmd.String("definitions"), zap.NewNop())
	if err != nil {
		return nil, world, err
	}
	return configs, world, nil
}

func runValidate(ctx context.Context, cmd *cli.Command) error {
	configs, world, err := environment(cmd)
	if err != nil {
		return err
	}

	results, err := validateDefinitions(configs, world)
	if err != nil {
		return err
	}
	if !printValidation(cmd.Root().Writer, results) {
		return errInvalidDefinitions
	}
	return nil
}

func runAnalyze(ctx context.Context, cmd *cli.Command) error {
	configs, world, err := environment(cmd)
	if err != nil {
		return err
	}

	analysis, err := analyzeDefinitions(configs, world, int(cmd.Int("top")))
	if err != nil {
		return err
	}
	printAnalysis(cmd.Root().Writer, analysis)
	return nil
}

func runSnap(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("snap needs <lat> <lng>")
	}
	lat, err := strconv.ParseFloat(cmd.Args().Get(0), 64)
	if err != nil {
		return fmt.Errorf("invalid lat: %w", err)
	}
	lng, err := strconv.ParseFloat(cmd.Args().Get(1), 64)
	if err != nil {
		return fmt.Errorf("invalid lng: %w", err)
	}

	snapped := engine.Snap(engine.Point{X: lng, Y: lat})
	out, err := json.Marshal(snapped)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, string(out))
	return nil
}

func runExportNodes(ctx context.Context, cmd *cli.Command) error {
	configs, world, err := environment(cmd)
	if err != nil {
		return err
	}
	defs, err := configs.Definitions()
	if err != nil {
		return err
	}

	records := engine.LoadGraph(world, defs.Nodes, engine.ModeViewing).Export()

	if out := cmd.String("out"); out != "" {
		if err := export.NewFileSink(out, zap.NewNop()).Publish(ctx, records); err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "wrote %d nodes to %s\n", len(records), out)
		return nil
	}

	data, err := json.MarshalIndent(export.Payload{Items: records}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, string(data))
	return nil
}
