// Command hexworld generates, inspects and serves a chunked hex world.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/hexworld/internal/api"
	"github.com/talgya/hexworld/internal/config"
	"github.com/talgya/hexworld/internal/rules"
	"github.com/talgya/hexworld/internal/world"
)

func main() {
	var configFile string
	var debug bool
	var cfg config.Config

	var cmdRoot = &cobra.Command{
		Use:   "hexworld",
		Short: "Hex world generator and rule engine",
		Long:  `Generate chunked hex worlds, find paths, apply rule templates, and serve the world over HTTP.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configFile); err != nil {
				return err
			}
			level, _ := cfg.Level()
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	cmdRoot.PersistentFlags().StringVarP(&configFile, "config", "c", "", "load configuration from file")
	cmdRoot.PersistentFlags().BoolVar(&debug, "debug", false, "log debugging information")

	cmdRoot.AddCommand(cmdGenerate(&cfg))
	cmdRoot.AddCommand(cmdChunks(&cfg))
	cmdRoot.AddCommand(cmdArea(&cfg))
	cmdRoot.AddCommand(cmdPath(&cfg))
	cmdRoot.AddCommand(cmdApply(&cfg))
	cmdRoot.AddCommand(cmdServe(&cfg))

	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

func cmdGenerate(cfg *config.Config) *cobra.Command {
	radius := 1
	var cmd = &cobra.Command{
		Use:          "generate",
		Short:        "generate the square of chunks around the origin and store them",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if radius < 0 {
				return fmt.Errorf("radius must not be negative")
			}
			st, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer st.db.Close()

			before := st.world.ChunkCount()
			for y := -radius; y <= radius; y++ {
				for x := -radius; x <= radius; x++ {
					st.world.GetOrGenerateChunk(world.ChunkPosition{X: x, Y: y})
				}
			}
			if err := st.db.SaveWorld(st.world); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks (%d new), seed %d\n",
				cfg.DBPath, st.world.ChunkCount(), st.world.ChunkCount()-before, st.world.Seed())
			return nil
		},
	}
	cmd.Flags().IntVarP(&radius, "radius", "r", radius, "chunks to generate on each side of the origin")
	return cmd
}

func cmdChunks(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:          "chunks",
		Short:        "list stored chunks",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer st.db.Close()

			summaries, err := st.db.ChunkSummaries()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var total uint64
			for _, s := range summaries {
				fmt.Fprintf(out, "%-10s %-9s %4d cells %3d structures %8s\n",
					s.Position, s.Biome, s.Cells, s.Structures, humanize.Bytes(uint64(s.Bytes)))
				total += uint64(s.Bytes)
			}
			fmt.Fprintf(out, "%d chunks, %s\n", len(summaries), humanize.Bytes(total))
			return nil
		},
	}
}

func cmdArea(cfg *config.Config) *cobra.Command {
	var outputFile string
	var cmd = &cobra.Command{
		Use:          "area <template>",
		Short:        "generate an area from a named template and print it as JSON",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			areas, err := newAreaGenerator(*cfg)
			if err != nil {
				return err
			}
			chunk, ok := areas.GenerateMap(args[0])
			if !ok {
				return fmt.Errorf("unknown area template %q (have %v)", args[0], areas.Templates())
			}
			return writeOutput(cmd.OutOrStdout(), outputFile, chunk.Snapshot())
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the area to file")
	return cmd
}

func cmdPath(cfg *config.Config) *cobra.Command {
	var dijkstra bool
	var cmd = &cobra.Command{
		Use:          "path <q,r> <q,r>",
		Short:        "find a path between two hexes of the same chunk",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseHex(args[0])
			if err != nil {
				return err
			}
			to, err := parseHex(args[1])
			if err != nil {
				return err
			}
			st, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer st.db.Close()

			cp := st.world.ChunkPositionForHex(from)
			if cp != st.world.ChunkPositionForHex(to) {
				return fmt.Errorf("%s and %s lie in different chunks", from, to)
			}
			before := st.world.ChunkCount()
			grid := st.world.GetOrGenerateChunk(cp).Grid
			if st.world.ChunkCount() != before {
				if err := st.db.SaveWorld(st.world); err != nil {
					return err
				}
			}

			opts := world.PathOptions{MaxExpanded: cfg.PathBudget, Dijkstra: dijkstra}
			path, err := grid.FindPathContext(cmd.Context(), from, to, opts)
			if err != nil {
				return err
			}
			if path == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no path")
				return nil
			}
			cost, _ := grid.PathCost(path)
			for _, p := range path {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d steps, cost %d\n", len(path)-1, cost)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dijkstra, "dijkstra", false, "search without the distance heuristic")
	return cmd
}

func cmdApply(cfg *config.Config) *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "apply <template-file> <q,r>",
		Short:        "apply a rule template document at a hex and store the result",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			t, err := rules.Parse(doc)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			hex, err := parseHex(args[1])
			if err != nil {
				return err
			}

			st, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer st.db.Close()

			engine, err := newEngine(*cfg, st.db)
			if err != nil {
				return err
			}
			engine.Register(t)
			if err := st.db.SaveTemplate(t.Name, t.Description, doc); err != nil {
				return err
			}

			chunk := st.world.GetOrGenerateChunk(st.world.ChunkPositionForHex(hex))
			if !engine.ApplyTemplate(t.Name, chunk.Grid, hex) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no rule matched at %s\n", t.Name, hex)
				return nil
			}
			if err := st.db.SaveWorld(st.world); err != nil {
				return err
			}
			cell, _ := chunk.Grid.CellAt(hex.Q, hex.R)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s is now %s at elevation %d\n",
				t.Name, cell.Position(), cell.Terrain, cell.Elevation)
			return nil
		},
	}
	return cmd
}

func cmdServe(cfg *config.Config) *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "serve",
		Short:        "serve the world over HTTP",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer st.db.Close()

			engine, err := newEngine(*cfg, st.db)
			if err != nil {
				return err
			}
			areas, err := newAreaGenerator(*cfg)
			if err != nil {
				return err
			}

			srv := &api.Server{
				World:       st.world,
				Areas:       areas,
				Rules:       engine,
				DB:          st.db,
				Port:        cfg.Port,
				AdminKey:    cfg.AdminKey,
				CORSOrigins: cfg.CORSOrigins,
				PathBudget:  cfg.PathBudget,
				RateLimit:   cfg.RateLimit,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("HTTP server error", "error", err)
			}

			slog.Info("saving world before exit...")
			if err := st.db.SaveWorld(st.world); err != nil {
				return fmt.Errorf("final save: %w", err)
			}
			slog.Info("world saved, goodbye")
			return nil
		},
	}
	return cmd
}

func writeOutput(stdout io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		_, err = fmt.Fprintf(stdout, "%s\n", data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	slog.Info("wrote area", "path", path, "size", humanize.Bytes(uint64(len(data))))
	return nil
}
