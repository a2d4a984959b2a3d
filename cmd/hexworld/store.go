package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/talgya/hexworld/internal/config"
	"github.com/talgya/hexworld/internal/persistence"
	"github.com/talgya/hexworld/internal/rules"
	"github.com/talgya/hexworld/internal/world"
)

type store struct {
	db    *persistence.DB
	world *world.WorldMap
}

// openStore opens the database and restores its world, or starts a fresh
// one when nothing is saved yet.
func openStore(cfg config.Config) (*store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	slog.Debug("database opened", "path", cfg.DBPath)

	saved, err := db.HasWorldState()
	if err != nil {
		db.Close()
		return nil, err
	}

	var w *world.WorldMap
	switch {
	case saved:
		if w, err = db.LoadWorld(); err != nil {
			db.Close()
			return nil, fmt.Errorf("load world: %w", err)
		}
		if w.ChunkSize() != cfg.ChunkSize {
			slog.Warn("stored chunk size differs from config, keeping stored",
				"stored", w.ChunkSize(), "config", cfg.ChunkSize)
		}
		if cfg.Seed != nil && *cfg.Seed != w.Seed() {
			slog.Warn("stored seed differs from config, keeping stored", "stored", w.Seed(), "config", *cfg.Seed)
		}
	case cfg.Seed != nil:
		w = world.NewWorldMapWithSeed(cfg.ChunkSize, *cfg.Seed)
	default:
		w = world.NewWorldMap(cfg.ChunkSize)
	}
	w.SetLogger(slog.Default())
	return &store{db: db, world: w}, nil
}

// newEngine builds a rule engine holding the stored templates, then the
// templates found in the configured directories. Later loads replace
// earlier ones of the same name.
func newEngine(cfg config.Config, db *persistence.DB) (*rules.Engine, error) {
	opts := []rules.Option{rules.WithNoiseSeed(cfg.NoiseSeed), rules.WithLogger(slog.Default())}
	if cfg.ExtendedRules {
		opts = append(opts, rules.WithExtendedSemantics())
	}
	engine := rules.NewEngine(opts...)

	if db != nil {
		records, err := db.TemplateDocuments()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if err := engine.LoadTemplate([]byte(rec.Document)); err != nil {
				slog.Warn("skipping stored template", "template", rec.Name, "error", err)
			}
		}
	}

	for _, dir := range cfg.TemplateDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("template dir: %w", err)
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			doc, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			if err := engine.LoadTemplate(doc); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	slog.Info("rule templates loaded", "count", len(engine.Templates()), "extended", engine.Extended())
	return engine, nil
}

func newAreaGenerator(cfg config.Config) (*world.AreaGenerator, error) {
	var g *world.AreaGenerator
	if cfg.Seed != nil {
		g = world.NewAreaGeneratorWithSeed(*cfg.Seed)
	} else {
		g = world.NewAreaGenerator()
	}
	for _, t := range cfg.AreaTemplates {
		if err := g.RegisterTemplate(t); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// parseHex reads "q,r".
func parseHex(s string) (world.Position, error) {
	qs, rs, ok := strings.Cut(s, ",")
	if !ok {
		return world.Position{}, fmt.Errorf("hex %q: want q,r", s)
	}
	q, err := strconv.Atoi(strings.TrimSpace(qs))
	if err != nil {
		return world.Position{}, fmt.Errorf("hex %q: %w", s, err)
	}
	r, err := strconv.Atoi(strings.TrimSpace(rs))
	if err != nil {
		return world.Position{}, fmt.Errorf("hex %q: %w", s, err)
	}
	return world.NewPosition2D(q, r), nil
}
