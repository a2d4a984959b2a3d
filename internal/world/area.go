// Area generation from named weighted-distribution templates. Unlike the
// WorldMap, an area is generated in one piece at the origin.
package world

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/talgya/hexworld/internal/entropy"
)

// TerrainWeight is one entry of a terrain distribution.
type TerrainWeight struct {
	Terrain Terrain `json:"terrain" yaml:"terrain"`
	Weight  float64 `json:"weight" yaml:"weight"`
}

// StructureWeight is one entry of a structure distribution.
type StructureWeight struct {
	Structure StructureType `json:"structure" yaml:"structure"`
	Weight    float64       `json:"weight" yaml:"weight"`
}

// AreaTemplate describes an area: its size and weighted terrain and structure
// distributions. Weights are sampled in declaration order.
type AreaTemplate struct {
	Name       string            `json:"name" yaml:"name"`
	Width      int               `json:"width" yaml:"width"`
	Height     int               `json:"height" yaml:"height"`
	Terrain    []TerrainWeight   `json:"terrain" yaml:"terrain"`
	Structures []StructureWeight `json:"structures" yaml:"structures"`
}

// Validate checks the template's size and weights.
func (t AreaTemplate) Validate() error {
	if t.Name == "" {
		return errors.New("area template: empty name")
	}
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("area template %q: size %dx%d must be positive", t.Name, t.Width, t.Height)
	}
	for _, w := range t.Terrain {
		if w.Weight < 0 {
			return fmt.Errorf("area template %q: negative weight for %s", t.Name, w.Terrain)
		}
	}
	for _, w := range t.Structures {
		if w.Weight < 0 {
			return fmt.Errorf("area template %q: negative weight for %s", t.Name, w.Structure)
		}
		if !w.Structure.Valid() {
			return fmt.Errorf("area template %q: unknown structure %q", t.Name, w.Structure)
		}
	}
	return nil
}

// structureChance is the per-cell probability of rolling a structure at all.
const structureChance = 0.3

// AreaGenerator builds areas from registered templates. It owns a generator
// independent of any WorldMap's.
type AreaGenerator struct {
	templates map[string]AreaTemplate
	rng       *rand.Rand
}

// NewAreaGenerator creates a generator seeded from process randomness.
func NewAreaGenerator() *AreaGenerator {
	return NewAreaGeneratorWithSeed(entropy.Seed())
}

// NewAreaGeneratorWithSeed creates a reproducible generator with the built-in
// "town" and "forest" templates.
func NewAreaGeneratorWithSeed(seed uint64) *AreaGenerator {
	g := &AreaGenerator{
		templates: make(map[string]AreaTemplate),
		rng:       rand.New(newSource(seed)),
	}
	for _, t := range builtinAreaTemplates() {
		g.templates[keyFor(t.Name)] = t
	}
	return g
}

func builtinAreaTemplates() []AreaTemplate {
	return []AreaTemplate{
		{
			Name:   "Town",
			Width:  20,
			Height: 20,
			Terrain: []TerrainWeight{
				{Terrain: TerrainPlain, Weight: 0.8},
				{Terrain: TerrainRough, Weight: 0.2},
			},
			Structures: []StructureWeight{
				{Structure: StructureHouse, Weight: 0.3},
				{Structure: StructureShop, Weight: 0.1},
				{Structure: StructureInn, Weight: 0.05},
			},
		},
		{
			Name:   "Forest",
			Width:  30,
			Height: 30,
			Terrain: []TerrainWeight{
				{Terrain: TerrainPlain, Weight: 0.6},
				{Terrain: TerrainRough, Weight: 0.4},
			},
			Structures: []StructureWeight{
				{Structure: StructureTree, Weight: 0.5},
				{Structure: StructureBush, Weight: 0.2},
			},
		},
	}
}

// RegisterTemplate adds or replaces a template. Lookup is by lower-cased name.
func (g *AreaGenerator) RegisterTemplate(t AreaTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	g.templates[keyFor(t.Name)] = t
	return nil
}

// Template returns a registered template.
func (g *AreaGenerator) Template(name string) (AreaTemplate, bool) {
	t, ok := g.templates[name]
	return t, ok
}

// Templates returns the registered template keys, sorted.
func (g *AreaGenerator) Templates() []string {
	names := make([]string, 0, len(g.templates))
	for k := range g.templates {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GenerateMap builds a fresh area from the named template. It returns false
// for unknown names. The chunk reports position (0,0) and the Plains biome.
func (g *AreaGenerator) GenerateMap(name string) (*MapChunk, bool) {
	t, ok := g.templates[name]
	if !ok {
		return nil, false
	}

	grid := NewGrid()
	structures := make(map[Position]StructureType)

	for q := 0; q < t.Width; q++ {
		for r := 0; r < t.Height; r++ {
			pos := NewPosition2D(q, r)
			terrain := g.selectTerrain(t.Terrain)
			elevation := g.rng.IntN(5)
			grid.AddCell(pos, terrain, elevation)

			if s, ok := g.selectStructure(t.Structures); ok {
				pos.Z = elevation
				structures[pos] = s
			}
		}
	}

	return &MapChunk{
		Position:   ChunkPosition{},
		Grid:       grid,
		Structures: structures,
		Biome:      BiomePlains,
	}, true
}

// selectTerrain samples by cumulative weight, falling back to Plain.
func (g *AreaGenerator) selectTerrain(dist []TerrainWeight) Terrain {
	total := 0.0
	for _, w := range dist {
		total += w.Weight
	}
	value := g.rng.Float64() * total
	for _, w := range dist {
		value -= w.Weight
		if value <= 0 {
			return w.Terrain
		}
	}
	return TerrainPlain
}

// selectStructure rolls the structure chance, then samples by cumulative
// weight. Exhausting the distribution places nothing.
func (g *AreaGenerator) selectStructure(dist []StructureWeight) (StructureType, bool) {
	if g.rng.Float64() > structureChance {
		return "", false
	}
	total := 0.0
	for _, w := range dist {
		total += w.Weight
	}
	value := g.rng.Float64() * total
	for _, w := range dist {
		value -= w.Weight
		if value <= 0 {
			return w.Structure, true
		}
	}
	return "", false
}

func keyFor(name string) string {
	return strings.ToLower(name)
}
