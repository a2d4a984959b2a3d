package rules

import (
	"fmt"
	"log/slog"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/hexworld/internal/world"
)

const (
	// maxApplyDepth bounds ApplyTemplate actions that apply further templates.
	maxApplyDepth = 8
	// maxAreaRadius bounds the planar radius a condition or action scans.
	maxAreaRadius = 64
	// maxActions bounds the actions one ApplyTemplate call performs,
	// nested applications included.
	maxActions = 4096
)

// Engine holds named templates and applies them to grids. An Engine is not
// safe for concurrent use.
type Engine struct {
	templates map[string]*loadedTemplate
	extended  bool
	noiseSeed int64
	noise     opensimplex.Noise
	logger    *slog.Logger
}

type loadedTemplate struct {
	template *Template
	ordered  []Rule // by descending priority, stable
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtendedSemantics enables the condition and action kinds beyond
// TerrainType, ElevationRange, SetTerrain and SetElevation. Without it every
// other condition is false and every other action does nothing.
func WithExtendedSemantics() Option {
	return func(e *Engine) { e.extended = true }
}

// WithNoiseSeed seeds the noise field used by ApplyNoise.
func WithNoiseSeed(seed int64) Option {
	return func(e *Engine) { e.noiseSeed = seed }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with no templates.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		templates: make(map[string]*loadedTemplate),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.noise = opensimplex.New(e.noiseSeed)
	return e
}

// Extended reports whether extended semantics are enabled.
func (e *Engine) Extended() bool {
	return e.extended
}

// LoadTemplate parses doc and registers the template under its name,
// replacing any template of the same name. Nothing is registered on error.
func (e *Engine) LoadTemplate(doc []byte) error {
	t, err := Parse(doc)
	if err != nil {
		return err
	}
	e.Register(t)
	return nil
}

// Register stores an already-built template.
func (e *Engine) Register(t *Template) {
	ordered := make([]Rule, len(t.Rules))
	copy(ordered, t.Rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	_, replaced := e.templates[t.Name]
	e.templates[t.Name] = &loadedTemplate{template: t, ordered: ordered}
	e.logger.Debug("template loaded", "name", t.Name, "rules", len(t.Rules), "replaced", replaced)
}

// Template returns the registered template with the given name.
func (e *Engine) Template(name string) (*Template, bool) {
	lt, ok := e.templates[name]
	if !ok {
		return nil, false
	}
	return lt.template, true
}

// Templates returns registered template names in sorted order.
func (e *Engine) Templates() []string {
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove unregisters a template. It reports whether one was present.
func (e *Engine) Remove(name string) bool {
	if _, ok := e.templates[name]; !ok {
		return false
	}
	delete(e.templates, name)
	return true
}

// ApplyTemplate applies the first rule of the named template whose
// conditions all hold at pos. It returns false when the template is unknown
// or no rule matches. Conditions and actions address the cell in pos's
// column. Nested applications stop after maxApplyDepth levels, and at most
// maxActions actions run in total.
func (e *Engine) ApplyTemplate(name string, grid *world.Grid, pos world.Position) bool {
	budget := maxActions
	return e.apply(name, grid, pos, 0, &budget)
}

func (e *Engine) apply(name string, grid *world.Grid, pos world.Position, depth int, budget *int) bool {
	lt, ok := e.templates[name]
	if !ok {
		return false
	}
	for _, rule := range lt.ordered {
		if !e.allHold(rule.Conditions, grid, pos) {
			continue
		}
		e.logger.Debug("rule matched", "template", name, "rule", rule.Name, "pos", pos.String())
		for _, a := range rule.Actions {
			if *budget <= 0 {
				if *budget == 0 {
					e.logger.Warn("action budget exhausted", "template", name, "limit", maxActions)
					*budget--
				}
				break
			}
			*budget--
			e.perform(a.Action, grid, pos, depth, budget)
		}
		return true
	}
	return false
}

func (e *Engine) allHold(conds []AnyCondition, grid *world.Grid, pos world.Position) bool {
	for _, c := range conds {
		if !e.holds(c.Condition, grid, pos) {
			return false
		}
	}
	return true
}

func (e *Engine) holds(c Condition, grid *world.Grid, pos world.Position) bool {
	cell, found := grid.CellAt(pos.Q, pos.R)

	switch c := c.(type) {
	case *TerrainTypeCondition:
		return found && cell.Terrain == c.Terrain
	case *ElevationRangeCondition:
		return found && cell.Elevation >= c.Min && cell.Elevation <= c.Max
	}
	if !e.extended {
		return false
	}

	switch c := c.(type) {
	case *AndCondition:
		return e.allHold(c.Conditions, grid, pos)
	case *OrCondition:
		for _, sub := range c.Conditions {
			if e.holds(sub.Condition, grid, pos) {
				return true
			}
		}
		return false
	case *NotCondition:
		return c.Condition.Condition != nil && !e.holds(c.Condition.Condition, grid, pos)
	case *NearWaterCondition:
		return nearTerrain(grid, pos, c.Distance, world.TerrainWater)
	case *TemplateExistsCondition:
		_, ok := e.templates[c.TemplateName]
		return ok
	}
	return false
}

func (e *Engine) perform(a Action, grid *world.Grid, pos world.Position, depth int, budget *int) {
	cell, found := grid.CellAt(pos.Q, pos.R)

	switch a := a.(type) {
	case *SetTerrainAction:
		if found {
			grid.AddCell(cell.Position(), a.Terrain, cell.Elevation)
		}
		return
	case *SetElevationAction:
		if found {
			grid.AddCell(cell.Position(), cell.Terrain, a.Elevation)
		}
		return
	}
	if !e.extended {
		return
	}

	switch a := a.(type) {
	case *PlaceStructureAction:
		s := NewStructure(a.Structure, grid.Resolve(pos))
		if s.CanPlaceAt(grid) {
			s.ApplyToGrid(grid)
		} else {
			e.logger.Debug("structure does not fit", "structure", a.Structure.Name, "pos", pos.String())
		}
	case *ApplyTemplateAction:
		if depth >= maxApplyDepth {
			e.logger.Warn("template nesting too deep", "template", a.TemplateName, "depth", depth)
			return
		}
		e.apply(a.TemplateName, grid, pos, depth+1, budget)
	case *ModifyTerrainAction:
		if err := modifyTerrain(grid, pos, a.Radius, a.Operation); err != nil {
			e.logger.Debug("modify terrain skipped", "error", err)
		}
	case *ApplyNoiseAction:
		if err := e.applyNoise(grid, pos, a); err != nil {
			e.logger.Debug("noise skipped", "error", err)
		}
	}
}

// nearTerrain reports whether a cell of terrain t lies within planar
// distance d of pos. d is capped at maxAreaRadius.
func nearTerrain(grid *world.Grid, pos world.Position, d int, t world.Terrain) bool {
	for _, a := range world.Range(pos.Planar(), min(d, maxAreaRadius)) {
		if c, ok := grid.CellAt(a.Q, a.R); ok && c.Terrain == t {
			return true
		}
	}
	return false
}

// modifyTerrain changes the elevation of every cell within radius of pos.
// Smooth averages each cell with its existing planar neighbors, reading the
// elevations as they were before the operation. radius is capped at
// maxAreaRadius.
func modifyTerrain(grid *world.Grid, pos world.Position, radius int, op TerrainOperation) error {
	area := world.Range(pos.Planar(), min(radius, maxAreaRadius))

	var next func(c world.Cell) int
	switch op.Type {
	case "Raise":
		next = func(c world.Cell) int { return c.Elevation + op.Amount }
	case "Lower":
		next = func(c world.Cell) int { return c.Elevation - op.Amount }
	case "Flatten":
		next = func(world.Cell) int { return op.Target }
	case "Smooth":
		before := grid.Clone()
		next = func(c world.Cell) int {
			sum, n := c.Elevation, 1
			for _, a := range c.Position().Planar().Neighbors() {
				if nc, ok := before.CellAt(a.Q, a.R); ok {
					sum += nc.Elevation
					n++
				}
			}
			return roundDiv(sum, n)
		}
	default:
		return fmt.Errorf("terrain operation %q not supported", op.Type)
	}

	for _, a := range area {
		c, ok := grid.CellAt(a.Q, a.R)
		if !ok {
			continue
		}
		grid.AddCell(c.Position(), c.Terrain, clampElevation(next(c)))
	}
	return nil
}

func roundDiv(sum, n int) int {
	if sum >= 0 {
		return (sum + n/2) / n
	}
	return -((-sum + n/2) / n)
}

func clampElevation(e int) int {
	return min(max(e, world.MinElevation), world.MaxElevation)
}
