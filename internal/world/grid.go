package world

import (
	"fmt"
	"sort"
)

// Cell is a single hex of a Grid. Elevation is authoritative; the vertical
// coordinate of the cell's position is derived from it.
type Cell struct {
	Q            int     `json:"q"`
	R            int     `json:"r"`
	Terrain      Terrain `json:"terrain"`
	MovementCost int     `json:"movement_cost"`
	Elevation    int     `json:"elevation"`
}

// Position returns the cell's position with z = elevation.
func (c Cell) Position() Position {
	return Position{Q: c.Q, R: c.R, Z: c.Elevation}
}

// Grid holds cells keyed by planar column plus a bounding rectangle that
// only ever grows.
type Grid struct {
	cells  map[Axial]*Cell
	width  int
	height int
}

// NewGrid creates an empty grid with a zero bounding rectangle.
func NewGrid() *Grid {
	return &Grid{cells: make(map[Axial]*Cell)}
}

// NewGridWithSize creates an empty grid with a preset bounding rectangle.
func NewGridWithSize(width, height int) *Grid {
	g := NewGrid()
	g.width = width
	g.height = height
	return g
}

// AddCell inserts or overwrites the cell in pos's column. The position's z is
// normalized to elevation.
//
// The movement cost is the terrain's base cost plus, when the first existing
// neighbor in enumeration order differs in elevation by more than one, twice
// that difference. Only that single neighbor is sampled, so the cost depends
// on which neighbors were inserted before this cell.
func (g *Grid) AddCell(pos Position, terrain Terrain, elevation int) {
	pos.Z = elevation

	cost := terrain.BaseCost()
	if cost != Impassable {
		for _, n := range g.Neighbors(pos) {
			if n.Q == pos.Q && n.R == pos.R {
				continue
			}
			nc, ok := g.Cell(n)
			if !ok {
				continue
			}
			if diff := abs(elevation - nc.Elevation); diff > 1 {
				cost += diff * 2 // steep climbs cost more
			}
			break
		}
	}

	g.cells[pos.Planar()] = &Cell{
		Q:            pos.Q,
		R:            pos.R,
		Terrain:      terrain,
		MovementCost: cost,
		Elevation:    elevation,
	}

	g.width = max(g.width, pos.Q+1)
	g.height = max(g.height, pos.R+1)
}

// Cell returns the cell at exactly pos: the column must hold a cell whose
// elevation equals pos.Z.
func (g *Grid) Cell(pos Position) (Cell, bool) {
	c, ok := g.cells[pos.Planar()]
	if !ok || c.Elevation != pos.Z {
		return Cell{}, false
	}
	return *c, true
}

// CellAt returns the cell in column (q, r) regardless of elevation.
func (g *Grid) CellAt(q, r int) (Cell, bool) {
	c, ok := g.cells[Axial{Q: q, R: r}]
	if !ok {
		return Cell{}, false
	}
	return *c, true
}

// Resolve maps pos onto the cell occupying its column, if any.
func (g *Grid) Resolve(pos Position) Position {
	if c, ok := g.cells[pos.Planar()]; ok {
		return c.Position()
	}
	return pos
}

// Neighbors returns the in-bounds neighbors of pos: the six planar directions
// (resolved to the neighbor column's cell when one exists), then up, then down.
func (g *Grid) Neighbors(pos Position) []Position {
	out := make([]Position, 0, 8)
	for _, dir := range HexNeighborDirections {
		n := g.Resolve(pos.Add(dir.Q, dir.R))
		if g.InBounds(n) {
			out = append(out, n)
		}
	}

	up := Position{Q: pos.Q, R: pos.R, Z: pos.Z + 1}
	down := Position{Q: pos.Q, R: pos.R, Z: pos.Z - 1}
	if g.InBounds(up) {
		out = append(out, up)
	}
	if g.InBounds(down) {
		out = append(out, down)
	}
	return out
}

// InBounds reports whether pos lies inside the bounding rectangle and
// satisfies the elevation rules. A cell at exactly pos applies its terrain's
// elevation window; otherwise pos.Z is checked against the default window.
func (g *Grid) InBounds(pos Position) bool {
	if pos.Q < 0 || pos.Q >= g.width || pos.R < 0 || pos.R >= g.height {
		return false
	}
	if c, ok := g.Cell(pos); ok {
		return c.Terrain.elevationAllowed(c.Elevation)
	}
	return defaultElevationAllowed(pos.Z)
}

// Distance is the grid's distance metric (see Distance).
func (g *Grid) Distance(from, to Position) int {
	return Distance(from, to)
}

// Size returns the bounding rectangle (width, height).
func (g *Grid) Size() (width, height int) {
	return g.width, g.height
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return len(g.cells)
}

// Cells returns a copy of every cell ordered by r, then q.
func (g *Grid) Cells() []Cell {
	out := make([]Cell, 0, len(g.cells))
	for _, c := range g.cells {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].R != out[j].R {
			return out[i].R < out[j].R
		}
		return out[i].Q < out[j].Q
	})
	return out
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := &Grid{
		cells:  make(map[Axial]*Cell, len(g.cells)),
		width:  g.width,
		height: g.height,
	}
	for k, v := range g.cells {
		cell := *v
		c.cells[k] = &cell
	}
	return c
}

// TerrainCounts returns how many cells hold each terrain.
func (g *Grid) TerrainCounts() map[Terrain]int {
	counts := make(map[Terrain]int)
	for _, c := range g.cells {
		counts[c.Terrain]++
	}
	return counts
}

// String returns a summary of the grid.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d, cells=%d)", g.width, g.height, len(g.cells))
}
