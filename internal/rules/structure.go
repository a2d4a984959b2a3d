package rules

import "github.com/talgya/hexworld/internal/world"

// Structure is a StructureTemplate anchored at a base position.
type Structure struct {
	Template StructureTemplate
	Base     world.Position

	occupied []world.Position
	index    map[world.Position]struct{}
}

// NewStructure anchors t at base. Occupied positions are base plus each
// footprint offset, at base's vertical coordinate.
func NewStructure(t StructureTemplate, base world.Position) *Structure {
	s := &Structure{
		Template: t,
		Base:     base,
		index:    make(map[world.Position]struct{}, len(t.Footprint)),
	}
	for _, off := range t.Footprint {
		p := base.Add(off.Q, off.R)
		if _, dup := s.index[p]; dup {
			continue
		}
		s.index[p] = struct{}{}
		s.occupied = append(s.occupied, p)
	}
	return s
}

// OccupiedPositions returns the distinct footprint positions in footprint order.
func (s *Structure) OccupiedPositions() []world.Position {
	out := make([]world.Position, len(s.occupied))
	copy(out, s.occupied)
	return out
}

// Occupies reports whether p is one of the structure's positions.
func (s *Structure) Occupies(p world.Position) bool {
	_, ok := s.index[p]
	return ok
}

// CanPlaceAt reports whether every footprint column holds a cell meeting the
// template's terrain and elevation requirements. Cells are looked up by
// column, so a footprint over uneven ground still matches.
func (s *Structure) CanPlaceAt(g *world.Grid) bool {
	req := s.Template.ElevationRequirements
	baseElevation := 0
	if req != nil && req.RelativeToBase {
		if c, ok := g.CellAt(s.Base.Q, s.Base.R); ok {
			baseElevation = c.Elevation
		}
	}

	for _, p := range s.occupied {
		cell, ok := g.CellAt(p.Q, p.R)
		if !ok {
			return false
		}
		if t := s.Template.RequiredTerrain; t != nil && cell.Terrain != *t {
			return false
		}
		if req != nil {
			rel := cell.Elevation - baseElevation
			if rel < req.Min || rel > req.Max {
				return false
			}
		}
	}
	return true
}

// ApplyToGrid writes each footprint offset's terrain, keeping the existing
// elevation of that column. Offsets without a cell are skipped. Callers check
// CanPlaceAt first.
func (s *Structure) ApplyToGrid(g *world.Grid) {
	for _, off := range s.Template.Footprint {
		p := s.Base.Add(off.Q, off.R)
		cell, ok := g.CellAt(p.Q, p.R)
		if !ok {
			continue
		}
		g.AddCell(cell.Position(), off.Terrain, cell.Elevation)
	}
}
