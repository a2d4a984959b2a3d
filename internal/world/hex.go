// Package world provides the hex grid, terrain, pathfinding, and chunked world generation.
// Planar positions use axial coordinates (q, r); z is the vertical (elevation) coordinate.
package world

import "fmt"

// Position is a hex position: axial (q, r) plus a vertical z coordinate.
type Position struct {
	Q int `json:"q"`
	R int `json:"r"`
	Z int `json:"z"`
}

// NewPosition returns a position at (q, r) with vertical coordinate z.
func NewPosition(q, r, z int) Position {
	return Position{Q: q, R: r, Z: z}
}

// NewPosition2D returns a position at (q, r) on the z = 0 plane.
func NewPosition2D(q, r int) Position {
	return Position{Q: q, R: r}
}

// Cube returns the cube coordinates (x, y, z) of the planar part of p.
// x = q, z = r, y = -x - z.
func (p Position) Cube() (x, y, z int) {
	x = p.Q
	z = p.R
	y = -x - z
	return x, y, z
}

// Planar returns the axial column p lies in.
func (p Position) Planar() Axial {
	return Axial{Q: p.Q, R: p.R}
}

// Add returns p shifted by (dq, dr), keeping z.
func (p Position) Add(dq, dr int) Position {
	return Position{Q: p.Q + dq, R: p.R + dr, Z: p.Z}
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.Q, p.R, p.Z)
}

// Distance returns the combined planar and vertical travel cost between a and b:
// the cube-coordinate hex distance plus |a.Z - b.Z|.
func Distance(a, b Position) int {
	x1, y1, z1 := a.Cube()
	x2, y2, z2 := b.Cube()
	planar := (abs(x1-x2) + abs(y1-y2) + abs(z1-z2)) / 2
	return planar + abs(a.Z-b.Z)
}

// Axial is a planar hex column. Grid cells are keyed by it.
type Axial struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (a Axial) S() int {
	return -a.Q - a.R
}

// HexNeighborDirections defines the six planar neighbor offsets in enumeration order:
// E, NE, NW, W, SW, SE.
var HexNeighborDirections = [6]Axial{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent columns.
func (a Axial) Neighbors() [6]Axial {
	var result [6]Axial
	for i, dir := range HexNeighborDirections {
		result[i] = Axial{Q: a.Q + dir.Q, R: a.R + dir.R}
	}
	return result
}

// PlanarDistance returns the hex distance between two columns.
func PlanarDistance(a, b Axial) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	// Max of the three absolute differences in cube coordinates.
	m := dq
	if dr > m {
		m = dr
	}
	if ds > m {
		m = ds
	}
	return m
}

// Range returns every column within radius of center, ordered by q then r.
func Range(center Axial, radius int) []Axial {
	if radius < 0 {
		return nil
	}
	out := make([]Axial, 0, 3*radius*(radius+1)+1)
	for dq := -radius; dq <= radius; dq++ {
		lo := max(-radius, -dq-radius)
		hi := min(radius, -dq+radius)
		for dr := lo; dr <= hi; dr++ {
			out = append(out, Axial{Q: center.Q + dq, R: center.R + dr})
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
