package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/hexworld/internal/rules"
	"github.com/talgya/hexworld/internal/world"
)

func terrainPtr(t world.Terrain) *world.Terrain { return &t }

func tower() rules.StructureTemplate {
	return rules.StructureTemplate{
		Name:          "tower",
		StructureType: "Tower",
		Footprint: []rules.HexOffset{
			{Q: 0, R: 0, Terrain: world.TerrainWall},
			{Q: 1, R: 0, Terrain: world.TerrainWall},
			{Q: 0, R: 1, Terrain: world.TerrainRough},
		},
	}
}

func plainPatch(elevation int) *world.Grid {
	g := world.NewGrid()
	for r := 0; r < 4; r++ {
		for q := 0; q < 4; q++ {
			g.AddCell(world.NewPosition2D(q, r), world.TerrainPlain, elevation)
		}
	}
	return g
}

func TestNewStructureOccupiedPositions(t *testing.T) {
	tmpl := tower()
	tmpl.Footprint = append(tmpl.Footprint, rules.HexOffset{Q: 1, R: 0, Terrain: world.TerrainSand})

	s := rules.NewStructure(tmpl, world.NewPosition(2, 1, 4))
	assert.Equal(t, []world.Position{
		world.NewPosition(2, 1, 4),
		world.NewPosition(3, 1, 4),
		world.NewPosition(2, 2, 4),
	}, s.OccupiedPositions())
	assert.True(t, s.Occupies(world.NewPosition(3, 1, 4)))
	assert.False(t, s.Occupies(world.NewPosition(3, 1, 0)))
}

func TestCanPlaceAtRequiresEveryCell(t *testing.T) {
	g := plainPatch(0)
	assert.True(t, rules.NewStructure(tower(), world.NewPosition(0, 0, 0)).CanPlaceAt(g))
	assert.False(t, rules.NewStructure(tower(), world.NewPosition(3, 0, 0)).CanPlaceAt(g), "(4,0) is missing")
}

func TestCanPlaceAtRequiredTerrain(t *testing.T) {
	g := plainPatch(0)
	tmpl := tower()
	tmpl.RequiredTerrain = terrainPtr(world.TerrainPlain)
	s := rules.NewStructure(tmpl, world.NewPosition(1, 1, 0))
	assert.True(t, s.CanPlaceAt(g))

	g.AddCell(world.NewPosition2D(1, 2), world.TerrainSand, 0)
	assert.False(t, s.CanPlaceAt(g))
}

func TestCanPlaceAtElevation(t *testing.T) {
	testCases := []struct {
		name     string
		req      rules.ElevationRequirement
		expected bool
	}{
		{"absolute fits", rules.ElevationRequirement{Min: 2, Max: 5}, true},
		{"absolute too low", rules.ElevationRequirement{Min: 4, Max: 5}, false},
		{"relative fits", rules.ElevationRequirement{Min: 0, Max: 1, RelativeToBase: true}, true},
		{"relative too steep", rules.ElevationRequirement{Min: 0, Max: 0, RelativeToBase: true}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := plainPatch(3)
			g.AddCell(world.NewPosition2D(1, 0), world.TerrainPlain, 4)

			tmpl := tower()
			req := tc.req
			tmpl.ElevationRequirements = &req
			s := rules.NewStructure(tmpl, world.NewPosition(0, 0, 3))
			assert.Equal(t, tc.expected, s.CanPlaceAt(g))
		})
	}
}

func TestApplyToGridKeepsElevation(t *testing.T) {
	g := plainPatch(2)
	g.AddCell(world.NewPosition2D(0, 1), world.TerrainPlain, 5)

	s := rules.NewStructure(tower(), world.NewPosition(0, 0, 2))
	require.True(t, s.CanPlaceAt(g))
	s.ApplyToGrid(g)

	for _, want := range []struct {
		q, r      int
		terrain   world.Terrain
		elevation int
	}{
		{0, 0, world.TerrainWall, 2},
		{1, 0, world.TerrainWall, 2},
		{0, 1, world.TerrainRough, 5},
		{1, 1, world.TerrainPlain, 2},
	} {
		c, ok := g.CellAt(want.q, want.r)
		require.True(t, ok)
		assert.Equal(t, want.terrain, c.Terrain, "(%d,%d)", want.q, want.r)
		assert.Equal(t, want.elevation, c.Elevation, "(%d,%d)", want.q, want.r)
	}
}

func TestApplyToGridSkipsMissingCells(t *testing.T) {
	g := world.NewGrid()
	g.AddCell(world.NewPosition2D(0, 0), world.TerrainPlain, 0)

	rules.NewStructure(tower(), world.NewPosition(0, 0, 0)).ApplyToGrid(g)
	assert.Equal(t, 1, g.Len())
	c, _ := g.CellAt(0, 0)
	assert.Equal(t, world.TerrainWall, c.Terrain)
}

func TestEmptyFootprintFitsAnywhere(t *testing.T) {
	s := rules.NewStructure(rules.StructureTemplate{Name: "marker"}, world.NewPosition(9, 9, 0))
	assert.Empty(t, s.OccupiedPositions())
	assert.True(t, s.CanPlaceAt(world.NewGrid()))
}
