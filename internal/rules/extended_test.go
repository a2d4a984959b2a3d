package rules_test

import (
	"bytes"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/hexworld/internal/rules"
	"github.com/talgya/hexworld/internal/world"
)

func hexGrid(radius int, terrain world.Terrain, elevation int) *world.Grid {
	g := world.NewGrid()
	for _, a := range world.Range(world.Axial{Q: radius, R: radius}, radius) {
		g.AddCell(world.NewPosition2D(a.Q, a.R), terrain, elevation)
	}
	return g
}

func load(t *testing.T, e *rules.Engine, doc string) {
	t.Helper()
	require.NoError(t, e.LoadTemplate([]byte(doc)))
}

func TestExtendedCombinators(t *testing.T) {
	doc := `
name: combinators
description: boolean logic
rules:
  - name: not-water-and-low
    priority: 0
    conditions:
      - type: And
        conditions:
          - type: Not
            condition: {type: TerrainType, terrain: Water}
          - type: Or
            conditions:
              - {type: ElevationRange, min: 5, max: 9}
              - {type: ElevationRange, min: 0, max: 1}
    actions:
      - {type: SetTerrain, params: {terrain: Sand}}
`
	g := world.NewGrid()
	g.AddCell(world.NewPosition2D(0, 0), world.TerrainPlain, 1)
	g.AddCell(world.NewPosition2D(5, 5), world.TerrainWater, 0)
	g.AddCell(world.NewPosition2D(8, 8), world.TerrainPlain, 3)

	e := rules.NewEngine(rules.WithExtendedSemantics())
	load(t, e, doc)

	assert.True(t, e.ApplyTemplate("combinators", g, world.NewPosition2D(0, 0)))
	assert.False(t, e.ApplyTemplate("combinators", g, world.NewPosition2D(5, 5)))
	assert.False(t, e.ApplyTemplate("combinators", g, world.NewPosition2D(8, 8)))

	c, _ := g.CellAt(0, 0)
	assert.Equal(t, world.TerrainSand, c.Terrain)
}

func TestExtendedNearWaterAndTemplateExists(t *testing.T) {
	doc := `
name: shore
description: mark cells near water
rules:
  - name: shore
    priority: 0
    conditions:
      - {type: NearWater, distance: 2}
      - {type: TemplateExists, template_name: shore}
    actions:
      - {type: SetTerrain, params: {terrain: Sand}}
`
	g := world.NewGrid()
	for q := 0; q < 5; q++ {
		g.AddCell(world.NewPosition2D(q, 0), world.TerrainPlain, 0)
	}
	g.AddCell(world.NewPosition2D(0, 0), world.TerrainWater, 0)

	e := rules.NewEngine(rules.WithExtendedSemantics())
	load(t, e, doc)

	assert.True(t, e.ApplyTemplate("shore", g, world.NewPosition2D(2, 0)))
	assert.False(t, e.ApplyTemplate("shore", g, world.NewPosition2D(4, 0)))
}

func TestExtendedModifyTerrain(t *testing.T) {
	testCases := []struct {
		name      string
		operation string
		center    int
		ring      int
	}{
		{"raise", "{type: Raise, amount: 3}", 5, 5},
		{"lower", "{type: Lower, amount: 1}", 1, 1},
		{"flatten", "{type: Flatten, target: 7}", 7, 7},
		// lowering below the elevation window clamps
		{"clamped", "{type: Lower, amount: 40}", world.MinElevation, world.MinElevation},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := hexGrid(3, world.TerrainPlain, 2)
			e := rules.NewEngine(rules.WithExtendedSemantics())
			load(t, e, `
name: shape
description: reshape
rules:
  - name: shape
    priority: 0
    conditions: []
    actions:
      - type: ModifyTerrain
        params:
          radius: 1
          operation: `+tc.operation+`
`)
			center := world.NewPosition2D(3, 3)
			require.True(t, e.ApplyTemplate("shape", g, center))

			c, _ := g.CellAt(3, 3)
			assert.Equal(t, tc.center, c.Elevation)
			n, _ := g.CellAt(4, 3)
			assert.Equal(t, tc.ring, n.Elevation)
			far, _ := g.CellAt(6, 3)
			assert.Equal(t, 2, far.Elevation, "outside the radius")
		})
	}
}

func TestExtendedSmooth(t *testing.T) {
	g := hexGrid(2, world.TerrainPlain, 0)
	g.AddCell(world.NewPosition2D(2, 2), world.TerrainPlain, 14)

	e := rules.NewEngine(rules.WithExtendedSemantics())
	load(t, e, `
name: smooth
description: smooth a spike
rules:
  - name: smooth
    priority: 0
    conditions: []
    actions:
      - {type: ModifyTerrain, params: {radius: 0, operation: {type: Smooth}}}
`)
	require.True(t, e.ApplyTemplate("smooth", g, world.NewPosition2D(2, 2)))
	c, _ := g.CellAt(2, 2)
	assert.Equal(t, 2, c.Elevation) // (14 + 6*0) / 7
}

func TestExtendedPlaceStructure(t *testing.T) {
	doc := `
name: hut
description: place a hut on plain ground
rules:
  - name: hut
    priority: 0
    conditions: []
    actions:
      - type: PlaceStructure
        params:
          structure:
            name: hut
            structure_type: House
            footprint:
              - {q: 0, r: 0, terrain: Wall}
              - {q: 1, r: 0, terrain: Wall}
            required_terrain: Plain
            tags: []
            variants: []
            generation_rules: {min_spacing: 1}
            connections: []
`
	g := world.NewGrid()
	g.AddCell(world.NewPosition2D(0, 0), world.TerrainPlain, 2)
	g.AddCell(world.NewPosition2D(1, 0), world.TerrainPlain, 3)
	g.AddCell(world.NewPosition2D(3, 0), world.TerrainPlain, 0)

	e := rules.NewEngine(rules.WithExtendedSemantics())
	load(t, e, doc)

	require.True(t, e.ApplyTemplate("hut", g, world.NewPosition2D(0, 0)))
	a, _ := g.CellAt(0, 0)
	b, _ := g.CellAt(1, 0)
	assert.Equal(t, world.TerrainWall, a.Terrain)
	assert.Equal(t, 2, a.Elevation)
	assert.Equal(t, world.TerrainWall, b.Terrain)
	assert.Equal(t, 3, b.Elevation)

	// (4,0) has no cell, so the footprint does not fit and nothing changes
	require.True(t, e.ApplyTemplate("hut", g, world.NewPosition2D(3, 0)))
	c, _ := g.CellAt(3, 0)
	assert.Equal(t, world.TerrainPlain, c.Terrain)
}

func TestExtendedApplyTemplateRecursionIsBounded(t *testing.T) {
	e := rules.NewEngine(rules.WithExtendedSemantics())
	load(t, e, `
name: loop
description: applies itself
rules:
  - name: again
    priority: 0
    conditions: []
    actions:
      - {type: ModifyTerrain, params: {radius: 0, operation: {type: Raise, amount: 1}}}
      - {type: ApplyTemplate, params: {template_name: loop}}
`)
	g := world.NewGrid()
	g.AddCell(world.NewPosition2D(0, 0), world.TerrainPlain, 0)

	require.True(t, e.ApplyTemplate("loop", g, world.NewPosition2D(0, 0)))
	c, _ := g.CellAt(0, 0)
	assert.Equal(t, 9, c.Elevation, "initial application plus eight nested ones")
}

func TestExtendedApplyNoise(t *testing.T) {
	doc := `
name: noisy
description: roughen elevation
rules:
  - name: noise
    priority: 0
    conditions: []
    actions:
      - {type: ApplyNoise, params: {noise_type: {type: Simplex}, amplitude: 10, frequency: 0.37}}
`
	run := func() *world.Grid {
		g := hexGrid(4, world.TerrainPlain, 3)
		e := rules.NewEngine(rules.WithExtendedSemantics(), rules.WithNoiseSeed(42))
		load(t, e, doc)
		require.True(t, e.ApplyTemplate("noisy", g, world.NewPosition2D(4, 4)))
		return g
	}

	a, b := run(), run()
	assert.Equal(t, a.Cells(), b.Cells(), "same seed, same displacement")

	changed := 0
	for _, c := range a.Cells() {
		assert.GreaterOrEqual(t, c.Elevation, world.MinElevation)
		assert.LessOrEqual(t, c.Elevation, world.MaxElevation)
		if c.Elevation != 3 {
			changed++
		}
	}
	assert.Positive(t, changed)
}

func TestExtendedUnsupportedNoiseIsInert(t *testing.T) {
	g := hexGrid(2, world.TerrainPlain, 3)
	before := g.Cells()
	e := rules.NewEngine(rules.WithExtendedSemantics())
	load(t, e, `
name: worley
description: not supported
rules:
  - name: noise
    priority: 0
    conditions: []
    actions:
      - {type: ApplyNoise, params: {noise_type: {type: Worley}, amplitude: 5, frequency: 1}}
`)
	require.True(t, e.ApplyTemplate("worley", g, world.NewPosition2D(2, 2)))
	assert.Equal(t, before, g.Cells())
}

func TestExtendedFanOutStopsAtActionBudget(t *testing.T) {
	var logs bytes.Buffer
	e := rules.NewEngine(rules.WithExtendedSemantics(),
		rules.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	load(t, e, `
name: fan
description: applies itself eight times
rules:
  - name: fan
    priority: 0
    conditions: []
    actions:
      - {type: ModifyTerrain, params: {radius: 64, operation: {type: Raise, amount: 1}}}
      - {type: ApplyTemplate, params: {template_name: fan}}
      - {type: ApplyTemplate, params: {template_name: fan}}
      - {type: ApplyTemplate, params: {template_name: fan}}
      - {type: ApplyTemplate, params: {template_name: fan}}
      - {type: ApplyTemplate, params: {template_name: fan}}
      - {type: ApplyTemplate, params: {template_name: fan}}
      - {type: ApplyTemplate, params: {template_name: fan}}
      - {type: ApplyTemplate, params: {template_name: fan}}
`)
	g := hexGrid(2, world.TerrainPlain, 0)

	done := make(chan bool, 1)
	go func() { done <- e.ApplyTemplate("fan", g, world.NewPosition2D(2, 2)) }()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(10 * time.Second):
		t.Fatal("fan-out did not stop")
	}
	assert.Contains(t, logs.String(), "action budget exhausted")

	c, _ := g.CellAt(2, 2)
	assert.Equal(t, world.MaxElevation, c.Elevation)
}

func TestExtendedHugeRadiusIsCapped(t *testing.T) {
	e := rules.NewEngine(rules.WithExtendedSemantics())
	e.Register(&rules.Template{
		Name: "huge",
		Rules: []rules.Rule{{
			Name: "huge",
			Conditions: []rules.AnyCondition{
				rules.Cond(&rules.NearWaterCondition{Distance: math.MaxInt}),
			},
			Actions: []rules.AnyAction{
				rules.Act(&rules.ModifyTerrainAction{
					Radius:    math.MaxInt,
					Operation: rules.TerrainOperation{Type: "Raise", Amount: 2},
				}),
			},
		}},
	})
	g := hexGrid(3, world.TerrainPlain, 0)
	g.AddCell(world.NewPosition2D(40, 3), world.TerrainWater, 0)
	g.AddCell(world.NewPosition2D(200, 3), world.TerrainPlain, 0)

	require.NotPanics(t, func() {
		require.True(t, e.ApplyTemplate("huge", g, world.NewPosition2D(3, 3)))
	})
	near, _ := g.CellAt(6, 3)
	assert.Equal(t, 2, near.Elevation)
	far, _ := g.CellAt(200, 3)
	assert.Equal(t, 0, far.Elevation, "beyond the capped radius")

	g = hexGrid(3, world.TerrainPlain, 0)
	g.AddCell(world.NewPosition2D(100, 3), world.TerrainWater, 0)
	assert.False(t, e.ApplyTemplate("huge", g, world.NewPosition2D(3, 3)), "water beyond the capped distance")
}
