package rules

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/hexworld/internal/world"
)

// noiseRadius is the area ApplyNoise displaces around its target.
const noiseRadius = 3

// applyNoise displaces elevation around pos by amplitude times a noise
// sample taken at the cell's planar coordinates scaled by frequency.
// Simplex is a single octave; Perlin layers four octaves.
func (e *Engine) applyNoise(grid *world.Grid, pos world.Position, a *ApplyNoiseAction) error {
	var sample func(x, y float64) float64
	switch a.NoiseType.Type {
	case "Simplex":
		sample = func(x, y float64) float64 { return e.noise.Eval2(x*a.Frequency, y*a.Frequency) }
	case "Perlin":
		sample = func(x, y float64) float64 { return octaveNoise(e.noise, x, y, 4, a.Frequency, 0.5) }
	default:
		return fmt.Errorf("noise type %q not supported", a.NoiseType.Type)
	}

	for _, ax := range world.Range(pos.Planar(), noiseRadius) {
		c, ok := grid.CellAt(ax.Q, ax.R)
		if !ok {
			continue
		}
		delta := int(math.Round(a.Amplitude * sample(float64(c.Q), float64(c.R))))
		if delta == 0 {
			continue
		}
		grid.AddCell(c.Position(), c.Terrain, clampElevation(c.Elevation+delta))
	}
	return nil
}

// octaveNoise layers octaves of noise, halving amplitude and doubling
// frequency each step. The result stays in [-1, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
