package world

import (
	"fmt"
	"math"
)

// Terrain is the surface type of a cell.
type Terrain uint8

const (
	TerrainPlain Terrain = iota // Basic traversable terrain
	TerrainRough                // Thick brush or rocky ground
	TerrainWater
	TerrainWall
	TerrainSand
	TerrainSnow
	TerrainSwamp
	TerrainLava
)

// Impassable is the movement cost of terrain that can never be entered.
const Impassable = math.MaxInt32

var terrainNames = [...]string{
	TerrainPlain: "Plain",
	TerrainRough: "Rough",
	TerrainWater: "Water",
	TerrainWall:  "Wall",
	TerrainSand:  "Sand",
	TerrainSnow:  "Snow",
	TerrainSwamp: "Swamp",
	TerrainLava:  "Lava",
}

// AllTerrains lists every terrain in declaration order.
var AllTerrains = []Terrain{
	TerrainPlain, TerrainRough, TerrainWater, TerrainWall,
	TerrainSand, TerrainSnow, TerrainSwamp, TerrainLava,
}

// String returns the document name of the terrain.
func (t Terrain) String() string {
	if int(t) < len(terrainNames) {
		return terrainNames[t]
	}
	return fmt.Sprintf("Terrain(%d)", uint8(t))
}

// ParseTerrain looks up a terrain by its document name.
func ParseTerrain(s string) (Terrain, error) {
	for i, name := range terrainNames {
		if name == s {
			return Terrain(i), nil
		}
	}
	return 0, fmt.Errorf("unknown terrain %q", s)
}

func (t Terrain) MarshalText() ([]byte, error) {
	if int(t) >= len(terrainNames) {
		return nil, fmt.Errorf("unknown terrain %d", uint8(t))
	}
	return []byte(terrainNames[t]), nil
}

func (t *Terrain) UnmarshalText(b []byte) error {
	v, err := ParseTerrain(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// BaseCost returns the movement cost of entering flat terrain of this type.
func (t Terrain) BaseCost() int {
	switch t {
	case TerrainPlain:
		return 1
	case TerrainRough, TerrainSand, TerrainSnow:
		return 2
	case TerrainWater, TerrainSwamp:
		return 3
	default:
		return Impassable
	}
}

// Passable reports whether the terrain can be entered at all.
func (t Terrain) Passable() bool {
	return t != TerrainWall && t != TerrainLava
}

// elevationAllowed applies the terrain-specific elevation window.
func (t Terrain) elevationAllowed(elevation int) bool {
	switch t {
	case TerrainWater:
		return elevation <= 0
	case TerrainSnow:
		return elevation >= 5
	case TerrainLava:
		return elevation <= 2
	default:
		return defaultElevationAllowed(elevation)
	}
}

const (
	MinElevation = -10
	MaxElevation = 15
)

func defaultElevationAllowed(elevation int) bool {
	return elevation >= MinElevation && elevation <= MaxElevation
}
