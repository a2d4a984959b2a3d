// Chunk generation: one uniformly chosen biome per chunk, then per-cell terrain,
// elevation, and structure draws from fixed biome tables. Biomes have no spatial
// continuity between or within chunks.
package world

import "math/rand/v2"

var biomes = [...]Biome{
	BiomeForest, BiomeMountain, BiomePlains, BiomeDesert, BiomeOcean, BiomeTundra,
}

// generateChunk fills a chunkSize x chunkSize area. Draw order per cell is
// terrain, elevation, structure; changing it changes every seeded world.
func (w *WorldMap) generateChunk(pos ChunkPosition) *MapChunk {
	biome := w.determineBiome(pos)
	grid := NewGrid()
	structures := make(map[Position]StructureType)

	for q := 0; q < w.chunkSize; q++ {
		for r := 0; r < w.chunkSize; r++ {
			hex := NewPosition2D(pos.X*w.chunkSize+q, pos.Y*w.chunkSize+r)
			terrain := terrainForBiome(w.rng, biome)
			elevation := elevationForBiome(w.rng, biome)
			grid.AddCell(hex, terrain, elevation)

			if s, ok := structureFor(w.rng, biome, terrain); ok {
				hex.Z = elevation
				structures[hex] = s
			}
		}
	}

	return &MapChunk{
		Position:   pos,
		Grid:       grid,
		Structures: structures,
		Biome:      biome,
	}
}

// determineBiome picks uniformly among the six biomes; pos is unused.
func (w *WorldMap) determineBiome(ChunkPosition) Biome {
	return biomes[w.rng.IntN(len(biomes))]
}

func chance(rng *rand.Rand, p float64) bool {
	return rng.Float64() < p
}

// terrainForBiome draws a terrain from the biome's fixed distribution.
func terrainForBiome(rng *rand.Rand, b Biome) Terrain {
	switch b {
	case BiomeForest:
		if chance(rng, 0.7) {
			return TerrainPlain
		}
		return TerrainRough
	case BiomeMountain:
		if chance(rng, 0.8) {
			return TerrainRough
		}
		return TerrainWall
	case BiomePlains:
		return TerrainPlain
	case BiomeDesert:
		if chance(rng, 0.9) {
			return TerrainPlain
		}
		return TerrainRough
	case BiomeOcean:
		return TerrainWater
	case BiomeTundra:
		if chance(rng, 0.6) {
			return TerrainPlain
		}
		return TerrainRough
	default:
		return TerrainPlain
	}
}

// elevationForBiome draws from the biome's half-open elevation range.
// Ocean is always -1 and consumes no draw.
func elevationForBiome(rng *rand.Rand, b Biome) int {
	switch b {
	case BiomeMountain:
		return 5 + rng.IntN(10) // 5..14
	case BiomePlains:
		return rng.IntN(3) // 0..2
	case BiomeForest:
		return 1 + rng.IntN(4) // 1..4
	case BiomeDesert:
		return rng.IntN(2) // 0..1
	case BiomeOcean:
		return -1
	case BiomeTundra:
		return 2 + rng.IntN(5) // 2..6
	default:
		return 0
	}
}

// structureFor rolls an optional structure for a (biome, terrain) pair.
func structureFor(rng *rand.Rand, b Biome, t Terrain) (StructureType, bool) {
	switch {
	case b == BiomeForest && t == TerrainPlain:
		if chance(rng, 0.4) {
			return StructureTree, true
		}
		if chance(rng, 0.2) {
			return StructureBush, true
		}
	case b == BiomeMountain && t == TerrainRough:
		if chance(rng, 0.3) {
			return StructureRock, true
		}
	case b == BiomePlains && t == TerrainPlain:
		if chance(rng, 0.1) {
			return StructureHouse, true
		}
		if chance(rng, 0.05) {
			return StructureWell, true
		}
	}
	return "", false
}
