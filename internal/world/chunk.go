package world

import (
	"fmt"
	"sort"
)

// ChunkPosition is a chunk's coordinate on the chunk grid.
type ChunkPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c ChunkPosition) String() string {
	return fmt.Sprintf("chunk(%d,%d)", c.X, c.Y)
}

// Biome labels a chunk and drives its terrain, elevation, and structure tables.
type Biome uint8

const (
	BiomeForest Biome = iota
	BiomeMountain
	BiomePlains
	BiomeDesert
	BiomeOcean
	BiomeTundra
)

var biomeNames = [...]string{
	BiomeForest:   "Forest",
	BiomeMountain: "Mountain",
	BiomePlains:   "Plains",
	BiomeDesert:   "Desert",
	BiomeOcean:    "Ocean",
	BiomeTundra:   "Tundra",
}

func (b Biome) String() string {
	if int(b) < len(biomeNames) {
		return biomeNames[b]
	}
	return fmt.Sprintf("Biome(%d)", uint8(b))
}

// ParseBiome looks up a biome by name.
func ParseBiome(s string) (Biome, error) {
	for i, name := range biomeNames {
		if name == s {
			return Biome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown biome %q", s)
}

func (b Biome) MarshalText() ([]byte, error) {
	if int(b) >= len(biomeNames) {
		return nil, fmt.Errorf("unknown biome %d", uint8(b))
	}
	return []byte(biomeNames[b]), nil
}

func (b *Biome) UnmarshalText(text []byte) error {
	v, err := ParseBiome(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// StructureCategory groups structure types.
type StructureCategory string

const (
	CategoryBuilding   StructureCategory = "Building"
	CategoryVegetation StructureCategory = "Vegetation"
	CategoryLandmark   StructureCategory = "Landmark"
)

// StructureType is a feature placed on a single hex.
type StructureType string

// Buildings.
const (
	StructureHouse  StructureType = "House"
	StructureShop   StructureType = "Shop"
	StructureTemple StructureType = "Temple"
	StructureCastle StructureType = "Castle"
	StructureTower  StructureType = "Tower"
	StructureInn    StructureType = "Inn"
	StructureStable StructureType = "Stable"
	StructureWall   StructureType = "Wall"
	StructureGate   StructureType = "Gate"
)

// Vegetation.
const (
	StructureTree     StructureType = "Tree"
	StructureBush     StructureType = "Bush"
	StructureFlower   StructureType = "Flower"
	StructureGrass    StructureType = "Grass"
	StructureDeadTree StructureType = "DeadTree"
)

// Landmarks.
const (
	StructureMountain StructureType = "Mountain"
	StructureHill     StructureType = "Hill"
	StructureRock     StructureType = "Rock"
	StructureStatue   StructureType = "Statue"
	StructureWell     StructureType = "Well"
	StructureBridge   StructureType = "Bridge"
)

var structureCategories = map[StructureType]StructureCategory{
	StructureHouse: CategoryBuilding, StructureShop: CategoryBuilding,
	StructureTemple: CategoryBuilding, StructureCastle: CategoryBuilding,
	StructureTower: CategoryBuilding, StructureInn: CategoryBuilding,
	StructureStable: CategoryBuilding, StructureWall: CategoryBuilding,
	StructureGate: CategoryBuilding,

	StructureTree: CategoryVegetation, StructureBush: CategoryVegetation,
	StructureFlower: CategoryVegetation, StructureGrass: CategoryVegetation,
	StructureDeadTree: CategoryVegetation,

	StructureMountain: CategoryLandmark, StructureHill: CategoryLandmark,
	StructureRock: CategoryLandmark, StructureStatue: CategoryLandmark,
	StructureWell: CategoryLandmark, StructureBridge: CategoryLandmark,
}

// Category returns the structure's group, or "" for unknown types.
func (s StructureType) Category() StructureCategory {
	return structureCategories[s]
}

// Valid reports whether s is a known structure type.
func (s StructureType) Valid() bool {
	_, ok := structureCategories[s]
	return ok
}

// MapChunk is a generated block of the world: its grid, the structures placed
// on it keyed by cell position, and its biome.
type MapChunk struct {
	Position   ChunkPosition
	Grid       *Grid
	Structures map[Position]StructureType
	Biome      Biome
}

// StructureAt returns the structure placed in column (q, r), if any.
func (c *MapChunk) StructureAt(q, r int) (StructureType, bool) {
	cell, ok := c.Grid.CellAt(q, r)
	if !ok {
		return "", false
	}
	s, ok := c.Structures[cell.Position()]
	return s, ok
}

// PlacedStructure is a structure with its hex position, for flat encodings.
type PlacedStructure struct {
	Position Position      `json:"position"`
	Type     StructureType `json:"type"`
}

// ChunkSnapshot is the flat, serializable form of a MapChunk consumed by
// renderers and the chunk store.
type ChunkSnapshot struct {
	Position   ChunkPosition     `json:"position"`
	Biome      Biome             `json:"biome"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Cells      []Cell            `json:"cells"`
	Structures []PlacedStructure `json:"structures"`
}

// Snapshot flattens the chunk. Cells are ordered by r then q; structures by position.
func (c *MapChunk) Snapshot() ChunkSnapshot {
	w, h := c.Grid.Size()
	snap := ChunkSnapshot{
		Position:   c.Position,
		Biome:      c.Biome,
		Width:      w,
		Height:     h,
		Cells:      c.Grid.Cells(),
		Structures: make([]PlacedStructure, 0, len(c.Structures)),
	}
	for pos, s := range c.Structures {
		snap.Structures = append(snap.Structures, PlacedStructure{Position: pos, Type: s})
	}
	sort.Slice(snap.Structures, func(i, j int) bool {
		a, b := snap.Structures[i].Position, snap.Structures[j].Position
		if a.R != b.R {
			return a.R < b.R
		}
		if a.Q != b.Q {
			return a.Q < b.Q
		}
		return a.Z < b.Z
	})
	return snap
}

// ChunkFromSnapshot rebuilds a chunk exactly, including stored movement costs.
func ChunkFromSnapshot(snap ChunkSnapshot) (*MapChunk, error) {
	grid := NewGridWithSize(snap.Width, snap.Height)
	for _, c := range snap.Cells {
		if int(c.Terrain) >= len(terrainNames) {
			return nil, fmt.Errorf("cell (%d,%d): unknown terrain %d", c.Q, c.R, c.Terrain)
		}
		cell := c
		grid.cells[Axial{Q: c.Q, R: c.R}] = &cell
		grid.width = max(grid.width, c.Q+1)
		grid.height = max(grid.height, c.R+1)
	}

	structures := make(map[Position]StructureType, len(snap.Structures))
	for _, s := range snap.Structures {
		if !s.Type.Valid() {
			return nil, fmt.Errorf("structure at %s: unknown type %q", s.Position, s.Type)
		}
		structures[s.Position] = s.Type
	}

	return &MapChunk{
		Position:   snap.Position,
		Grid:       grid,
		Structures: structures,
		Biome:      snap.Biome,
	}, nil
}
