package world

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/talgya/hexworld/internal/entropy"
)

// DefaultChunkSize is used when a non-positive chunk size is requested.
const DefaultChunkSize = 16

// WorldMap lazily generates chunks and caches them forever. It owns its
// random generator: the same seed and the same sequence of chunk requests
// reproduce identical chunks. A WorldMap is not safe for concurrent use.
type WorldMap struct {
	chunks    map[ChunkPosition]*MapChunk
	chunkSize int
	seed      uint64

	src *rand.PCG
	rng *rand.Rand

	logger *slog.Logger
}

// NewWorldMap creates a world map seeded from process randomness.
func NewWorldMap(chunkSize int) *WorldMap {
	return NewWorldMapWithSeed(chunkSize, entropy.Seed())
}

// NewWorldMapWithSeed creates a reproducible world map.
func NewWorldMapWithSeed(chunkSize int, seed uint64) *WorldMap {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	src := newSource(seed)
	return &WorldMap{
		chunks:    make(map[ChunkPosition]*MapChunk),
		chunkSize: chunkSize,
		seed:      seed,
		src:       src,
		rng:       rand.New(src),
		logger:    slog.Default(),
	}
}

// RestoreWorldMap rebuilds a world map from persisted chunks and generator
// state so that further generation continues the original sequence.
func RestoreWorldMap(chunkSize int, seed uint64, rngState []byte, chunks []*MapChunk) (*WorldMap, error) {
	w := NewWorldMapWithSeed(chunkSize, seed)
	if len(rngState) > 0 {
		if err := w.src.UnmarshalBinary(rngState); err != nil {
			return nil, fmt.Errorf("restore generator state: %w", err)
		}
	}
	for _, c := range chunks {
		if _, dup := w.chunks[c.Position]; dup {
			return nil, fmt.Errorf("duplicate %s", c.Position)
		}
		w.chunks[c.Position] = c
	}
	return w, nil
}

// SetLogger replaces the logger used for generation events.
func (w *WorldMap) SetLogger(l *slog.Logger) {
	if l != nil {
		w.logger = l
	}
}

// GetOrGenerateChunk returns the chunk at pos, generating and caching it on
// first request. Cached chunks never consume further random draws.
func (w *WorldMap) GetOrGenerateChunk(pos ChunkPosition) *MapChunk {
	if c, ok := w.chunks[pos]; ok {
		return c
	}
	c := w.generateChunk(pos)
	w.chunks[pos] = c
	w.logger.Debug("chunk generated",
		"chunk", pos.String(),
		"biome", c.Biome.String(),
		"cells", c.Grid.Len(),
		"structures", len(c.Structures),
	)
	return c
}

// Chunk returns an already-generated chunk.
func (w *WorldMap) Chunk(pos ChunkPosition) (*MapChunk, bool) {
	c, ok := w.chunks[pos]
	return c, ok
}

// ChunkPositionForHex returns the chunk owning hex, by floor division of q
// and r by the chunk size.
func (w *WorldMap) ChunkPositionForHex(hex Position) ChunkPosition {
	return ChunkPosition{
		X: floorDiv(hex.Q, w.chunkSize),
		Y: floorDiv(hex.R, w.chunkSize),
	}
}

// Chunks returns every cached chunk ordered by y, then x.
func (w *WorldMap) Chunks() []*MapChunk {
	out := make([]*MapChunk, 0, len(w.chunks))
	for _, c := range w.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position.Y != out[j].Position.Y {
			return out[i].Position.Y < out[j].Position.Y
		}
		return out[i].Position.X < out[j].Position.X
	})
	return out
}

// ChunkCount returns the number of cached chunks.
func (w *WorldMap) ChunkCount() int {
	return len(w.chunks)
}

// ChunkSize returns the side length of a chunk in hexes.
func (w *WorldMap) ChunkSize() int {
	return w.chunkSize
}

// Seed returns the generator seed.
func (w *WorldMap) Seed() uint64 {
	return w.seed
}

// RNGState returns the marshalled generator state.
func (w *WorldMap) RNGState() []byte {
	b, _ := w.src.MarshalBinary() // PCG marshalling cannot fail
	return b
}

// String returns a summary of the map.
func (w *WorldMap) String() string {
	return fmt.Sprintf("WorldMap(chunk_size=%d, chunks=%d, seed=%d)", w.chunkSize, len(w.chunks), w.seed)
}

// newSource derives a PCG stream from a 64-bit seed.
func newSource(seed uint64) *rand.PCG {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}
