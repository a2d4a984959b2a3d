package persistence

import (
	"encoding/json"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/hexworld/internal/world"
)

// Chunk payloads are zstd-compressed JSON snapshots. The encoder and decoder
// are shared; EncodeAll and DecodeAll are safe for concurrent use.
var (
	chunkEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	chunkDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

func encodeChunk(snap world.ChunkSnapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return chunkEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

func decodeChunk(payload []byte) (world.ChunkSnapshot, error) {
	var snap world.ChunkSnapshot
	raw, err := chunkDecoder.DecodeAll(payload, nil)
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(raw, &snap)
	return snap, err
}
