// Package entropy supplies process randomness for generators created without
// an explicit seed. Seeded generators never touch this package.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand/v2"
)

// Seed returns a 64-bit seed from crypto/rand, falling back to the runtime's
// randomly seeded generator if the system source fails.
func Seed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		slog.Debug("crypto/rand unavailable, using runtime source", "error", err)
		return mrand.Uint64()
	}
	return binary.LittleEndian.Uint64(buf[:])
}
