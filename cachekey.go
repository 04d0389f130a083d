package framegraph

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/gogpu/gputypes"
)

// CacheKey identifies a compiled plan across frames. Equal keys are
// assumed to describe structurally identical graphs; the caller owns that
// assumption and must fold everything that changes the graph into
// UserState.
type CacheKey struct {
	Format    gputypes.TextureFormat
	Width     uint32
	Height    uint32
	UserState []byte
}

// Hash returns the 64-bit FNV-1a hash of the key, seeded with seed.
func (k CacheKey) Hash(seed uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:4], uint32(k.Format))
	_, _ = h.Write(buf[:4])
	binary.LittleEndian.PutUint32(buf[:4], k.Width)
	_, _ = h.Write(buf[:4])
	binary.LittleEndian.PutUint32(buf[:4], k.Height)
	_, _ = h.Write(buf[:4])
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(k.UserState)))
	_, _ = h.Write(buf[:4])
	_, _ = h.Write(k.UserState)
	return h.Sum64()
}
