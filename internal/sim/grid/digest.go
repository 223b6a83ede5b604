package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Digest hashes the grid in scan order. Two grids with the same digest are
// indistinguishable to the engine.
func Digest(g Grid) string {
	h := sha256.New()
	var tmp [8]byte
	writeInt(h, &tmp, g.Size)
	for _, c := range g.Coords() {
		t := g.tiles[c]
		writeInt(h, &tmp, c.X)
		writeInt(h, &tmp, c.Y)
		writeString(h, string(t.Kind))
		writeString(h, string(t.Facing))
		writeInt(h, &tmp, t.Power)
		writeInt(h, &tmp, t.Delay)
		writeInt(h, &tmp, t.Cooldown)
		writeInt(h, &tmp, t.Level)
		writeInt(h, &tmp, t.ObservedPower)
		writeInt(h, &tmp, t.Value)
		writeInt(h, &tmp, t.Channel)
		writeInt(h, &tmp, t.Pitch)
		writeString(h, string(t.Mode))
		writeString(h, string(t.ObservedKind))
		writeString(h, string(t.Contents))
		h.Write([]byte{
			boolByte(t.Active),
			boolByte(t.Pending),
			boolByte(t.Lit),
			boolByte(t.Source),
			boolByte(t.ObservedActive),
			boolByte(t.Inverted),
		})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeInt(h hash.Hash, tmp *[8]byte, v int) {
	binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
	h.Write(tmp[:])
}

func writeString(h hash.Hash, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
