package store

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// ErrChunkMalformed reports a chunk whose payload could not be decoded.
// Callers skip the chunk and keep going.
var ErrChunkMalformed = errors.New("chunk malformed")

const (
	KindChest   = "Chest"
	KindDropper = "Dropper"
	KindFurnace = "Furnace"
	KindHopper  = "Hopper"
	KindTrap    = "Trap"
	KindSign    = "Sign"
)

// SignLines is the number of text lines a sign carries.
const SignLines = 4

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func Manhattan(a, b Vec3i) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	dz := a.Z - b.Z
	if dz < 0 {
		dz = -dz
	}
	return dx + dy + dz
}

type ChunkKey struct {
	CX int
	CZ int
}

type Item struct {
	ID     int
	Damage int
	Count  int
	Slot   int
}

type TileEntity struct {
	ID    string
	Pos   Vec3i
	Text  [SignLines]string
	Items []Item
}

func (e *TileEntity) IsContainer() bool {
	switch e.ID {
	case KindChest, KindDropper, KindFurnace, KindHopper, KindTrap:
		return true
	}
	return false
}

func (e *TileEntity) IsSign() bool { return e.ID == KindSign }

type Chunk struct {
	Key          ChunkKey
	TileEntities []*TileEntity

	dirty bool
}

func (c *Chunk) Dirty() bool { return c.dirty }

// Digest hashes the container contents and sign text of the chunk, in
// entity order. Used by tooling to tell whether two worlds diverge.
func (c *Chunk) Digest() [32]byte {
	h := sha256.New()
	var tmp [8]byte
	put := func(v int) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
		h.Write(tmp[:])
	}
	for _, e := range c.TileEntities {
		h.Write([]byte(e.ID))
		put(e.Pos.X)
		put(e.Pos.Y)
		put(e.Pos.Z)
		for _, line := range e.Text {
			h.Write([]byte(line))
			h.Write([]byte{0})
		}
		for _, it := range e.Items {
			put(it.ID)
			put(it.Damage)
			put(it.Count)
			put(it.Slot)
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
