package store

import (
	"fmt"

	snapv1 "github.com/gmcnew/migrate-chests/internal/persistence/snapshot"
)

// ExportItems converts runtime items into their on-disk form.
func ExportItems(items []Item) []snapv1.ItemV1 {
	out := make([]snapv1.ItemV1, 0, len(items))
	for _, it := range items {
		out = append(out, snapv1.ItemV1{
			ID:     int16(it.ID),
			Damage: int16(it.Damage),
			Count:  int8(it.Count),
			Slot:   int8(it.Slot),
		})
	}
	return out
}

// ImportItems is the inverse of ExportItems.
func ImportItems(items []snapv1.ItemV1) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, Item{
			ID:     int(it.ID),
			Damage: int(it.Damage),
			Count:  int(it.Count),
			Slot:   int(it.Slot),
		})
	}
	return out
}

// ExportChunk encodes a chunk's tile entities into a snapshot chunk.
func ExportChunk(ch *Chunk) (snapv1.ChunkV1, error) {
	data := snapv1.ChunkDataV1{TileEntities: make([]snapv1.TileEntityV1, 0, len(ch.TileEntities))}
	for _, e := range ch.TileEntities {
		data.TileEntities = append(data.TileEntities, snapv1.TileEntityV1{
			ID:    e.ID,
			Pos:   e.Pos.ToArray(),
			Text:  e.Text,
			Items: ExportItems(e.Items),
		})
	}
	b, err := snapv1.EncodeChunk(data)
	if err != nil {
		return snapv1.ChunkV1{}, err
	}
	return snapv1.ChunkV1{CX: ch.Key.CX, CZ: ch.Key.CZ, Data: b}, nil
}

// ImportChunk decodes a snapshot chunk. Decode failures wrap ErrChunkMalformed.
func ImportChunk(c snapv1.ChunkV1) (*Chunk, error) {
	data, err := snapv1.DecodeChunk(c.Data)
	if err != nil {
		return nil, fmt.Errorf("chunk %d,%d: %w: %v", c.CX, c.CZ, ErrChunkMalformed, err)
	}
	ch := &Chunk{
		Key:          ChunkKey{CX: c.CX, CZ: c.CZ},
		TileEntities: make([]*TileEntity, 0, len(data.TileEntities)),
	}
	for _, te := range data.TileEntities {
		ch.TileEntities = append(ch.TileEntities, &TileEntity{
			ID:    te.ID,
			Pos:   Vec3i{X: te.Pos[0], Y: te.Pos[1], Z: te.Pos[2]},
			Text:  te.Text,
			Items: ImportItems(te.Items),
		})
	}
	return ch, nil
}
