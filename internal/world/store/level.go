package store

import (
	"fmt"
	"sort"

	snapv1 "github.com/gmcnew/migrate-chests/internal/persistence/snapshot"
)

// Level is an opened world snapshot. Chunks are decoded on first access and
// cached, so every Records call for the same key returns the same live
// entities until the level is saved or discarded.
type Level struct {
	path    string
	worldID string

	raw    map[ChunkKey]snapv1.ChunkV1
	chunks map[ChunkKey]*Chunk
}

// NewLevel returns an empty in-memory world. Use Put and SaveAs to build one.
func NewLevel(worldID string) *Level {
	return &Level{
		worldID: worldID,
		raw:     map[ChunkKey]snapv1.ChunkV1{},
		chunks:  map[ChunkKey]*Chunk{},
	}
}

func Open(path string) (*Level, error) {
	snap, err := snapv1.ReadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("open world %s: %w", path, err)
	}
	l := NewLevel(snap.Header.WorldID)
	l.path = path
	for _, c := range snap.Chunks {
		l.raw[ChunkKey{CX: c.CX, CZ: c.CZ}] = c
	}
	return l, nil
}

func (l *Level) Path() string    { return l.path }
func (l *Level) WorldID() string { return l.worldID }

// ChunkKeys returns every chunk in the world ordered by (CX, CZ).
func (l *Level) ChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(l.raw))
	for k := range l.raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

func (l *Level) Chunk(k ChunkKey) (*Chunk, error) {
	if ch, ok := l.chunks[k]; ok {
		return ch, nil
	}
	c, ok := l.raw[k]
	if !ok {
		return nil, fmt.Errorf("chunk %d,%d not present", k.CX, k.CZ)
	}
	ch, err := ImportChunk(c)
	if err != nil {
		return nil, err
	}
	l.chunks[k] = ch
	return ch, nil
}

func (l *Level) Records(k ChunkKey) ([]*TileEntity, error) {
	ch, err := l.Chunk(k)
	if err != nil {
		return nil, err
	}
	return ch.TileEntities, nil
}

func (l *Level) MarkModified(k ChunkKey) {
	if ch, ok := l.chunks[k]; ok {
		ch.dirty = true
	}
}

// Put replaces a chunk's tile entities and marks it modified.
func (l *Level) Put(k ChunkKey, ents []TileEntity) {
	ch := &Chunk{Key: k, TileEntities: make([]*TileEntity, 0, len(ents)), dirty: true}
	for i := range ents {
		e := ents[i]
		e.Items = append([]Item(nil), e.Items...)
		ch.TileEntities = append(ch.TileEntities, &e)
	}
	l.chunks[k] = ch
	if _, ok := l.raw[k]; !ok {
		l.raw[k] = snapv1.ChunkV1{CX: k.CX, CZ: k.CZ}
	}
}

// SaveInPlace writes the level back to the path it was opened from.
func (l *Level) SaveInPlace() error {
	if l.path == "" {
		return fmt.Errorf("save world: level has no path")
	}
	return l.SaveAs(l.path)
}

// SaveAs re-encodes modified chunks and writes the whole world to path.
// Chunks that were never decoded, including malformed ones, are written back
// byte-for-byte.
func (l *Level) SaveAs(path string) error {
	keys := l.ChunkKeys()
	out := snapv1.WorldV1{
		Header: snapv1.Header{WorldID: l.worldID},
		Chunks: make([]snapv1.ChunkV1, 0, len(keys)),
	}
	for _, k := range keys {
		if ch, ok := l.chunks[k]; ok && ch.dirty {
			c, err := ExportChunk(ch)
			if err != nil {
				return fmt.Errorf("save world: chunk %d,%d: %w", k.CX, k.CZ, err)
			}
			l.raw[k] = c
			ch.dirty = false
		}
		out.Chunks = append(out.Chunks, l.raw[k])
	}
	if err := snapv1.WriteSnapshot(path, out); err != nil {
		return fmt.Errorf("save world %s: %w", path, err)
	}
	l.path = path
	return nil
}
