// Package merge drains staged items into destination containers.
package merge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gmcnew/migrate-chests/internal/migrate/match"
	"github.com/gmcnew/migrate-chests/internal/migrate/scan"
	"github.com/gmcnew/migrate-chests/internal/migrate/signs"
	"github.com/gmcnew/migrate-chests/internal/world/store"
)

// World is the mutable side of a destination world store.
type World interface {
	Records(k store.ChunkKey) ([]*store.TileEntity, error)
	MarkModified(k store.ChunkKey)
}

type Engine struct {
	World World
	// Chunks resolves scan.Ref.Chunk indexes to chunk keys.
	Chunks []store.ChunkKey
	Logger *zap.Logger
}

type LabelResult struct {
	Label       string
	Migrated    int
	Remaining   int
	Completed   bool
	SignsMarked int
}

// MergeLabel fills the label's destination containers, in scan order, from
// the end of pending. When the run empties pending the label's signs are
// stamped as migrated. The returned slice is what is still left to place.
func (e *Engine) MergeLabel(label string, pending []store.Item, grp *match.Group) ([]store.Item, LabelResult, error) {
	log := e.logger().With(zap.String("label", label))
	res := LabelResult{Label: label}

	for _, ref := range grp.Containers {
		if len(pending) == 0 {
			break
		}
		k, c, err := e.locate(ref, (*store.TileEntity).IsContainer)
		if err != nil {
			return pending, res, err
		}
		if c == nil {
			log.Warn("destination container vanished", zap.Any("pos", ref.Pos()))
			continue
		}
		var moved int
		moved, pending = Fill(c, pending)
		if moved > 0 {
			e.World.MarkModified(k)
			log.Debug("filled container", zap.Any("pos", c.Pos), zap.Int("moved", moved))
		}
		res.Migrated += moved
	}
	res.Remaining = len(pending)

	if res.Migrated > 0 && len(pending) == 0 {
		res.Completed = true
		for _, ref := range grp.Signs {
			k, s, err := e.locate(ref, (*store.TileEntity).IsSign)
			if err != nil {
				return pending, res, err
			}
			if s == nil {
				continue
			}
			line := signs.MarkMigrated(s)
			e.World.MarkModified(k)
			res.SignsMarked++
			log.Debug("marked sign", zap.Any("pos", s.Pos), zap.Int("line", line+1))
		}
	}
	return pending, res, nil
}

// locate fetches the ref's chunk again and finds the record at the ref's
// position. Earlier merges in the same run may have changed the chunk.
func (e *Engine) locate(ref scan.Ref, kind func(*store.TileEntity) bool) (store.ChunkKey, *store.TileEntity, error) {
	if ref.Chunk < 0 || ref.Chunk >= len(e.Chunks) {
		return store.ChunkKey{}, nil, fmt.Errorf("chunk index %d out of range", ref.Chunk)
	}
	k := e.Chunks[ref.Chunk]
	recs, err := e.World.Records(k)
	if err != nil {
		return k, nil, fmt.Errorf("reload chunk %d,%d: %w", k.CX, k.CZ, err)
	}
	pos := ref.Pos()
	for _, r := range recs {
		if r.Pos == pos && kind(r) {
			return k, r, nil
		}
	}
	return k, nil, nil
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
