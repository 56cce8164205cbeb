// Package scan walks a world's chunks and collects containers and labeled
// signs for matching.
package scan

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gmcnew/migrate-chests/internal/migrate/signs"
	"github.com/gmcnew/migrate-chests/internal/world/store"
)

// Source is the read side of a world store.
type Source interface {
	ChunkKeys() []store.ChunkKey
	Records(k store.ChunkKey) ([]*store.TileEntity, error)
}

// Ref points at a record found during a scan. Chunk indexes Result.Chunks so
// the owning chunk can be fetched again later; Label is set for signs only.
type Ref struct {
	Entity *store.TileEntity
	Chunk  int
	Label  string
}

func (r Ref) Pos() store.Vec3i { return r.Entity.Pos }

type Result struct {
	Chunks     []store.ChunkKey
	Containers []Ref
	Signs      []Ref
	Malformed  int
}

// ProgressFunc is called once per visited chunk with a 1-based index.
type ProgressFunc func(i, n int)

// Scan visits every chunk in enumeration order. Malformed chunks are
// counted and skipped; any other store error aborts the scan.
func Scan(src Source, progress ProgressFunc, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys := src.ChunkKeys()
	res := Result{Chunks: keys}
	for i, k := range keys {
		if progress != nil {
			progress(i+1, len(keys))
		}
		recs, err := src.Records(k)
		if err != nil {
			if errors.Is(err, store.ErrChunkMalformed) {
				res.Malformed++
				logger.Debug("skipping malformed chunk", zap.Int("cx", k.CX), zap.Int("cz", k.CZ), zap.Error(err))
				continue
			}
			return res, fmt.Errorf("scan chunk %d,%d: %w", k.CX, k.CZ, err)
		}
		for _, e := range recs {
			switch {
			case e.IsContainer():
				res.Containers = append(res.Containers, Ref{Entity: e, Chunk: i})
			case e.IsSign():
				if label, ok := signs.Label(e); ok {
					res.Signs = append(res.Signs, Ref{Entity: e, Chunk: i, Label: label})
				}
			}
		}
	}
	return res, nil
}
