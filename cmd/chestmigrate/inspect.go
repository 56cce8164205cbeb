package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gmcnew/migrate-chests/internal/migrate/match"
	"github.com/gmcnew/migrate-chests/internal/migrate/scan"
	"github.com/gmcnew/migrate-chests/internal/world/store"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect WORLD",
		Short: "Summarize a world's chests and migration signs without changing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.inspect(args[0])
		},
	}
}

func (a *app) inspect(path string) error {
	l, err := store.Open(path)
	if err != nil {
		return err
	}
	res, err := scan.Scan(l, nil, a.logger)
	if err != nil {
		return err
	}

	items := 0
	for _, c := range res.Containers {
		items += len(c.Entity.Items)
	}
	groups := match.Groups{}
	st := match.Matcher{Mode: match.ClosestOnly, Limit: a.cfg.SearchLimit}.Add(groups, res)

	digest, err := worldDigest(l)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "world:      %s (%s)%s\n", l.WorldID(), path, fileSize(path))
	fmt.Fprintf(a.stdout, "chunks:     %s\n", humanize.Comma(int64(len(res.Chunks))))
	fmt.Fprintf(a.stdout, "malformed:  %d\n", res.Malformed)
	fmt.Fprintf(a.stdout, "containers: %d (%d used slots, %d matched, %d orphaned)\n", st.Containers, items, st.Matched, st.Orphaned)
	fmt.Fprintf(a.stdout, "signs:      %d labeled\n", st.Signs)
	fmt.Fprintf(a.stdout, "digest:     %s\n", digest)
	for _, label := range groups.Labels() {
		g := groups[label]
		fmt.Fprintf(a.stdout, "%4d chests, %2d signs for %s\n", len(g.Containers), len(g.Signs), label)
	}
	return nil
}

// worldDigest hashes the chunk digests in key order. Malformed chunks are
// left out.
func worldDigest(l *store.Level) (string, error) {
	h := sha256.New()
	for _, k := range l.ChunkKeys() {
		ch, err := l.Chunk(k)
		if errors.Is(err, store.ErrChunkMalformed) {
			continue
		}
		if err != nil {
			return "", err
		}
		d := ch.Digest()
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
