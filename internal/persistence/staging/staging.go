// Package staging reads and writes the staged item pool: the per-label
// queues of items copied out of source worlds and waiting for a destination.
package staging

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	snapv1 "github.com/gmcnew/migrate-chests/internal/persistence/snapshot"
	"github.com/gmcnew/migrate-chests/internal/world/store"
)

const Version = 1

// DefaultPath is where the pool lives when no other path is configured.
const DefaultPath = "raw_items.stage"

// Pool maps labels to their pending items. Items are placed from the end of
// each sequence, so the most recently staged item goes first.
type Pool map[string][]store.Item

func (p Pool) Labels() []string {
	out := make([]string, 0, len(p))
	for label := range p {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func (p Pool) Total() int {
	n := 0
	for _, items := range p {
		n += len(items)
	}
	return n
}

type Header struct {
	Version int `json:"version"`
	Labels  int `json:"labels"`
	Items   int `json:"items"`
}

type EntryV1 struct {
	Label string
	Items []snapv1.ItemV1
}

type FileV1 struct {
	Header  Header
	Entries []EntryV1
}

func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Save writes the pool atomically. Labels with empty sequences are kept.
func Save(path string, p Pool) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file := FileV1{Header: Header{Version: Version, Labels: len(p), Items: p.Total()}}
	for _, label := range p.Labels() {
		file.Entries = append(file.Entries, EntryV1{Label: label, Items: store.ExportItems(p[label])})
	}

	tmp := path + ".tmp"
	if err := writeFile(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write staging file: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, file FileV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)
	hb, _ := json.Marshal(file.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&file); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

// Load reads a pool. A missing file is an error matching fs.ErrNotExist.
func Load(path string) (Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	if _, err := br.ReadBytes('\n'); err != nil {
		return nil, fmt.Errorf("staging header: %w", err)
	}
	var file FileV1
	if err := gob.NewDecoder(br).Decode(&file); err != nil {
		return nil, fmt.Errorf("staging gob decode: %w", err)
	}
	if file.Header.Version != Version {
		return nil, fmt.Errorf("unsupported staging version %d", file.Header.Version)
	}

	p := make(Pool, len(file.Entries))
	for _, e := range file.Entries {
		p[e.Label] = store.ImportItems(e.Items)
	}
	return p, nil
}

// FileCodec adapts Load and Save to an interface value.
type FileCodec struct{}

func (FileCodec) Load(path string) (Pool, error)   { return Load(path) }
func (FileCodec) Save(path string, p Pool) error   { return Save(path, p) }
func (FileCodec) Exists(path string) (bool, error) { return Exists(path) }
