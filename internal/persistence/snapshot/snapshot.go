package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Chunks  int    `json:"chunks"`
}

type WorldV1 struct {
	Header Header    `json:"header"`
	Chunks []ChunkV1 `json:"chunks"`
}

// ChunkV1 carries its tile entities as a separately gob-encoded payload so
// a corrupt chunk can be skipped without losing the rest of the world.
type ChunkV1 struct {
	CX   int    `json:"cx"`
	CZ   int    `json:"cz"`
	Data []byte `json:"data"`
}

type ChunkDataV1 struct {
	TileEntities []TileEntityV1 `json:"tile_entities"`
}

type TileEntityV1 struct {
	ID    string    `json:"id"`
	Pos   [3]int    `json:"pos"`
	Text  [4]string `json:"text,omitempty"`
	Items []ItemV1  `json:"items,omitempty"`
}

type ItemV1 struct {
	ID     int16 `json:"id"`
	Damage int16 `json:"damage"`
	Count  int8  `json:"count"`
	Slot   int8  `json:"slot"`
}

func EncodeChunk(data ChunkDataV1) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&data); err != nil {
		return nil, fmt.Errorf("gob encode chunk: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeChunk(b []byte) (ChunkDataV1, error) {
	var data ChunkDataV1
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&data); err != nil {
		return data, fmt.Errorf("gob decode chunk: %w", err)
	}
	return data, nil
}

// WriteSnapshot writes the world to a temporary sibling file and renames it
// over path, so an interrupted write never leaves a truncated world behind.
func WriteSnapshot(path string, snap WorldV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	snap.Header.Version = Version
	snap.Header.Chunks = len(snap.Chunks)

	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap WorldV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
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

func ReadSnapshot(path string) (WorldV1, error) {
	var snap WorldV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational; gob carries it as well.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader returns only the JSON header line; used by tooling that does
// not need the chunk payloads.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}
