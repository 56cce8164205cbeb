package main

import (
	"io"
	"path/filepath"

	progressbar "github.com/cheggaaa/pb/v3"
)

// scanProgress shows one bar per scanned world.
type scanProgress struct {
	w     io.Writer
	world string
	bar   *progressbar.ProgressBar
}

func newScanProgress(w io.Writer) *scanProgress {
	return &scanProgress{w: w}
}

func (p *scanProgress) update(world string, i, n int) {
	if p.bar == nil || world != p.world {
		p.finish()
		p.world = world
		p.bar = progressbar.New(n).
			SetWriter(p.w).
			Set("prefix", "Scanning "+filepath.Base(world)).
			Start()
	}
	p.bar.SetCurrent(int64(i))
	if i >= n {
		p.finish()
	}
}

func (p *scanProgress) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
