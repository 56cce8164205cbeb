// Package migrate runs whole migrations: staging chest contents out of source
// worlds, merging the staged pool into a destination world, and reporting
// what is still waiting.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/gmcnew/migrate-chests/internal/migrate/match"
	"github.com/gmcnew/migrate-chests/internal/migrate/merge"
	"github.com/gmcnew/migrate-chests/internal/migrate/scan"
	"github.com/gmcnew/migrate-chests/internal/persistence/archive"
	"github.com/gmcnew/migrate-chests/internal/persistence/indexdb"
	"github.com/gmcnew/migrate-chests/internal/persistence/staging"
	"github.com/gmcnew/migrate-chests/internal/world/store"
)

// World is everything a run needs from an opened world.
type World interface {
	scan.Source
	merge.World
	SaveInPlace() error
}

type OpenFunc func(path string) (World, error)

// OpenLevel opens a world snapshot file from disk.
func OpenLevel(path string) (World, error) {
	l, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Codec persists the staged pool.
type Codec interface {
	Load(path string) (staging.Pool, error)
	Save(path string, p staging.Pool) error
	Exists(path string) (bool, error)
}

// Ledger records finished runs. It is optional.
type Ledger interface {
	RecordRun(ctx context.Context, r indexdb.Run) (string, error)
}

type Options struct {
	StagingPath string
	SearchLimit int

	// BackupDir, if set, receives copies of the destination world and the
	// staging file before a merge rewrites them.
	BackupDir string

	Open   OpenFunc
	Codec  Codec
	Ledger Ledger
	Logger *zap.Logger

	// Progress, if set, is called for every chunk scanned in every world.
	Progress func(world string, i, n int)
	Now      func() time.Time
}

type Migrator struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Migrator {
	if opts.StagingPath == "" {
		opts.StagingPath = staging.DefaultPath
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = match.SearchLimit
	}
	if opts.Open == nil {
		opts.Open = OpenLevel
	}
	if opts.Codec == nil {
		opts.Codec = staging.FileCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Migrator{opts: opts, log: opts.Logger}
}

func (m *Migrator) StagingPath() string { return m.opts.StagingPath }

type WorldReport struct {
	Path      string
	Chunks    int
	Malformed int
	match.Stats
}

type CopyReport struct {
	Worlds []WorldReport
	Labels int
	Items  int
}

type MergeReport struct {
	WorldReport
	Labels    []merge.LabelResult
	Migrated  int
	Remaining int
	Saved     bool
	Backup    string
}

type LabelCount struct {
	Label string
	Items int
}

type RemainingReport struct {
	Labels []LabelCount
	Total  int
}

func (m *Migrator) scanWorld(w World, path string) (scan.Result, error) {
	var progress scan.ProgressFunc
	if m.opts.Progress != nil {
		progress = func(i, n int) { m.opts.Progress(path, i, n) }
	}
	res, err := scan.Scan(w, progress, m.log.With(zap.String("world", path)))
	if err != nil {
		return res, err
	}
	if res.Malformed > 0 {
		m.log.Warn("skipped malformed chunks", zap.String("world", path), zap.Int("chunks", res.Malformed))
	}
	return res, nil
}

// CopyFrom stages the contents of every labeled container in the given
// source worlds. It refuses to run while a staging file exists.
func (m *Migrator) CopyFrom(ctx context.Context, paths []string) (CopyReport, error) {
	var rep CopyReport
	started := m.opts.Now()

	exists, err := m.opts.Codec.Exists(m.opts.StagingPath)
	if err != nil {
		return rep, fmt.Errorf("check staging file: %w", err)
	}
	if exists {
		return rep, fmt.Errorf("%w: %s", ErrStagingFileExists, m.opts.StagingPath)
	}

	m.log.Info("preparing source worlds", zap.Int("worlds", len(paths)))
	matcher := match.Matcher{Mode: match.ClosestOnly, Limit: m.opts.SearchLimit}
	groups := match.Groups{}
	for i, path := range paths {
		m.log.Info("loading source world", zap.Int("n", i+1), zap.Int("of", len(paths)), zap.String("path", path))
		w, err := m.opts.Open(path)
		if err != nil {
			return rep, err
		}
		res, err := m.scanWorld(w, path)
		if err != nil {
			return rep, err
		}
		st := matcher.Add(groups, res)
		m.log.Info("matched containers",
			zap.String("world", path),
			zap.Int("containers", st.Containers),
			zap.Int("signs", st.Signs),
			zap.Int("matched", st.Matched),
			zap.Int("orphaned", st.Orphaned))
		rep.Worlds = append(rep.Worlds, WorldReport{Path: path, Chunks: len(res.Chunks), Malformed: res.Malformed, Stats: st})
	}

	pool := Stage(groups)
	rep.Labels = len(pool)
	rep.Items = pool.Total()
	if err := m.opts.Codec.Save(m.opts.StagingPath, pool); err != nil {
		return rep, err
	}
	m.log.Info("saved staging file", zap.String("path", m.opts.StagingPath), zap.Int("labels", rep.Labels), zap.Int("items", rep.Items))

	run := indexdb.Run{Mode: indexdb.ModeCopy, Worlds: paths, StartedAt: started, Remaining: rep.Items, Saved: true}
	for _, w := range rep.Worlds {
		run.Containers += w.Containers
		run.Matched += w.Matched
		run.Orphaned += w.Orphaned
		run.Malformed += w.Malformed
	}
	m.record(ctx, run)
	return rep, nil
}

// Stage flattens matched containers into a pool: for each label, its
// containers' items in container order, each container's items in slot
// order. Labels that contribute nothing are left out.
func Stage(groups match.Groups) staging.Pool {
	pool := staging.Pool{}
	for _, label := range groups.Labels() {
		var items []store.Item
		for _, c := range groups[label].Containers {
			its := append([]store.Item(nil), c.Entity.Items...)
			sort.SliceStable(its, func(i, j int) bool { return its[i].Slot < its[j].Slot })
			items = append(items, its...)
		}
		if len(items) > 0 {
			pool[label] = items
		}
	}
	return pool
}

// MergeInto drains the staged pool into the destination world. The world
// and the staging file are written only if at least one item moved.
func (m *Migrator) MergeInto(ctx context.Context, path string) (MergeReport, error) {
	rep := MergeReport{WorldReport: WorldReport{Path: path}}
	started := m.opts.Now()

	pool, err := m.loadPool()
	if err != nil {
		return rep, err
	}

	m.log.Info("loading destination world", zap.String("path", path))
	w, err := m.opts.Open(path)
	if err != nil {
		return rep, err
	}
	res, err := m.scanWorld(w, path)
	if err != nil {
		return rep, err
	}
	rep.Chunks = len(res.Chunks)
	rep.Malformed = res.Malformed

	groups := match.Groups{}
	rep.Stats = match.Matcher{Mode: match.NearSet, Limit: m.opts.SearchLimit}.Add(groups, res)
	m.log.Info("found destination containers", zap.Int("containers", rep.Containers), zap.Int("signs", rep.Signs))

	engine := &merge.Engine{World: w, Chunks: res.Chunks, Logger: m.log}
	for _, label := range pool.Labels() {
		grp, ok := groups[label]
		if !ok || len(pool[label]) == 0 {
			continue
		}
		left, lr, err := engine.MergeLabel(label, pool[label], grp)
		if err != nil {
			return rep, fmt.Errorf("merge %s: %w", label, err)
		}
		pool[label] = left
		rep.Labels = append(rep.Labels, lr)
		rep.Migrated += lr.Migrated
		m.log.Info("merged label",
			zap.String("label", label),
			zap.Int("migrated", lr.Migrated),
			zap.Int("remaining", lr.Remaining),
			zap.Bool("completed", lr.Completed))
	}
	rep.Remaining = pool.Total()

	if rep.Migrated == 0 {
		m.log.Info("nothing was migrated")
	} else {
		if m.opts.BackupDir != "" {
			dir, err := archive.Backup(m.opts.BackupDir, "merge", m.opts.Now(), path, m.opts.StagingPath)
			if err != nil {
				return rep, fmt.Errorf("backup before merge: %w", err)
			}
			rep.Backup = dir
			m.log.Info("backed up destination world", zap.String("dir", dir))
		}
		if err := m.opts.Codec.Save(m.opts.StagingPath, pool); err != nil {
			return rep, err
		}
		if err := w.SaveInPlace(); err != nil {
			return rep, err
		}
		rep.Saved = true
		m.log.Info("saved destination world", zap.String("path", path), zap.Int("migrated", rep.Migrated), zap.Int("remaining", rep.Remaining))
	}

	run := indexdb.Run{
		Mode:       indexdb.ModeMerge,
		Worlds:     []string{path},
		StartedAt:  started,
		Containers: rep.Containers,
		Matched:    rep.Matched,
		Orphaned:   rep.Orphaned,
		Malformed:  rep.Malformed,
		Migrated:   rep.Migrated,
		Remaining:  rep.Remaining,
		Saved:      rep.Saved,
	}
	for _, lr := range rep.Labels {
		run.Labels = append(run.Labels, indexdb.LabelRow{Label: lr.Label, Migrated: lr.Migrated, Remaining: lr.Remaining, Completed: lr.Completed})
	}
	m.record(ctx, run)
	return rep, nil
}

// Remaining reports how many staged items each label still holds.
func (m *Migrator) Remaining() (RemainingReport, error) {
	var rep RemainingReport
	pool, err := m.loadPool()
	if err != nil {
		return rep, err
	}
	for _, label := range pool.Labels() {
		n := len(pool[label])
		rep.Labels = append(rep.Labels, LabelCount{Label: label, Items: n})
		rep.Total += n
	}
	return rep, nil
}

func (m *Migrator) loadPool() (staging.Pool, error) {
	m.log.Debug("loading staging file", zap.String("path", m.opts.StagingPath))
	pool, err := m.opts.Codec.Load(m.opts.StagingPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStagingFileMissing, m.opts.StagingPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load staging file: %w", err)
	}
	return pool, nil
}

func (m *Migrator) record(ctx context.Context, run indexdb.Run) {
	if m.opts.Ledger == nil {
		return
	}
	run.FinishedAt = m.opts.Now()
	id, err := m.opts.Ledger.RecordRun(ctx, run)
	if err != nil {
		m.log.Warn("ledger: record run", zap.Error(err))
		return
	}
	m.log.Debug("ledger: recorded run", zap.String("run_id", id))
}
