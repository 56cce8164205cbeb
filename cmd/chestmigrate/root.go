package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gmcnew/migrate-chests/internal/config"
	"github.com/gmcnew/migrate-chests/internal/migrate"
	"github.com/gmcnew/migrate-chests/internal/persistence/indexdb"
)

// errNoMode means usage was already printed.
var errNoMode = errors.New("no mode selected")

type app struct {
	stdout io.Writer
	stderr io.Writer

	// Global flags
	verbose     bool
	configPath  string
	stagingPath string
	ledgerPath  string
	backupDir   string
	searchLimit int
	noProgress  bool

	// Mode flags
	from           []string
	to             string
	printRemaining bool

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "chestmigrate [--from WORLD...] [--to WORLD] [--print-remaining]",
		Short: "Migrate chests from one world to another",
		Long: `Migrate the contents of labeled chests between worlds.

A chest is labeled by a nearby sign whose first matching line looks like
"group:name". Copying stages every labeled chest's items in a staging file;
merging fills chests near signs with the same label in the destination world
and marks those signs "(migrated!)" once a label is fully placed.

  chestmigrate --from old.world [more.world...]
  chestmigrate --to new.world
  chestmigrate --print-remaining`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: a.run,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.stagingPath, "staging", "", "Staging file path (default raw_items.stage)")
	pf.StringVar(&a.ledgerPath, "ledger", "", "sqlite run ledger path (empty disables the ledger)")
	pf.StringVar(&a.backupDir, "backup-dir", "", "Back up the destination world and staging file here before a merge writes them")
	pf.IntVar(&a.searchLimit, "search-limit", 0, "Largest sign-to-chest Manhattan distance (default 17)")
	pf.BoolVar(&a.noProgress, "no-progress", false, "Disable scan progress bars")

	f := root.Flags()
	f.StringArrayVar(&a.from, "from", nil, "Source worlds to stage chests from")
	f.StringVar(&a.to, "to", "", "Destination world to merge staged items into")
	f.BoolVar(&a.printRemaining, "print-remaining", false, "Print how many staged slots each label still holds")

	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newInspectCmd(a))
	return root
}

// setup loads the config, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	// Conflicting modes fail before the config or any world is read.
	if !a.printRemaining && len(a.from) > 0 && a.to != "" {
		return migrate.ErrUsageConflict
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("staging") {
		cfg.StagingPath = a.stagingPath
	}
	if flags.Changed("ledger") {
		cfg.LedgerPath = a.ledgerPath
	}
	if flags.Changed("backup-dir") {
		cfg.BackupDir = a.backupDir
	}
	if flags.Changed("search-limit") {
		cfg.SearchLimit = a.searchLimit
	}
	if a.noProgress {
		cfg.Progress = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if a.verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(a.stderr), level)
	a.logger = zap.New(core)
	return nil
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	// "--from a b c" leaves b and c as positional arguments.
	from := a.from
	if len(args) > 0 {
		if len(from) == 0 {
			_ = cmd.Usage()
			return errNoMode
		}
		from = append(append([]string(nil), from...), args...)
	}

	switch {
	case a.printRemaining:
		return a.runRemaining()
	case len(from) > 0 && a.to != "":
		return migrate.ErrUsageConflict
	case len(from) > 0:
		return a.runCopy(cmd, from)
	case a.to != "":
		return a.runMerge(cmd, a.to)
	default:
		_ = cmd.Usage()
		return errNoMode
	}
}

func (a *app) migrator() (*migrate.Migrator, func()) {
	opts := migrate.Options{
		StagingPath: a.cfg.StagingPath,
		SearchLimit: a.cfg.SearchLimit,
		BackupDir:   a.cfg.BackupDir,
		Logger:      a.logger,
	}
	closeFn := func() {}
	if a.cfg.LedgerPath != "" {
		ledger, err := indexdb.OpenSQLite(a.cfg.LedgerPath)
		if err != nil {
			a.logger.Warn("ledger disabled", zap.String("path", a.cfg.LedgerPath), zap.Error(err))
		} else {
			opts.Ledger = ledger
			closeFn = func() { _ = ledger.Close() }
		}
	}
	if a.cfg.Progress {
		p := newScanProgress(a.stderr)
		opts.Progress = p.update
		prev := closeFn
		closeFn = func() { p.finish(); prev() }
	}
	return migrate.New(opts), closeFn
}

func (a *app) runCopy(cmd *cobra.Command, paths []string) error {
	m, done := a.migrator()
	defer done()

	fmt.Fprintf(a.stdout, "Chests and signs in %s will be prepared for migration.\n", english.Plural(len(paths), "world", ""))
	rep, err := m.CopyFrom(cmd.Context(), paths)
	if err != nil {
		return err
	}
	for i, w := range rep.Worlds {
		fmt.Fprintf(a.stdout, "\nSource world %d of %d (%s): %s, %s, %s.\n",
			i+1, len(rep.Worlds), w.Path,
			english.Plural(w.Chunks, "chunk", ""),
			english.Plural(w.Containers, "chest", ""),
			english.Plural(w.Signs, "migration sign", ""))
		printMalformed(a.stdout, w.Malformed)
		fmt.Fprintf(a.stdout, "%s will be migrated, %d orphaned.\n", english.Plural(w.Matched, "chest", ""), w.Orphaned)
	}
	fmt.Fprintf(a.stdout, "\nStaged %s under %s in %s%s.\n",
		english.Plural(rep.Items, "slot", ""), english.Plural(rep.Labels, "label", ""),
		m.StagingPath(), fileSize(m.StagingPath()))
	fmt.Fprintln(a.stdout, "Finished.")
	return nil
}

func (a *app) runMerge(cmd *cobra.Command, path string) error {
	m, done := a.migrator()
	defer done()

	rep, err := m.MergeInto(cmd.Context(), path)
	if err != nil {
		return err
	}
	printMalformed(a.stdout, rep.Malformed)
	fmt.Fprintf(a.stdout, "Found %s and %s.\n\n",
		english.Plural(rep.Containers, "chest", ""),
		english.Plural(rep.Signs, "sign", ""))
	for _, lr := range rep.Labels {
		fmt.Fprintf(a.stdout, "%s --> %s migrated, %s.\n", lr.Label,
			english.Plural(lr.Migrated, "slot", ""), remain(lr.Remaining))
	}
	if !rep.Saved {
		fmt.Fprintln(a.stdout, "Nothing was migrated.")
		return nil
	}
	if rep.Backup != "" {
		fmt.Fprintf(a.stdout, "Backed up previous files to %s.\n", rep.Backup)
	}
	fmt.Fprintf(a.stdout, "Saved %s; %s still staged.\n", path, english.Plural(rep.Remaining, "slot", ""))
	return nil
}

func (a *app) runRemaining() error {
	m, done := a.migrator()
	defer done()

	rep, err := m.Remaining()
	if err != nil {
		return err
	}
	for _, lc := range rep.Labels {
		fmt.Fprintf(a.stdout, "%4d slots for %s\n", lc.Items, lc.Label)
	}
	fmt.Fprintf(a.stdout, "%4d total\n", rep.Total)
	return nil
}

func printMalformed(w io.Writer, n int) {
	if n > 0 {
		fmt.Fprintf(w, "Skipped %s\n", english.Plural(n, "malformed chunk", ""))
	}
}

// remain conjugates the verb: "1 remains", "2 remain".
func remain(n int) string {
	if n == 1 {
		return "1 remains"
	}
	return fmt.Sprintf("%d remain", n)
}

func fileSize(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return " (" + strings.ReplaceAll(humanize.Bytes(uint64(fi.Size())), " ", "") + ")"
}
