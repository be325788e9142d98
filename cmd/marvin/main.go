// Package main implements marvin, a tool that parses diffs and suggests the
// best reviewer for a change from the blame history of the touched lines.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/cache"
	"github.com/codeGROOVE-dev/marvin/pkg/config"
	"github.com/codeGROOVE-dev/marvin/pkg/metrics"
	"github.com/codeGROOVE-dev/marvin/pkg/reviewer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries what every subcommand shares once flags and config are loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	store   *cache.DiskCache
}

// rootFlags maps persistent flags onto config keys.
type rootFlags struct {
	configPath  string
	format      string
	cacheDir    string
	exclude     []string
	verbosity   int
	workers     int
	noCache     bool
	showChanges bool
	includeBots bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var flags rootFlags

	root := &cobra.Command{
		Use:           "marvin",
		Short:         "Suggest reviewers for a change from the blame history of the lines it touches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, &flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default .marvin.yaml in the working or home directory)")
	pf.CountVarP(&flags.verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	pf.StringVarP(&flags.format, "output", "o", config.DefaultOutputFormat, "output format: table, json or yaml")
	pf.StringVar(&flags.cacheDir, "cache-dir", "", "blame cache directory (default user cache dir)")
	pf.BoolVar(&flags.noCache, "no-cache", false, "disable the persistent blame cache")
	pf.IntVar(&flags.workers, "workers", config.DefaultWorkers, "concurrent blame lookups")
	pf.StringSliceVar(&flags.exclude, "exclude", nil, "user names never suggested")
	pf.BoolVar(&flags.showChanges, "show-changes", false, "list every attributed line change")
	pf.BoolVar(&flags.includeBots, "include-bots", false, "allow automation accounts as candidates")

	root.AddCommand(
		newParseCmd(a),
		newRecommendCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

// overrides returns config overrides for flags the user actually set.
func (f *rootFlags) overrides(cmd *cobra.Command) map[string]any {
	changed := cmd.Flags().Changed
	out := make(map[string]any)
	if changed("output") {
		out["output.format"] = f.format
	}
	if changed("show-changes") {
		out["output.show_changes"] = f.showChanges
	}
	if changed("cache-dir") {
		out["cache.dir"] = f.cacheDir
	}
	if changed("no-cache") {
		out["cache.enabled"] = !f.noCache
	}
	if changed("workers") {
		out["review.workers"] = f.workers
	}
	if changed("exclude") {
		out["review.exclude"] = f.exclude
	}
	if changed("include-bots") {
		out["review.skip_bots"] = !f.includeBots
	}
	return out
}

func (a *app) init(cmd *cobra.Command, flags *rootFlags) error {
	a.logger = newLogger(cmd.ErrOrStderr(), flags.verbosity)
	slog.SetDefault(a.logger)

	cfg, err := config.LoadConfig(flags.configPath, flags.overrides(cmd))
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.metrics = metrics.NewCollector()
	return nil
}

func newLogger(w io.Writer, verbosity int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// blameProvider wraps p with the persistent cache when it is enabled.
func (a *app) blameProvider(p blame.Scoped) (blame.Provider, error) {
	if !a.cfg.Cache.Enabled {
		return p, nil
	}
	if a.store == nil {
		dir, err := a.cfg.CacheDir()
		if err != nil {
			return nil, err
		}
		store, err := cache.NewDiskCache(a.logger, a.cfg.Cache.TTL, dir)
		if err != nil {
			return nil, fmt.Errorf("opening blame cache: %w", err)
		}
		a.store = store
	}
	persistent := blame.NewPersistent(a.logger, p.Scope(), p, a.store)
	persistent.OnCacheResult(a.metrics.ObserveCache)
	return persistent, nil
}

func (a *app) newFinder(p blame.Provider) *reviewer.Finder {
	finder := reviewer.New(a.logger, p, reviewer.Config{
		Exclude:  a.cfg.Review.Exclude,
		Workers:  a.cfg.Review.Workers,
		SkipBots: a.cfg.Review.SkipBots,
	})
	finder.Resolver().OnLookup(a.metrics.ObserveLookup)
	return finder
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:              "version",
		Short:            "Print the version",
		Args:             cobra.NoArgs,
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "marvin %s\n", version)
			return err
		},
	}
}
