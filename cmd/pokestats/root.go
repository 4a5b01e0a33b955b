package main

import (
	"github.com/spf13/cobra"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/config"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/logging"
)

// rootOptions holds the global flags and the configuration they produce.
type rootOptions struct {
	configPath  string
	logLevel    string
	pretty      bool
	maxID       int
	concurrency int
	backend     string
	dir         string

	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "pokestats",
		Short: "Fetch the Pokemon catalog and rank height and weight",
		Long: `pokestats retrieves every Pokemon from PokeAPI concurrently, computes the
percentile rank of height and weight against the whole catalog, stores the
raw catalog and the percentiles, and answers lookups by id.

Configuration is read from --config (YAML), then POKESTATS_* environment
variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", defaults.Log.Level, "log level (debug|info|warn|error)")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable console logs")
	flags.IntVar(&opts.maxID, "max-id", defaults.MaxID, "last id of the catalog")
	flags.IntVar(&opts.concurrency, "concurrency", defaults.ConcurrencyLimit, "maximum parallel fetches")
	flags.StringVar(&opts.backend, "backend", defaults.Store.Backend, "store backend (csv|sqlite)")
	flags.StringVar(&opts.dir, "dir", defaults.Store.Dir, "store directory")

	cmd.AddCommand(newFetchCommand(opts))
	cmd.AddCommand(newAnalyzeCommand(opts))
	cmd.AddCommand(newLookupCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

// load reads the config and applies the flags the user set explicitly.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = o.pretty
	}
	if flags.Changed("max-id") {
		cfg.MaxID = o.maxID
	}
	if flags.Changed("concurrency") {
		cfg.ConcurrencyLimit = o.concurrency
	}
	if flags.Changed("backend") {
		cfg.Store.Backend = o.backend
	}
	if flags.Changed("dir") {
		cfg.Store.Dir = o.dir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Setup(cfg.LoggingConfig())
	o.cfg = cfg
	return nil
}
