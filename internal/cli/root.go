// Package cli implements the storycards commands.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/config"
	"github.com/qninhdt/storycards/internal/llm"
	"github.com/qninhdt/storycards/internal/logging"
)

// options are the persistent flags plus state shared between the pre-run
// hook and the subcommands
type options struct {
	dbPath   string
	driver   string
	provider string
	logLevel string

	// stub replaces the configured LLM client; tests only
	stub llm.Provider

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the storycards command tree
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "storycards",
		Short:         "Card-driven interactive fiction engine",
		Long:          "Compose story prompts from a graph of narrative cards, play turns against an LLM and keep the story's memory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "Database path (default: $DB_PATH)")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "SQLite driver: sqlite3 or sqlite (default: $DB_DRIVER)")
	root.PersistentFlags().StringVar(&opts.provider, "provider", "", "LLM provider (default: $LLM_PROVIDER)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (default: $LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(opts),
		newSeedCmd(opts),
		newPlayCmd(opts),
		newPromptCmd(opts),
		newHistoryCmd(opts),
		newGenerateCmd(opts),
	)
	return root
}

// load reads the environment and applies flag overrides
func (o *options) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.driver != "" {
		cfg.DBDriver = o.driver
	}
	if o.provider != "" {
		cfg.LLMProvider = o.provider
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	logger, _, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}
