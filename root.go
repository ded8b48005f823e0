package main

import (
	"os"
	"sync"

	"fluxfill/core"
	"fluxfill/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "fluxfill",
		Short:         "Inpaint transparent layer regions with Flux Fill",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "Mirror log entries to stderr")

	rootCmd.AddCommand(newInpaintCommand(ctx))
	rootCmd.AddCommand(newMaskCommand(ctx))
	rootCmd.AddCommand(newLayersCommand(ctx))
	rootCmd.AddCommand(newInitCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newCleanCommand(ctx))
	return rootCmd
}

// commandContext lazily loads configuration and the logger shared by all
// subcommands.
type commandContext struct {
	verbose bool

	configOnce sync.Once
	config     *core.Config
	configErr  error

	loggerOnce sync.Once
	logger     *logging.Logger
	loggerErr  error
}

func (c *commandContext) ensureConfig() (*core.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = core.LoadConfig()
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger(cmd *cobra.Command) (*logging.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.loggerOnce.Do(func() {
		opts := logging.Options{
			Development: cfg.DevMode,
			FilePath:    cfg.LogFile,
			File:        logging.DefaultFileWriterConfig(),
			Level:       cfg.LogLevel,
		}
		if c.verbose {
			opts.Console = cmd.ErrOrStderr()
		}
		c.logger, c.loggerErr = logging.NewLoggerWithOptions(opts)
		if c.loggerErr == nil {
			c.logger.Debug("Configuration loaded",
				zap.String("command", cmd.Name()),
				zap.String("provider", cfg.Provider),
				zap.String("endpoint", cfg.Endpoint),
				zap.Duration("request_timeout", cfg.RequestTimeout),
				zap.String("workers", cfg.Workers),
				zap.String("temp_dir", cfg.TempDir),
				zap.Bool("history", cfg.HistoryDB != ""),
				zap.Int("pid", os.Getpid()),
			)
		}
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) close() {
	if c.logger != nil {
		c.logger.Sync()
	}
}
