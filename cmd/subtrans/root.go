package main

import (
	"sync"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/persistence"
	"github.com/MimeLyc/subtrans/pkg/log"
	"github.com/spf13/cobra"
)

type commandContext struct {
	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		log.InitLogger(log.Options{Level: log.ParseLevel(cfg.Log.Level), Format: cfg.Log.Format})
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the SQLite store under DATA_DIR for the duration of fn.
func (c *commandContext) withStore(fn func(*persistence.SQLiteStore) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "subtrans",
		Short:         "Chunked SRT subtitle translation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newTranslateCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newGlossaryCommand(ctx))
	rootCmd.AddCommand(newSensitiveCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))
	rootCmd.AddCommand(newTestNotifyCommand(ctx))

	return rootCmd
}
