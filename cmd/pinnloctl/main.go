// Command pinnloctl runs PINNLO maintenance tasks: schema migrations, template
// seeding and read-only debug queries.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	app "github.com/pinnlo/service_layer/internal/app"
	"github.com/pinnlo/service_layer/internal/app/storage"
	"github.com/pinnlo/service_layer/internal/config"
	"github.com/pinnlo/service_layer/internal/logging"
)

type storeOpener func(ctx context.Context, cfg *config.Config, log *logging.Logger) (storage.Store, func() error, error)

// cli holds state shared by the subcommands. Config is loaded once by the
// root command before any subcommand runs.
type cli struct {
	envFile    string
	loadConfig func() (*config.Config, error)
	openStore  storeOpener

	cfg *config.Config
	log *logging.Logger
}

func main() {
	c := &cli{
		loadConfig: config.Load,
		openStore:  app.OpenStore,
	}
	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pinnloctl",
		Short:         "PINNLO admin tool",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(c.envFile); err != nil {
				return err
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = logging.New("pinnloctl", cfg.LogLevel, "text")
			c.log.Logger.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.envFile, "env", ".env", "Path to a .env file (missing file is ignored)")

	rootCmd.AddCommand(migrateCmd(c))
	rootCmd.AddCommand(seedCmd(c))
	rootCmd.AddCommand(debugCmd(c))
	return rootCmd
}

// withStore opens the configured store for the duration of fn.
func (c *cli) withStore(ctx context.Context, fn func(storage.Store) error) error {
	store, closeStore, err := c.openStore(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	return fn(store)
}
