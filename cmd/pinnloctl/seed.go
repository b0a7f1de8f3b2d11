package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pinnlo/service_layer/internal/app/services/templates"
	"github.com/pinnlo/service_layer/internal/app/storage"
	"github.com/pinnlo/service_layer/internal/config"
)

func seedCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data",
	}

	var file string
	tmpl := &cobra.Command{
		Use:   "templates",
		Short: "Upsert template cards from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.StoreBackend == config.BackendMemory {
				return errors.New("seeding needs a persistent store: set DATABASE_URL or SUPABASE_URL and SUPABASE_SERVICE_KEY")
			}
			return c.withStore(cmd.Context(), func(store storage.Store) error {
				n, err := templates.New(store, c.log.Named("templates")).Seed(cmd.Context(), file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d templates into %s store\n", n, c.cfg.StoreBackend)
				return nil
			})
		},
	}
	tmpl.Flags().StringVarP(&file, "file", "f", "configs/templates.yaml", "Template YAML file")
	cmd.AddCommand(tmpl)

	return cmd
}
