package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pinnlo/service_layer/internal/app/storage/postgres"
	"github.com/pinnlo/service_layer/internal/platform/migrations"
)

func migrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema (DATABASE_URL)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withMigrator(cmd.Context(), func(mg *migrations.Migrator) error {
				if err := mg.Up(); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return printVersion(cmd, mg)
			})
		},
	})

	var all bool
	down := &cobra.Command{
		Use:   "down [n]",
		Short: "Roll back n migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 1
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 1 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				n = v
			}
			if all {
				n = 0
			}
			return c.withMigrator(cmd.Context(), func(mg *migrations.Migrator) error {
				if err := mg.Down(n); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return printVersion(cmd, mg)
			})
		},
	}
	down.Flags().BoolVar(&all, "all", false, "Roll back every migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withMigrator(cmd.Context(), func(mg *migrations.Migrator) error {
				return printVersion(cmd, mg)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Record version as applied without running it (clears a dirty state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return c.withMigrator(cmd.Context(), func(mg *migrations.Migrator) error {
				if err := mg.Force(v); err != nil {
					return fmt.Errorf("migrate force: %w", err)
				}
				return printVersion(cmd, mg)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Execute every embedded up migration in order without version tracking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDB(cmd.Context(), func(db *sql.DB) error {
				if err := migrations.Apply(cmd.Context(), db); err != nil {
					return err
				}
				list, err := migrations.List()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", len(list))
				return nil
			})
		},
	})

	return cmd
}

func (c *cli) withDB(ctx context.Context, fn func(*sql.DB) error) error {
	if c.cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := postgres.Open(ctx, c.cfg.Database.URL, 2)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (c *cli) withMigrator(ctx context.Context, fn func(*migrations.Migrator) error) error {
	return c.withDB(ctx, func(db *sql.DB) error {
		mg, err := migrations.NewMigrator(db)
		if err != nil {
			return err
		}
		defer mg.Close()
		return fn(mg)
	})
}

func printVersion(cmd *cobra.Command, mg *migrations.Migrator) error {
	v, dirty, err := mg.Version()
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", v)
	return nil
}
