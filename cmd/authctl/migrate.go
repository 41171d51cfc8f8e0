package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"authgate.org/internal/migrate"
	"authgate.org/internal/obs"
	"authgate.org/internal/store/pg"
)

func newMigrateCommand() *cobra.Command {
	var (
		dsn     string
		timeout time.Duration
	)

	// run opens the database and hands a manager over the embedded schema to fn.
	run := func(cmd *cobra.Command, fn func(context.Context, *migrate.Manager) error) error {
		if dsn == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dsn = cfg.PGDSN
		}
		if dsn == "" {
			return errors.New("missing DSN: provide via --dsn or AUTH_PG_DSN")
		}
		db, err := pg.Open(dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		mgr := migrate.NewManager(db, pg.Migrations(), pg.Seeds(), migrate.WithLogger(obs.Component("migrate")))
		return fn(ctx, mgr)
	}

	printAll := func(cmd *cobra.Command, verb string, names []string) {
		if len(names) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "nothing to %s\n", verb)
			return
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert the database schema",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (default $AUTH_PG_DSN)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, m *migrate.Manager) error {
					applied, err := m.Up(ctx)
					printAll(cmd, "apply", applied)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, m *migrate.Manager) error {
					name, err := m.Down(ctx)
					if errors.Is(err, migrate.ErrNothingToRollback) {
						fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), name)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply pending seed files",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, m *migrate.Manager) error {
					applied, err := m.Seed(ctx)
					printAll(cmd, "seed", applied)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, m *migrate.Manager) error {
					history, err := m.Status(ctx)
					if err != nil {
						return err
					}
					printAll(cmd, "report", history)
					return nil
				})
			},
		},
	)
	return cmd
}
