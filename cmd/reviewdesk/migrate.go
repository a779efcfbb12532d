package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"reviewdesk/api/internal/config"
	"reviewdesk/api/internal/store"
)

func migrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
			if err != nil {
				return err
			}
			defer db.Close()

			if dryRun {
				pending, err := store.PendingMigrations(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Println("No pending migrations")
					return nil
				}
				for _, version := range pending {
					fmt.Printf("pending: %s\n", version)
				}
				return nil
			}

			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			for _, version := range applied {
				fmt.Printf("applied: %s\n", version)
			}
			fmt.Printf("%d migration(s) applied\n", len(applied))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}
