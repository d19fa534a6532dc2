package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(*configPath)
			if err != nil {
				return err
			}
			defer env.logger.Sync()

			repo, closeRepo, err := env.openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRepo()

			if err := repo.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			env.logger.Info("Schema is up to date")
			return nil
		},
	}
}

func seedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo patients into an empty database",
		Long: `Insert John Doe, Jane Smith and Alice Johnson when no patients exist.
Running it again is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(*configPath)
			if err != nil {
				return err
			}
			defer env.logger.Sync()

			ctx := cmd.Context()
			repo, closeRepo, err := env.openRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			if err := repo.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			seeded, err := notes.Seed(ctx, repo)
			if err != nil {
				return err
			}
			if seeded {
				env.logger.Info("Seeded patients", logger.Int("count", len(notes.DefaultPatients())))
			} else {
				env.logger.Info("Patients already present, nothing to seed")
			}
			return nil
		},
	}
}
