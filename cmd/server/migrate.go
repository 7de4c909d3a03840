package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/afyatrack/afyatrack-api/internal/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.db.Close()

			if err := database.MigrateUp(cmd.Context(), a.db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			a.log.Info().Msg("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.db.Close()

			statuses, err := database.Status(cmd.Context(), a.db)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-16s %-10s %s\n", "VERSION", "STATUS", "SOURCE")
			for _, s := range statuses {
				status := "pending"
				if s.Applied {
					status = "applied"
				}
				fmt.Printf("%-16d %-10s %s\n", s.Version, status, s.Source)
			}
			return nil
		},
	})
	return cmd
}
