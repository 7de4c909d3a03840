package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/afyatrack/afyatrack-api/internal/auth"
	"github.com/afyatrack/afyatrack-api/internal/database"
	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/repository"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.db.Close()

			if err := database.MigrateUp(cmd.Context(), a.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			svc, err := a.tokenService(nil)
			if err != nil {
				return err
			}
			u, err := svc.CreateUser(cmd.Context(), auth.RegisterInput{
				Email:      email,
				Password:   password,
				FirstName:  "System",
				LastName:   "Administrator",
				Role:       model.RoleAdmin,
				AllowAdmin: true,
			})
			if errors.Is(err, repository.ErrEmailExists) {
				a.log.Info().Str("email", email).Msg("admin already exists")
				return nil
			}
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			a.log.Info().Uint64("id", u.ID).Str("email", u.Email).Msg("admin created")
			return nil
		},
	}
	cmd.Flags().String("email", "admin@afyatrack.com", "Admin email")
	cmd.Flags().String("password", "AfyaTrack123!", "Admin password")
	return cmd
}
