package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/simphiwe-mabaso/family-dining/cmd/dinectl/ui"
	"github.com/simphiwe-mabaso/family-dining/internal/app"
	"github.com/simphiwe-mabaso/family-dining/internal/config"
	"github.com/simphiwe-mabaso/family-dining/internal/database"
	"github.com/simphiwe-mabaso/family-dining/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "dinectl",
		Short:         "Administer the family dining auth service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "Skip confirmation prompts")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  runMigrate,
	}
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE:  runMigrateStatus,
	})

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete refresh and reset tokens past their retention window",
		RunE:  runSweep,
	}

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	userCmd.AddCommand(
		&cobra.Command{
			Use:   "activate <email>",
			Short: "Re-enable a disabled account",
			Args:  cobra.ExactArgs(1),
			RunE:  runSetActive(true),
		},
		&cobra.Command{
			Use:   "deactivate <email>",
			Short: "Disable an account and revoke all of its sessions",
			Args:  cobra.ExactArgs(1),
			RunE:  runSetActive(false),
		},
		&cobra.Command{
			Use:   "revoke-sessions <email>",
			Short: "Revoke every refresh token of an account",
			Args:  cobra.ExactArgs(1),
			RunE:  runRevokeSessions,
		},
	)

	rootCmd.AddCommand(migrateCmd, sweepCmd, userCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// withApp loads configuration, connects and hands the app to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logging.NewLogger(false))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func confirmed(cmd *cobra.Command, title, description string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	ok, err := ui.Confirm(title, description)
	if err != nil {
		return false, fmt.Errorf("prompt cancelled: %w", err)
	}
	if !ok {
		ui.PrintWarning("Aborted.")
	}
	return ok, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
		ui.PrintSuccess("Migrations applied.")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return database.MigrationStatus(ctx, a.DB)
	})
}

func runSweep(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		refresh, resets, err := a.Sweeper.SweepOnce(ctx)
		if err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("Removed %d refresh and %d reset tokens.", refresh, resets))
		return nil
	})
}

func runSetActive(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			u, err := a.Users.GetByEmail(ctx, args[0])
			if err != nil {
				return err
			}

			ui.PrintTitle("Account")
			ui.PrintUser(u)

			title := "Enable this account?"
			if !active {
				title = "Disable this account and revoke its sessions?"
			}
			if ok, err := confirmed(cmd, title, ""); err != nil || !ok {
				return err
			}

			if _, err := a.SetUserActive(ctx, u.Email, active); err != nil {
				return err
			}

			if active {
				ui.PrintSuccess("Account enabled.")
			} else {
				ui.PrintSuccess("Account disabled and sessions revoked.")
			}
			return nil
		})
	}
}

func runRevokeSessions(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		u, err := a.Users.GetByEmail(ctx, args[0])
		if err != nil {
			return err
		}

		ui.PrintTitle("Account")
		ui.PrintUser(u)

		if ok, err := confirmed(cmd, "Revoke every session of this account?", "The user will have to log in again."); err != nil || !ok {
			return err
		}

		if _, err := a.RevokeSessions(ctx, u.Email); err != nil {
			return err
		}
		ui.PrintSuccess("Sessions revoked.")
		return nil
	})
}
