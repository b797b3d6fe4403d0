// cmd/licensectl/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/javajoker/license-backend/internal/app"
	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

// cliActor is the identity administrative commands act as.
var cliActor = services.Actor{UserID: "licensectl", Role: models.UserRoleAdmin}

// Runtime loads configuration and opens the engine for each command.
type Runtime struct {
	loadConfig func() (*config.Config, error)
	open       func(ctx context.Context, cfg *config.Config, logger *logrus.Logger, migrate bool) (*app.App, error)
}

func defaultRuntime() *Runtime {
	return &Runtime{loadConfig: config.Load, open: app.New}
}

func (r *Runtime) withApp(migrate bool, fn func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := r.loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger := utils.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Environment)
		logger.SetOutput(cmd.ErrOrStderr())

		a, err := r.open(cmd.Context(), cfg, logger, migrate)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func NewRootCommand(r *Runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "licensectl",
		Short:         "Administer the license backend",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newMigrateCommand(r),
		newBulkCreateCommand(r),
		newValidateCommand(r),
		newRevokeCommand(r),
		newTokenCommand(r),
	)
	return root
}

func newMigrateCommand(r *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: r.withApp(true, func(cmd *cobra.Command, args []string, a *app.App) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		}),
	}
}

func newBulkCreateCommand(r *Runtime) *cobra.Command {
	c := &cobra.Command{
		Use:   "bulk-create",
		Short: "Issue a batch of licenses from one template",
		Args:  cobra.NoArgs,
		RunE: r.withApp(false, func(cmd *cobra.Command, args []string, a *app.App) error {
			owner, _ := cmd.Flags().GetString("owner")
			licenseType, _ := cmd.Flags().GetString("type")
			count, _ := cmd.Flags().GetInt("count")
			export, _ := cmd.Flags().GetBool("export")
			maxActivations, _ := cmd.Flags().GetInt("max-activations")
			days, _ := cmd.Flags().GetInt("days")

			req := &services.BulkCreateRequest{
				Template: services.CreateLicenseRequest{
					OwnerID:        owner,
					Type:           models.LicenseType(licenseType),
					MaxActivations: maxActivations,
				},
				Count:  count,
				Export: export,
			}
			if cmd.Flags().Changed("days") {
				req.Template.ExpirationDays = &days
			}

			result, err := a.Services.Bulk.BulkCreate(cmd.Context(), cliActor, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		}),
	}
	c.Flags().String("owner", "", "owner of the issued licenses")
	c.Flags().String("type", string(models.LicenseTypeStandard), "license type")
	c.Flags().Int("count", 1, "number of licenses to issue")
	c.Flags().Int("max-activations", 0, "activation limit (type default when 0)")
	c.Flags().Int("days", 0, "validity in days (type default when unset)")
	c.Flags().Bool("export", false, "export the issued keys as CSV")
	c.MarkFlagRequired("owner")
	return c
}

func newValidateCommand(r *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <key>",
		Short: "Validate a license key",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(false, func(cmd *cobra.Command, args []string, a *app.App) error {
			result, err := a.Services.Validation.Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		}),
	}
}

func newRevokeCommand(r *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <license-id>",
		Short: "Revoke a license",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(false, func(cmd *cobra.Command, args []string, a *app.App) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid license id %q: %w", args[0], err)
			}
			license, err := a.Services.License.Revoke(cmd.Context(), cliActor, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd, license)
		}),
	}
}

// newTokenCommand mints a bearer token for local testing. It needs no database.
func newTokenCommand(r *Runtime) *cobra.Command {
	c := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := r.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			user, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			switch models.UserRole(role) {
			case models.UserRoleAdmin, models.UserRoleReseller, models.UserRoleUser:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			utils.SetJWTSecret(cfg.JWT.SecretKey)
			utils.SetJWTIssuer(cfg.JWT.Issuer)
			token, err := utils.GenerateJWT(user, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	c.Flags().String("user", "", "subject user id")
	c.Flags().String("role", string(models.UserRoleUser), "role claim (admin, reseller, user)")
	c.Flags().Duration("ttl", time.Hour, "token lifetime")
	c.MarkFlagRequired("user")
	return c
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
