package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kovra/internal/auth"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/internal/migration"
	"github.com/smallbiznis/kovra/internal/observability"
	"github.com/smallbiznis/kovra/internal/organization"
	organizationdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/internal/ratelimit"
	"github.com/smallbiznis/kovra/internal/server"
	"github.com/smallbiznis/kovra/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const commandTimeout = 2 * time.Minute

// infrastructure is shared by every command.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(provideSnowflake),
		db.Module,
		clock.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}

func provideSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				infrastructure(),
				migration.Module,
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), fx.Options(
				infrastructure(),
				migration.Module,
			))
		},
	}
}

func newBootstrapAdminCommand() *cobra.Command {
	var (
		email       string
		password    string
		displayName string
		orgName     string
	)

	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the first local administrator and its organization",
		Long: `Create a local user with the OWNER and ADMIN roles and an organization it owns.

Examples:
  kovra bootstrap-admin --email admin@example.com --password 's3cret-pass' --org "Acme"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), fx.Options(
				infrastructure(),
				migration.Module,
				organization.Module,
				ratelimit.Module,
				auth.Module,
				fx.Invoke(func(authsvc authdomain.Service, orgs organizationdomain.Service, log *zap.Logger) error {
					ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
					defer cancel()

					user, err := authsvc.CreateUser(ctx, authdomain.CreateUserRequest{
						Email:       email,
						Password:    password,
						DisplayName: displayName,
						Roles:       []string{principal.RoleOwner, principal.RoleAdmin},
					})
					if err != nil {
						return err
					}
					org, err := orgs.Create(ctx, user.ID, organizationdomain.CreateOrganizationRequest{Name: orgName})
					if err != nil {
						return err
					}
					orgID, err := snowflake.ParseString(org.ID)
					if err != nil {
						return err
					}
					if err := orgs.SetMembership(ctx, orgID, user.ID, principal.RoleOwner, true); err != nil {
						return err
					}

					log.Info("administrator created",
						zap.String("user_id", user.ID.String()),
						zap.String("email", user.Email),
						zap.String("org_id", org.ID),
					)
					return nil
				}),
			))
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Administrator email (required)")
	cmd.Flags().StringVar(&password, "password", "", "Administrator password (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	cmd.Flags().StringVar(&orgName, "org", "Default", "Organization name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// runOnce builds the graph, which runs its invokes, then starts and stops
// it so lifecycle hooks fire.
func runOnce(parent context.Context, opts fx.Option) error {
	if parent == nil {
		parent = context.Background()
	}
	app := fx.New(opts)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(ctx)
}
