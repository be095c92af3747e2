package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/restrack/restrack/internal/config"
	"github.com/restrack/restrack/internal/domain/identity"
	"github.com/restrack/restrack/internal/platform/auth"
	"github.com/restrack/restrack/internal/platform/db"
	"github.com/restrack/restrack/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.PersistentFlags().String("dir", "", "Read migrations from this directory instead of the embedded set")

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, schema, source, err := migrateTarget(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openLocalPool(ctx, cfg, schema)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.EnsureSchema(ctx, pool, schema); err != nil {
				return err
			}

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, source).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, schema, source, err := migrateTarget(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openLocalPool(ctx, cfg, schema)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, source).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

// migrateTarget resolves the config, the schema and the migration source
// from the migrate flags.
func migrateTarget(cmd *cobra.Command) (*config.Config, string, fs.FS, error) {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return nil, "", nil, err
	}
	if schema == "" {
		schema = cfg.DBSchema
	}
	if !db.ValidSchema(schema) {
		return nil, "", nil, fmt.Errorf("invalid schema identifier: %s", schema)
	}
	return cfg, schema, migrationSource(dir), nil
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with a generated password",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			email, _ := cmd.Flags().GetString("email")
			admin, _ := cmd.Flags().GetBool("admin")
			if username == "" || email == "" {
				return fmt.Errorf("--username and --email are required")
			}

			return withIdentity(func(ctx context.Context, svc *identity.Service) error {
				u, password, err := svc.CreateUser(ctx, identity.NewUser{
					Username: username,
					Email:    email,
					IsAdmin:  admin,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Created user %s (id %d, admin=%t)\n", u.Username, u.ID, u.IsAdmin)
				fmt.Printf("Temporary password: %s\n", password)
				fmt.Println("The password must be changed on first login.")
				return nil
			})
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().Bool("admin", false, "Allow the user to create other accounts")
	cmd.AddCommand(createCmd)

	resetCmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Replace a user's password and clear any lockout",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			if username == "" {
				return fmt.Errorf("--username is required")
			}

			return withIdentity(func(ctx context.Context, svc *identity.Service) error {
				password, err := svc.ResetPassword(ctx, username)
				if err != nil {
					return err
				}
				fmt.Printf("Temporary password for %s: %s\n", username, password)
				fmt.Println("The password must be changed on next login.")
				return nil
			})
		},
	}
	resetCmd.Flags().String("username", "", "Login name")
	cmd.AddCommand(resetCmd)

	return cmd
}

// withIdentity opens the local store and runs fn against an identity service.
// No token is ever issued from the CLI, so the issuer carries no key.
func withIdentity(fn func(ctx context.Context, svc *identity.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := openLocalPool(ctx, cfg, cfg.DBSchema)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := identity.NewService(identity.NewUserRepo(pool), auth.NewTokenIssuer(nil, cfg.TokenTTL()), identity.Policy{
		AllowedEmailDomains: cfg.AllowedEmailDomains,
	})
	return fn(ctx, svc)
}
