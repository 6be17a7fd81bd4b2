package cmd

import (
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solatis/aem/internal/core/db"
	"github.com/solatis/aem/internal/kvstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the SQL state store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

// sqlStorageURL returns the configured storage URL when it names a SQL database.
func sqlStorageURL(cmd *cobra.Command) (string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(cfg.Storage.URL)
	if err != nil {
		return "", fmt.Errorf("invalid storage URL: %w", err)
	}
	switch u.Scheme {
	case "sqlite", "postgres", "postgresql":
		return cfg.Storage.URL, nil
	default:
		return "", fmt.Errorf("migrations apply to sqlite and postgres storage only, got %q", u.Scheme)
	}
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	dbURL, err := sqlStorageURL(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	database, err := db.Open(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := db.MigrateUp(ctx, database); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	dbURL, err := sqlStorageURL(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	database, err := db.Open(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tSTATUS\tAPPLIED AT\tDURATION")
	pending := 0
	for _, s := range statuses {
		state, appliedAt, duration := "pending", "-", "-"
		if s.Applied {
			state, appliedAt, duration = "applied", s.AppliedAt, fmt.Sprintf("%dms", s.ExecutionMs)
		} else {
			pending++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, state, appliedAt, duration)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}

	// The schema is current, so opening the store applies nothing.
	store, err := kvstore.NewSQLStore(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nstored keys: %d\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", k)
	}
	return nil
}
