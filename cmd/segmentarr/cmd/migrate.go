package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/segmentarr/internal/database"
	"github.com/jmylchreest/segmentarr/internal/database/migrations"
	"github.com/jmylchreest/segmentarr/internal/observability"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending database migrations and print the migration status.

The server applies migrations on start as well; this command is for
preparing a database ahead of a deployment. --down rolls back the most
recent migration instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"), nil)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		defer db.Close()

		migrator := migrations.NewMigrator(db.DB, logger)
		migrator.RegisterAll(migrations.AllMigrations())
		if migrateDown {
			err = migrator.Down(ctx)
		} else {
			err = migrator.Up(ctx)
		}
		if err != nil {
			return err
		}

		statuses, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tAPPLIED\tDESCRIPTION")
		for _, s := range statuses {
			applied := "pending"
			if s.AppliedAt != nil {
				applied = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, applied, s.Description)
		}
		return w.Flush()
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the most recent migration")
	rootCmd.AddCommand(migrateCmd)
}
