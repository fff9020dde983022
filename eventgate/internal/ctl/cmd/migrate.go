package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/eventgate/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the event store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := databaseURL(cmd)
		if err != nil {
			return err
		}
		out, err := printer(cmd)
		if err != nil {
			return err
		}
		if err := migrations.Up(url); err != nil {
			return err
		}
		out.Success("Schema is up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		all, _ := cmd.Flags().GetBool("all")
		if all {
			steps = 0
		} else if steps <= 0 {
			return fmt.Errorf("--steps must be positive (or use --all)")
		}

		url, err := databaseURL(cmd)
		if err != nil {
			return err
		}
		out, err := printer(cmd)
		if err != nil {
			return err
		}
		if err := migrations.Down(url, steps); err != nil {
			return err
		}
		if all {
			out.Success("Rolled back all migrations")
		} else {
			out.Success("Rolled back %d migration(s)", steps)
		}
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := databaseURL(cmd)
		if err != nil {
			return err
		}
		out, err := printer(cmd)
		if err != nil {
			return err
		}

		version, dirty, ok, err := migrations.Version(url)
		if err != nil {
			return err
		}
		if !ok {
			out.Info("No migrations applied")
			return nil
		}
		if dirty {
			out.Warn("Schema version %d is dirty", version)
			return nil
		}
		out.Info("Schema version %d", version)
		return nil
	},
}

func databaseURL(cmd *cobra.Command) (string, error) {
	url := strings.TrimSpace(activeProfile(cmd).DatabaseURL)
	if url == "" {
		return "", fmt.Errorf("database URL is required (use --database-url or a profile)")
	}
	return url, nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back")
	migrateDownCmd.Flags().Bool("all", false, "roll back every migration")
}
