package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leozw/blueprint-sot/internal/app"
	"github.com/leozw/blueprint-sot/internal/db"
)

func newMigrateCmd(opts *globalOptions, p *printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			conn, err := app.OpenDatabase(cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.Migrate(conn); err != nil {
				return err
			}
			p.success("Migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			conn, err := app.OpenDatabase(cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.MigrateDown(conn, steps); err != nil {
				return err
			}
			p.success("Rolled back %d migration(s)", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}
