package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stelwijs/stelwijs/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := db.Migrate(cfg.PostgresURL(), newLogger()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	cmd.Println("migrations applied")
	return nil
}
