package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"snakeplane/internal/config"
	"snakeplane/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the submission ledger schema to the configured database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath())
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("no database configured; set database_url or DATABASE_URL")
		}

		db, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if cmd.Flags().Changed("force") {
			force, _ := cmd.Flags().GetInt("force")
			if err := postgres.ForceVersion(db, force); err != nil {
				return err
			}
			cmd.Printf("Ledger schema marked clean at version %d\n", force)
		}

		version, err := postgres.Migrate(db)
		if err != nil {
			return err
		}
		cmd.Printf("Ledger schema at version %d\n", version)
		return nil
	},
}

func init() {
	migrateCmd.Flags().Int("force", 0, "Mark a dirty schema clean at this version before migrating")
	rootCmd.AddCommand(migrateCmd)
}
