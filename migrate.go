package main

import (
	"github.com/spf13/cobra"

	"inbox-service/internal/db"
	"inbox-service/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := db.Connect(cmd.Context(), cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.Migrate(cmd.Context(), database); err != nil {
			return err
		}
		log := logging.Component("main")
		log.Info().Msg("migrations complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
