package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
	"amplifi/internal/wire"
)

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the MySQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(flags)
			if err != nil {
				return err
			}
			db, cleanup, err := wire.ProvideMySQL(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			common.Log.Info("Running database migration...")
			if err := dbmysql.AutoMigrate(db); err != nil {
				return err
			}
			common.Log.Info("Database migration completed successfully")
			return nil
		},
	}
}

func seedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the fake users, sample posts and test conversation, then repair participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(flags)
			if err != nil {
				return err
			}
			seeder, cleanup, err := wire.InitializeSeeder(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := seeder.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
