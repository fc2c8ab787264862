package main

import (
	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/mcdev12/planningpoker/go/internal/rooms/repository"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the room tables in the configured SQL database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := commonRun(cmd); err != nil {
				return err
			}
			dbCfg, err := dbconfig.NewConfigFromEnv()
			if err != nil {
				return err
			}

			database, dialect, err := setupDatabase(cmd.Context(), dbCfg)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := repository.CreateSchema(cmd.Context(), database, dialect); err != nil {
				return err
			}
			log.Info().Str("driver", dbCfg.Driver).Msg("schema is up to date")
			return nil
		},
	}
}
