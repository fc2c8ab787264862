package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const programName = "planningpoker"

var globalFlags = struct {
	configFile string
	debug      bool
}{}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Planning poker room server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&globalFlags.configFile, "config", "c", config.DefaultConfigPath, "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		watchCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// commonRun loads configuration and sets up logging for a subcommand.
func commonRun(cmd *cobra.Command) (*config.Config, error) {
	// An explicitly named config file must exist
	required := false
	if f := cmd.Flag("config"); f != nil {
		required = f.Changed
	}
	cfg, err := config.Load(globalFlags.configFile, required)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level := cfg.Level()
	if globalFlags.debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	return cfg, nil
}
