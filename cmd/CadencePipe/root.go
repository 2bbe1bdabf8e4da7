package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:          "CadencePipe",
	Short:        "Multi-channel outreach sequencing and delivery engine",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initializeLogger(viper.GetString(keyLogLevel))
		return nil
	},
}

func init() {
	cobra.OnInitialize(loadDotEnv)

	f := rootCmd.PersistentFlags()
	f.String("state-dir", DefaultStateDir, "state directory for the SQLite database and lock file")
	f.String("db-dsn", "", "database DSN; a postgres:// URL or a SQLite path (default <state-dir>/cadencepipe.db)")
	f.String("sequences-dir", "", "directory of YAML sequence definitions synced on startup")
	f.String("leads-file", "", "YAML file of leads served as the lead directory")
	f.String("leads-dsn", "", "PostgreSQL DSN of the CRM database holding the leads table")
	f.String("log-level", "info", "log level: debug, info, warn, error")

	bindFlag(keyStateDir, f.Lookup("state-dir"))
	bindFlag(keyDatabaseURL, f.Lookup("db-dsn"))
	bindFlag(keySequencesDir, f.Lookup("sequences-dir"))
	bindFlag(keyLeadsFile, f.Lookup("leads-file"))
	bindFlag(keyLeadsDSN, f.Lookup("leads-dsn"))
	bindFlag(keyLogLevel, f.Lookup("log-level"))

	configureViper()
}

// loadDotEnv loads .env before viper reads the environment.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
}

// initializeLogger installs a text handler on stdout at the given level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
