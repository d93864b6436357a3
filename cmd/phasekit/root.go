package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/metalagman/phasekit/internal/config"
	"github.com/metalagman/phasekit/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	envFile  string
	debug    bool
	jsonLogs bool
	rootCmd  = &cobra.Command{
		Use:   "phasekit",
		Short: "phasekit runs phased multi-agent pipelines behind quality gates",
	}
)

// Execute runs the root command.
func Execute() error {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", filepath.Join(config.DefaultDir, "config.json"), "config file path")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config when present")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	flags.BoolVar(&jsonLogs, "log-json", false, "write logs as JSON lines")
	if err := viper.BindPFlag("config", flags.Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Configure(logging.Options{Debug: debug, JSON: jsonLogs})
		return loadEnvFile(envFile)
	}
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runsCmd())
	return rootCmd.Execute()
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
}
