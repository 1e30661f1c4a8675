package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tenantcast",
	Short: "tenantcast - Multi-tenant real-time event hub",
	Long: `tenantcast fans out real-time events (task updates, agent registry
changes, chat and collaborative-session control messages) to WebSocket
clients, isolated per tenant, with a short replay history on connect.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return loadEnvFile(envFile)
	},
	SilenceUsage: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tenantcast version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (default ./tenantcast.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before reading config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadEnvFile loads KEY=VALUE pairs without overriding the real environment.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
