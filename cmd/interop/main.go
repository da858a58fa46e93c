package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/suas/interop/config"
)

var (
	cfg         config.Config
	databaseURL string
	logLevel    string
	logDir      string
)

var rootCmd = &cobra.Command{
	Use:   "interop",
	Short: "Mission configuration service for the interoperability system",
	Long:  `Serves mission listings, the active mission and waypoint replacement over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.FromEnv()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("database-url") {
			loaded.DatabaseURL = databaseURL
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-dir") {
			loaded.LogDir = logDir
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&databaseURL, "database-url", "d", "", "PostgreSQL URL or sqlite://<path> (overrides DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for rotated log files (default stderr)")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
