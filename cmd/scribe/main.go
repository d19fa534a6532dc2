package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "scribe",
		Short: "OASIS scribe - turns home-health visit recordings into clinical notes",
		Long: `scribe ingests recorded clinician visits, transcribes and summarizes them,
and pre-fills OASIS Section G (M1800-M1860) functional scores for review.

Configuration is read from a TOML file (--config, SCRIBE_CONFIG or ./config.toml),
then .env, then the process environment.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(seedCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
