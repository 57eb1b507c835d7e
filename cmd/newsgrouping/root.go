package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/logging"
)

var cfgFile string

// rootCmd is the base command: a persistent --config flag plus
// cobra.OnInitialize loading config once before any subcommand runs.
var rootCmd = &cobra.Command{
	Use:   "newsgrouping",
	Short: "Ingests, groups, and trend-synthesizes news articles",
	Long: `newsgrouping continuously organizes incoming news articles into
topical groups and surfaces short-lived trends within them, enriching
each article with extracted entities, companies, CVE identifiers, and
external references along the way.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; no file is read when unset)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "newsgrouping: loading config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Debug)
}
