package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"quarry/internal/config"
)

const version = "0.3.0"

var (
	// Global flags
	configPath string
	dbPath     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "quarry - offline-first question answering over an archived knowledge base",
	Long: `quarry answers questions from a local knowledge archive: scraped web
pages, uploaded spreadsheets and PDFs, and a deterministic analytics
engine for tabular data. Online search fills the archive; answering
keeps working offline.

Run without arguments to start the interactive chat interface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the quarry version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quarry %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".quarry/config.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override the SQLite database path")

	rootCmd.AddCommand(serveCmd, askCmd, chatCmd, ingestCmd, documentsCmd, statsCmd, versionCmd)
}

// loadSettings loads the config file and applies global flag overrides.
func loadSettings() (*config.Settings, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
