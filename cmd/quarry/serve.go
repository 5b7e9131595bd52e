package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quarry/internal/logging"
	"quarry/internal/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serves the quarry API: unary and streaming ask endpoints, document
upload and lifecycle, runtime settings, and health. Spreadsheets that
were uploaded before analytics was enabled are ingested at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}

		app, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if err := app.docs.ReconcileAnalytics(ctx); err != nil {
			logging.Boot("analytics reconciliation failed: %v", err)
		}

		// Reload settings when the config file changes on disk.
		go func() {
			if err := app.manager.Watch(ctx); err != nil {
				logging.Config("config watch stopped: %v", err)
			}
		}()

		srv := server.New(app.manager, app.orch, app.docs, app.st, app.brave, app.llm)
		fmt.Printf("quarry %s listening on %s\n", version, cfg.ListenAddr)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
}
