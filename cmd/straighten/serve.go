package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the straighten server",
	Long: `Start the straighten HTTP server.

Sessions are held in memory. Uploaded PDFs are kept under the home
directory's uploads folder and exports are written to its exports folder.
Edits to the config file are picked up without a restart.

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check (includes detector credentials)
  - /status - Detector, rate limiter and session counts

Examples:
  straighten serve                    # Start on default port 8080
  straighten serve --port 3000        # Start on custom port
  straighten serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}

		h, cm, err := loadConfig(logger)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
