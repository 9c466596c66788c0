package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running straighten server via HTTP.

These commands require a running server (straighten serve).
Use --server to specify a custom server URL.

Examples:
  straighten api health                        # Check server health
  straighten api sessions upload scan.pdf      # Rasterize a PDF into a session
  straighten api batch start <session> --wait  # Rectify every page
  straighten api export export <session> -f out.pdf`,
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

// group builds a subcommand holding the commands of eps.
func group(use, short string, eps []api.Endpoint) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}
	for _, ep := range eps {
		if sub := ep.Command(getServerURL); sub != nil {
			cmd.AddCommand(sub)
		}
	}
	return cmd
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(group("sessions", "Session management commands", endpoints.SessionCommands()))
	apiCmd.AddCommand(group("pages", "Per-page rectification and editing commands", endpoints.PageCommands()))
	apiCmd.AddCommand(group("batch", "Batch rectification commands", endpoints.BatchCommands()))
	apiCmd.AddCommand(group("export", "PDF export commands", endpoints.ExportCommands()))
	apiCmd.AddCommand(group("settings", "Configuration settings commands", endpoints.SettingsCommands()))

	rootCmd.AddCommand(apiCmd)
}
