package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/config"
	"github.com/jackzampolin/straighten/internal/home"
	"github.com/jackzampolin/straighten/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "straighten",
	Short: "Deskew and crop scanned pages",
	Long: `Straighten finds the four corners of the paper in each scanned page,
rotates the page so its top edge is level and crops it to the page.

Corners come from a vision model over any OpenAI-compatible API, or are
supplied by hand. Pages are processed a few at a time; a page that fails
keeps its original image and is reported at the end.

Run it as a server (straighten serve) and drive it over HTTP with the api
commands, or process files directly with straighten rectify.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.straighten/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "straighten home directory (default: ~/.straighten)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)

	// Set output format and load .env before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger from --log-level.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// loadConfig resolves the home directory and loads configuration from
// --config, ./config.yaml or the home directory.
func loadConfig(logger *slog.Logger) (*home.Dir, *config.Manager, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	cm, err := config.NewManager(cfgFile, h.Path(), logger)
	if err != nil {
		return nil, nil, err
	}
	if f := cm.File(); f != "" {
		logger.Debug("loaded config", "file", f)
	}
	return h, cm, nil
}
