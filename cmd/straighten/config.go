package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/config"
	"github.com/jackzampolin/straighten/internal/home"
)

var (
	configForce  bool
	configPrefix string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Local configuration commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if h.ConfigExists() && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", h.ConfigPath())
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", h.ConfigPath())
		return nil
	},
}

var configDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "List configuration keys and their defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out []config.Entry
		for _, e := range config.DefaultEntries() {
			if strings.HasPrefix(e.Key, configPrefix) {
				out = append(out, e)
			}
		}
		return api.Output(out)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configDefaultsCmd.Flags().StringVar(&configPrefix, "prefix", "", "Only keys with this prefix, e.g. detector.")

	configCmd.AddCommand(configInitCmd, configDefaultsCmd)
	rootCmd.AddCommand(configCmd)
}
