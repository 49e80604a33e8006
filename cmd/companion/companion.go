package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-companion/config"
)

const companionLongDesc string = `Companion is a chat assistant with tiered memory.

Run it using:
  companion serve      Run the HTTP and WebSocket API
  companion fact       Generate one daily fact and print it`

const companionShortDesc string = "Companion - tiered-memory chat assistant"

func NewCompanionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "companion",
		Short:        companionShortDesc,
		Long:         companionLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewFactCmd())

	return cmd
}

// loadConfig reads the config file named by --config and applies --debug.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not get config flag: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("debug") {
		cfg.Debug, err = cmd.Flags().GetBool("debug")
		if err != nil {
			return nil, fmt.Errorf("could not get debug flag: %v", err)
		}
	}
	return cfg, nil
}
