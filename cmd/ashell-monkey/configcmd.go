package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acolita/ashell-monkey/internal/config"
	"github.com/acolita/ashell-monkey/internal/transport"
)

func (a *app) configFile() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.DefaultConfigPath()
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configFile()
			if _, err := a.fs.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.DefaultConfig(), path, a.fs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	addDevice := &cobra.Command{
		Use:   "add-device <name> <port>",
		Short: "Give a port a short name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := transport.Parse(args[1]); err != nil {
				return err
			}
			if err := a.cfg.AddDevice(config.DeviceConfig{Name: args[0], Port: args[1]}); err != nil {
				return err
			}
			path := a.configFile()
			if err := config.Save(a.cfg, path, a.fs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added device %s (%s) to %s\n", args[0], args[1], path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, addDevice)
	return cmd
}
