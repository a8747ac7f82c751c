package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPortsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List detected serial ports and configured devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.listPorts()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range list {
				fmt.Fprintln(out, p)
			}
			for _, dev := range a.cfg.Devices {
				fmt.Fprintf(out, "%s\t%s\n", dev.Name, dev.Port)
			}
			if len(list) == 0 && len(a.cfg.Devices) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no serial ports detected")
			}
			return nil
		},
	}
}
