package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ashell-monkey",
		Short: "Run JavaScript test scripts on an ashell device",
		Long: `ashell-monkey drives the interactive acm> shell of a device over a serial
port, TCP console, SSH console server or local process. It loads the assertion
helper, then loads and runs each test script in turn and reports which scripts
did not pass every assertion.

Exit status is 0 when every script passed, 1 when any script failed and 2 when
the run could not complete.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate(fmt.Sprintf("ashell-monkey version {{.Version}}\n  Build time: %s\n  Git commit: %s\n", BuildTime, GitCommit))

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to configuration file (YAML or TOML)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json (overrides config)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		return a.loadConfig()
	}

	root.AddCommand(
		newRunCommand(a),
		newWatchCommand(a),
		newPortsCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newConfigCommand(a),
	)
	return root
}
