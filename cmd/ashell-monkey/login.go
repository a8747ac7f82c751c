package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acolita/ashell-monkey/internal/transport"
)

// sshTarget parses an ssh:// port or device name into host:port and user.
func (a *app) sshTarget(arg string) (transport.Endpoint, string, error) {
	port, err := a.resolvePort(arg)
	if err != nil {
		return transport.Endpoint{}, "", err
	}
	ep, err := transport.Parse(port)
	if err != nil {
		return transport.Endpoint{}, "", err
	}
	if ep.Kind != transport.KindSSH {
		return transport.Endpoint{}, "", fmt.Errorf("%s is not an ssh:// console", port)
	}
	user := ep.User
	if user == "" {
		user = a.fs.Getenv("USER")
	}
	return ep, user, nil
}

func newLoginCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login <ssh://user@host[:port]|device>",
		Short: "Store a console server password in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, user, err := a.sshTarget(args[0])
			if err != nil {
				return err
			}

			password, err := a.prompter.PromptSecret(fmt.Sprintf("Password for %s@%s", user, ep.Address))
			if err != nil {
				return err
			}
			if err := a.credentials(a.fs).StoreConsolePassword(ep.Address, user, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored password for %s@%s\n", user, ep.Address)
			return nil
		},
	}
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <ssh://user@host[:port]|device>",
		Short: "Remove a stored console server password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, user, err := a.sshTarget(args[0])
			if err != nil {
				return err
			}
			if err := a.credentials(a.fs).DeleteConsolePassword(ep.Address, user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed password for %s@%s\n", user, ep.Address)
			return nil
		},
	}
}
