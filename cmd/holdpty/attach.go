package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"holdpty/internal/peer"
	"holdpty/internal/registry"
)

var attachCmd = &cobra.Command{
	Use:   "attach <name>",
	Short: "Attach interactively to a running session as its exclusive writer",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect(peer.ModeAttach),
}

var viewCmd = &cobra.Command{
	Use:   "view <name>",
	Short: "Attach read-only to a running session",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect(peer.ModeView),
}

func runConnect(mode peer.Mode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dir, err := registry.Dir()
		if err != nil {
			return err
		}
		p, err := peer.Dial(dir, args[0], mode, log)
		if err != nil {
			return fmt.Errorf("connect to %q: %w", args[0], err)
		}
		defer p.Close()

		if code, exited := p.AlreadyExited(); exited {
			cmd.OutOrStdout().Write(p.ReplayBytes())
			return exitWithCode(code)
		}

		code, exited, err := p.RunInteractive()
		if err != nil {
			return err
		}
		if !exited {
			return nil
		}
		return exitWithCode(code)
	}
}
