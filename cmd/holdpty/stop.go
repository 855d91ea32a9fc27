package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"holdpty/internal/registry"
)

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Signal a session's child process to terminate",
	Long: `stop always targets the child process first. On platforms where
termination is non-cooperative (Windows), it also signals the holder
process itself to guarantee cleanup. If the session is already gone,
its stale registry entry is reaped and a clear message is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	name := args[0]
	dir, err := registry.Dir()
	if err != nil {
		return err
	}

	if _, err := registry.Enumerate(dir); err != nil {
		log.WithError(err).Debug("enumerate before stop failed")
	}

	if err := registry.Stop(dir, name); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "session %q is not running\n", name)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %q stopped\n", name)
	return nil
}
