package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"holdpty/internal/peer"
	"holdpty/internal/registry"
)

var logsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Dump a session's recent output and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir, err := registry.Dir()
	if err != nil {
		return err
	}
	p, err := peer.Dial(dir, args[0], peer.ModeLogs, log)
	if err != nil {
		return fmt.Errorf("connect to %q: %w", args[0], err)
	}
	defer p.Close()

	return p.RunLogs(cmd.OutOrStdout())
}
