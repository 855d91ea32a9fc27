package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"holdpty/internal/registry"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List live sessions, reaping any stale registry entries",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	dir, err := registry.Dir()
	if err != nil {
		return err
	}
	entries, err := registry.Enumerate(dir)
	if err != nil {
		return fmt.Errorf("enumerate sessions: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPID\tCHILD\tSIZE\tSTARTED\tREACHABLE\tCOMMAND")
	for _, e := range entries {
		m := e.Metadata
		fmt.Fprintf(w, "%s\t%d\t%d\t%dx%d\t%s\t%v\t%s\n",
			m.Name, m.PID, m.ChildPID, m.Cols, m.Rows, m.StartedAt, e.EndpointReachable, joinCommand(m.Command))
	}
	return w.Flush()
}

func joinCommand(command []string) string {
	out := ""
	for i, c := range command {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}
