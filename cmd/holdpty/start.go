package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"holdpty/internal/holder"
	"holdpty/internal/ptyproc"
)

var (
	startName string
	startCols int
	startRows int
	startCwd  string
)

var startCmd = &cobra.Command{
	Use:   "start -- <command> [args...]",
	Short: "Spawn a command under a PTY and hold it open",
	Long: `start spawns the given command under a pseudo-terminal in this process,
writes the session's metadata and registers its endpoint, then pipes the
current terminal's stdin/stdout into the session until the command exits.
Other processes can attach, view, or dump the same session by name while
this process (or any other holder of the same session) is running.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startName, "name", "", "session name (generated if omitted)")
	startCmd.Flags().IntVar(&startCols, "cols", int(ptyproc.DefaultSize.Cols), "initial terminal columns")
	startCmd.Flags().IntVar(&startRows, "rows", int(ptyproc.DefaultSize.Rows), "initial terminal rows")
	startCmd.Flags().StringVar(&startCwd, "cwd", "", "working directory for the spawned command")
}

func runStart(cmd *cobra.Command, args []string) error {
	h, err := holder.Start(holder.Options{
		Command: args,
		Name:    startName,
		Size:    ptyproc.Size{Cols: uint16(startCols), Rows: uint16(startRows)},
		Cwd:     startCwd,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %q started (pid %d, child %d)\n", h.Name(), h.PID(), h.ChildPID())

	if err := h.PipeForeground(); err != nil {
		return fmt.Errorf("pipe foreground: %w", err)
	}

	// Wait for the full shutdown sequence (metadata/endpoint removal) rather
	// than exiting the instant the child does; the linger only matters to
	// remote connectors, and it is short, so this keeps the single-binary
	// path from leaving a stale registry entry for Enumerate to reap later.
	<-h.ShutdownComplete()

	code, _ := h.ExitCode()
	return exitWithCode(code)
}
