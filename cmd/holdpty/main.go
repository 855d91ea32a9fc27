package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "holdpty",
	Short: "Hold a PTY open for a spawned command so other processes can attach",
	Long: `holdpty spawns a command under a pseudo-terminal and keeps it running in a
holder process, independent of any particular client. Other processes can
later attach interactively, view read-only, or dump recent output, by name,
through a local filesystem-registered endpoint.`,
}

// exitCodeError lets a subcommand propagate the remote child's exit code
// through cobra's error-returning RunE without printing a spurious
// "holdpty: exit status N" error line.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func exitWithCode(code int) error {
	if code == 0 {
		return nil
	}
	return exitCodeError{code: code}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ec exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		fmt.Fprintf(os.Stderr, "holdpty: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	var logLevel string
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cobra.OnInitialize(func() {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			lvl = logrus.WarnLevel
		}
		log.SetLevel(lvl)
	})

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(stopCmd)
}
