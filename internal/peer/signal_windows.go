//go:build windows

package peer

import (
	"os"
	"syscall"
)

// No SIGWINCH on Windows; this signal number is never raised, so the
// resize watcher is inert beyond RunInteractive's initial send.
var sigWinch os.Signal = syscall.Signal(0xff)
