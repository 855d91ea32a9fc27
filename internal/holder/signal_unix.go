//go:build !windows

package holder

import (
	"os"
	"syscall"
)

// sigWinch is the terminal-resize signal PipeForeground watches to keep
// the PTY size synced with the controlling terminal.
var sigWinch os.Signal = syscall.SIGWINCH
