//go:build windows

package holder

import (
	"os"
	"syscall"
)

// sigWinch has no Windows equivalent (there is no SIGWINCH); this is a
// signal number the OS never raises, so PipeForeground's resize watcher
// is effectively inert on Windows beyond its initial syncTerminalSize call.
var sigWinch os.Signal = syscall.Signal(0xff)
