//go:build !windows

package peer

import (
	"os"
	"syscall"
)

var sigWinch os.Signal = syscall.SIGWINCH
