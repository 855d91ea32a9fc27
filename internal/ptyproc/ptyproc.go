// Package ptyproc abstracts spawning a PTY-backed child process across
// platforms: creack/pty on POSIX, Windows ConPTY via UserExistsError/conpty
// on Windows.
package ptyproc

// Size is a terminal's column/row dimensions.
type Size struct {
	Cols uint16
	Rows uint16
}

// DefaultSize is the holder's default PTY size (spec.md §4.4).
var DefaultSize = Size{Cols: 120, Rows: 40}

// Process is a spawned PTY-backed child process.
type Process interface {
	// Read reads raw bytes produced by the child.
	Read(buf []byte) (int, error)
	// Write sends raw bytes to the child's stdin.
	Write(data []byte) (int, error)
	// Resize changes the PTY's window size.
	Resize(size Size) error
	// Wait blocks until the child exits and returns its exit code.
	Wait() (int, error)
	// Signal sends the platform terminate signal to the child.
	Signal() error
	// PID returns the child's process id.
	PID() int
	// Close releases the PTY's resources without waiting for the child.
	Close() error
}
