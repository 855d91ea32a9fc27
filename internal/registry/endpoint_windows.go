//go:build windows

package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

// dirHash fingerprints the absolute session directory so that two
// environments pointing at different directories never collide on the
// process-wide named pipe namespace. Any stable non-cryptographic
// fingerprint is acceptable (spec.md §4.3); fnv32a is sufficient.
func dirHash(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(abs))
	return fmt.Sprintf("%08x", h.Sum32())
}

// EndpointPath returns the named-pipe path for a session.
func EndpointPath(dir, name string) string {
	return fmt.Sprintf(`\\.\pipe\holdpty-%s-%s`, dirHash(dir), name)
}

// Listen begins listening on the session's named pipe.
func Listen(dir, name string) (net.Listener, error) {
	return winio.ListenPipe(EndpointPath(dir, name), nil)
}

// DialEndpoint connects to a session's named pipe for the stale-probe check
// or for a peer's initial connection.
func DialEndpoint(dir, name string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return winio.DialPipeContext(ctx, EndpointPath(dir, name))
}

// removeEndpointFile is a no-op on Windows: a named pipe self-releases on
// last-handle-close, it has no filesystem entry to unlink.
func removeEndpointFile(dir, name string) error {
	return nil
}

func probeEndpoint(dir, name string) bool {
	conn, err := DialEndpoint(dir, name, staleProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// processAlive checks PID existence, which is necessary but not sufficient
// on Windows (aggressive PID reuse): callers must also consult
// probeEndpoint before treating a session as stale (spec.md §4.3, §9).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}

func realUID() int {
	// Windows has no POSIX uid; the directory-resolution chain never
	// reaches this branch because step 2 (system-temp/dt) is checked first.
	return -1
}

// signalTerminate forcibly terminates pid. Windows termination is
// non-cooperative (spec.md §4.4, §9). Missing processes are not an error.
func signalTerminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}
