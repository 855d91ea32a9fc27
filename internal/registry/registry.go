// Package registry implements the filesystem-as-registry discipline: session
// directory resolution, endpoint path derivation, metadata persistence,
// stale-session reaping, and session name validation/generation.
package registry

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"
)

// Metadata is the JSON record written to {dir}/{name}.json. Readers must
// tolerate extra fields, so unknown keys are simply ignored by
// encoding/json's default decoding.
type Metadata struct {
	Name      string   `json:"name"`
	PID       int      `json:"pid"`
	ChildPID  int      `json:"childPid"`
	Command   []string `json:"command"`
	Cols      int      `json:"cols"`
	Rows      int      `json:"rows"`
	StartedAt string   `json:"startedAt"`
}

// Entry is a live session as seen by Enumerate: its metadata plus whether
// the endpoint answered the liveness probe.
type Entry struct {
	Metadata          Metadata
	EndpointReachable bool
}

// ErrSessionNotFound indicates no live session matched a requested name.
var ErrSessionNotFound = errors.New("registry: session not found")

// ErrInvalidName indicates a caller-supplied session name fails the naming
// rule `[A-Za-z0-9_-]{1,64}`.
var ErrInvalidName = errors.New("registry: invalid session name")

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName reports whether name matches the session-name rule.
func ValidateName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

var extRE = regexp.MustCompile(`(?i)\.(exe|cmd|bat|sh|ps1)$`)
var stripRE = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// GenerateName derives a session name from the first token of a command
// vector, per spec.md §3: basename, strip a trailing script extension
// case-insensitively, drop disallowed characters, truncate to 16, fall back
// to "session" if empty, then append a random 4-hex-digit suffix.
func GenerateName(command []string) (string, error) {
	base := "session"
	if len(command) > 0 && command[0] != "" {
		b := filepath.Base(command[0])
		b = extRE.ReplaceAllString(b, "")
		b = stripRE.ReplaceAllString(b, "")
		if len(b) > 16 {
			b = b[:16]
		}
		if b != "" {
			base = b
		}
	}

	suffix, err := randomHex4()
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

func randomHex4() (string, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("registry: generate random suffix: %w", err)
	}
	return fmt.Sprintf("%04x", uint16(b[0])<<8|uint16(b[1])), nil
}

// Dir resolves the session directory used for metadata and endpoint files.
// Resolution order (spec.md §4.3):
//  1. HOLDPTY_DIR if set.
//  2. On Windows, <system-temp>/dt.
//  3. On POSIX, $XDG_RUNTIME_DIR/dt if set.
//  4. On POSIX, /tmp/dt-<uid> if the real uid is available.
//  5. <system-temp>/dt.
func Dir() (string, error) {
	if d := os.Getenv("HOLDPTY_DIR"); d != "" {
		return ensureDir(d)
	}
	if runtime.GOOS == "windows" {
		return ensureDir(filepath.Join(os.TempDir(), "dt"))
	}
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return ensureDir(filepath.Join(d, "dt"))
	}
	if uid := realUID(); uid >= 0 {
		return ensureDir(fmt.Sprintf("/tmp/dt-%d", uid))
	}
	return ensureDir(filepath.Join(os.TempDir(), "dt"))
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("registry: create session dir %s: %w", dir, err)
	}
	return dir, nil
}

// MetadataPath returns the metadata file path for a session name.
func MetadataPath(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

// WriteMetadata serializes and writes the metadata file. Per spec.md §4.4
// invariant 5, this must only be called after the endpoint is listening.
func WriteMetadata(dir string, m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("registry: marshal metadata: %w", err)
	}
	if err := os.WriteFile(MetadataPath(dir, m.Name), data, 0o600); err != nil {
		return fmt.Errorf("registry: write metadata: %w", err)
	}
	return nil
}

// ReadMetadata reads and parses a single session's metadata file.
func ReadMetadata(dir, name string) (Metadata, error) {
	data, err := os.ReadFile(MetadataPath(dir, name))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("registry: parse metadata for %s: %w", name, err)
	}
	return m, nil
}

// RemoveMetadata removes a session's metadata file. Missing files are not
// an error.
func RemoveMetadata(dir, name string) error {
	if err := os.Remove(MetadataPath(dir, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveEndpoint releases a session's endpoint file. On POSIX this unlinks
// the socket; on Windows the named pipe self-releases on last-handle-close
// and this is a no-op.
func RemoveEndpoint(dir, name string) error {
	return removeEndpointFile(dir, name)
}

// Enumerate lists sessions with live metadata, reaping stale entries as a
// side effect. A session is live iff its holder PID exists or, failing
// that, a probe connect to its endpoint succeeds within a short timeout.
// Metadata that fails to parse is skipped, never removed — it may be a
// transient partial write.
func Enumerate(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: read session dir: %w", err)
	}

	var result []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		_, ok := sessionNameFromMetaFile(e.Name())
		if !ok {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			// Parse failure: skip, do not reap (spec.md §9 open question).
			continue
		}

		reachable := probeEndpoint(dir, m.Name)
		if processAlive(m.PID) || reachable {
			result = append(result, Entry{Metadata: m, EndpointReachable: reachable})
			continue
		}

		// Neither PID-alive nor endpoint-reachable: stale, reap both files.
		_ = RemoveMetadata(dir, m.Name)
		_ = removeEndpointFile(dir, m.Name)
	}
	return result, nil
}

func sessionNameFromMetaFile(fname string) (string, bool) {
	const suffix = ".json"
	if len(fname) <= len(suffix) || fname[len(fname)-len(suffix):] != suffix {
		return "", false
	}
	return fname[:len(fname)-len(suffix)], true
}

// staleProbeTimeout bounds the liveness probe connect attempt.
const staleProbeTimeout = 100 * time.Millisecond

// Stop implements the external *stop* operation for a session the caller
// does not hold in-process (spec.md §4.4): it always signals the child
// first, and on Windows also signals the holder process itself, since
// Windows termination is non-cooperative. If the session's metadata is
// already gone, it reports ErrSessionNotFound.
func Stop(dir, name string) error {
	meta, err := ReadMetadata(dir, name)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrSessionNotFound, name)
		}
		return err
	}

	if err := signalTerminate(meta.ChildPID); err != nil {
		return fmt.Errorf("registry: signal child %d: %w", meta.ChildPID, err)
	}
	if runtime.GOOS == "windows" {
		if err := signalTerminate(meta.PID); err != nil {
			return fmt.Errorf("registry: signal holder %d: %w", meta.PID, err)
		}
	}
	return nil
}
