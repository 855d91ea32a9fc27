package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	valid := []string{"a", "session-1", "My_Session", "1234", strRepeat("x", 64)}
	for _, n := range valid {
		if err := ValidateName(n); err != nil {
			t.Errorf("expected %q to be valid, got %v", n, err)
		}
	}

	invalid := []string{"", "has space", "weird/slash", strRepeat("x", 65), "emoji🎉"}
	for _, n := range invalid {
		if err := ValidateName(n); err == nil {
			t.Errorf("expected %q to be invalid", n)
		}
	}
}

func strRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestGenerateNameStripsExtensionAndInvalidChars(t *testing.T) {
	name, err := GenerateName([]string{"/usr/bin/My.Weird Shell!.SH"})
	if err != nil {
		t.Fatalf("GenerateName: %v", err)
	}
	if err := ValidateName(name); err != nil {
		t.Fatalf("generated name %q is invalid: %v", name, err)
	}
	// ".SH" (case-insensitive script extension) is stripped first, then any
	// character outside [A-Za-z0-9_-] — including the remaining "." — is
	// dropped, leaving "MyWeirdShell".
	prefix := name[:len(name)-5] // strip the "-xxxx" suffix
	if prefix != "MyWeirdShell" {
		t.Errorf("expected prefix %q, got %q (full name %q)", "MyWeirdShell", prefix, name)
	}
}

func TestGenerateNameEmptyFallsBackToSession(t *testing.T) {
	name, err := GenerateName([]string{"!!!.sh"})
	if err != nil {
		t.Fatalf("GenerateName: %v", err)
	}
	if len(name) < len("session-") || name[:len("session-")] != "session-" {
		t.Errorf("expected fallback 'session-' prefix, got %q", name)
	}
}

func TestGenerateNameTruncatesTo16(t *testing.T) {
	name, err := GenerateName([]string{"this-is-a-very-long-command-name"})
	if err != nil {
		t.Fatalf("GenerateName: %v", err)
	}
	prefix := name[:len(name)-5]
	if len(prefix) > 16 {
		t.Errorf("expected base truncated to 16 chars, got %d: %q", len(prefix), prefix)
	}
}

func TestGenerateNameSuffixIsFourLowercaseHex(t *testing.T) {
	name, err := GenerateName([]string{"sh"})
	if err != nil {
		t.Fatalf("GenerateName: %v", err)
	}
	suffix := name[len(name)-4:]
	if len(suffix) != 4 {
		t.Fatalf("expected 4-char suffix, got %q", suffix)
	}
	for _, c := range suffix {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isHex {
			t.Errorf("expected lowercase hex digit, got %q in %q", c, suffix)
		}
	}
}

func TestDirHonorsHoldptyDirOverride(t *testing.T) {
	tmp := t.TempDir()
	custom := filepath.Join(tmp, "custom-session-dir")
	t.Setenv("HOLDPTY_DIR", custom)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if dir != custom {
		t.Errorf("expected %q, got %q", custom, dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Errorf("expected directory to be created, stat err: %v", err)
	}
}

func TestMetadataWriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	m := Metadata{
		Name:      "s1",
		PID:       os.Getpid(),
		ChildPID:  12345,
		Command:   []string{"bash", "-c", "echo hi"},
		Cols:      80,
		Rows:      24,
		StartedAt: "2026-01-01T00:00:00Z",
	}

	require.NoError(t, WriteMetadata(dir, m))

	got, err := ReadMetadata(dir, "s1")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	require.NoError(t, RemoveMetadata(dir, "s1"))
	_, err = ReadMetadata(dir, "s1")
	assert.Error(t, err, "expected error reading removed metadata")

	// Removing again must not error.
	assert.NoError(t, RemoveMetadata(dir, "s1"), "expected idempotent remove")
}

func TestEnumerateReapsStaleAndSkipsUnparseable(t *testing.T) {
	dir := t.TempDir()

	live := Metadata{Name: "live", PID: os.Getpid(), StartedAt: "2026-01-01T00:00:00Z"}
	require.NoError(t, WriteMetadata(dir, live))

	// A PID that is essentially guaranteed not to exist, and whose endpoint
	// (never listened on) cannot be reached either.
	dead := Metadata{Name: "dead", PID: 999999, StartedAt: "2026-01-01T00:00:00Z"}
	require.NoError(t, WriteMetadata(dir, dead))

	// A partially written (invalid JSON) metadata file must be skipped, not
	// reaped.
	partialPath := MetadataPath(dir, "partial")
	require.NoError(t, os.WriteFile(partialPath, []byte(`{"name":"partial`), 0o600))

	entries, err := Enumerate(dir)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Metadata.Name] = true
	}
	assert.True(t, names["live"], "expected live session to be present")
	assert.False(t, names["dead"], "expected dead session to be reaped, not present")

	_, err = os.Stat(MetadataPath(dir, "dead"))
	assert.Error(t, err, "expected dead session's metadata file to be removed")

	_, err = os.Stat(partialPath)
	assert.NoError(t, err, "expected partially-written metadata file to survive enumeration")
}
