//go:build windows

package registry

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveCommand adapts a command vector for Windows, where the PTY backend
// cannot search PATH or run script shims itself (spec.md §4.3).
func ResolveCommand(command []string) []string {
	if len(command) == 0 {
		return command
	}
	cmd := command[0]
	args := command[1:]

	if ext := filepath.Ext(cmd); ext != "" {
		switch strings.ToLower(ext) {
		case ".cmd", ".bat":
			return wrapInCmdExe(command)
		default:
			return command
		}
	}

	dirs := candidateDirs(cmd)

	for _, ext := range []string{".exe", ".com"} {
		if hit := findIn(dirs, cmd, ext); hit != "" {
			return append([]string{hit}, args...)
		}
	}
	for _, ext := range []string{".cmd", ".bat"} {
		if hit := findIn(dirs, cmd, ext); hit != "" {
			return wrapInCmdExe(append([]string{hit}, args...))
		}
	}

	// Nothing matched: fall back to <cmd>.exe and let the spawn fail loudly.
	return append([]string{cmd + ".exe"}, args...)
}

func wrapInCmdExe(command []string) []string {
	return append([]string{"cmd.exe", "/c"}, command...)
}

func candidateDirs(cmd string) []string {
	if strings.ContainsAny(cmd, `/\`) {
		return []string{filepath.Dir(cmd)}
	}
	path := os.Getenv("PATH")
	if path == "" {
		return nil
	}
	return strings.Split(path, ";")
}

func findIn(dirs []string, cmd, ext string) string {
	base := cmd
	if strings.ContainsAny(cmd, `/\`) {
		base = filepath.Base(cmd)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, base+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
