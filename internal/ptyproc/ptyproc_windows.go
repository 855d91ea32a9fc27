//go:build windows

package ptyproc

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/UserExistsError/conpty"
)

type windowsProcess struct {
	cpty *conpty.ConPty
	pid  int
}

// Start spawns command under Windows ConPTY of the given initial size.
// command has already passed through registry.ResolveCommand, so it is a
// concrete executable (or cmd.exe /c wrapper), never a bare script name.
func Start(command []string, size Size, dir string, env []string) (Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("ptyproc: empty command")
	}

	cpty, err := conpty.Start(
		quoteCommandLine(command),
		conpty.ConPtyDimensions(int(size.Cols), int(size.Rows)),
		conpty.ConPtyWorkDir(dir),
		conpty.ConPtyEnv(env),
	)
	if err != nil {
		return nil, fmt.Errorf("ptyproc: start conpty: %w", err)
	}
	return &windowsProcess{cpty: cpty, pid: cpty.Pid()}, nil
}

func quoteCommandLine(command []string) string {
	quoted := make([]string, len(command))
	for i, part := range command {
		if strings.ContainsAny(part, " \t\"") {
			part = `"` + strings.ReplaceAll(part, `"`, `\"`) + `"`
		}
		quoted[i] = part
	}
	return strings.Join(quoted, " ")
}

func (p *windowsProcess) Read(buf []byte) (int, error)  { return p.cpty.Read(buf) }
func (p *windowsProcess) Write(data []byte) (int, error) { return p.cpty.Write(data) }

func (p *windowsProcess) Resize(size Size) error {
	return p.cpty.Resize(int(size.Cols), int(size.Rows))
}

func (p *windowsProcess) Wait() (int, error) {
	code, err := p.cpty.Wait(context.Background())
	return int(code), err
}

// Signal terminates the child process. Windows termination is
// non-cooperative (spec.md §4.4, §9): callers must also signal the holder
// PID separately to guarantee cleanup.
func (p *windowsProcess) Signal() error {
	proc, err := os.FindProcess(p.pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func (p *windowsProcess) PID() int {
	return p.pid
}

func (p *windowsProcess) Close() error {
	return p.cpty.Close()
}
