//go:build !windows

package ptyproc

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

type unixProcess struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

// Start spawns command under a PTY of the given initial size.
func Start(command []string, size Size, dir string, env []string) (Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("ptyproc: empty command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, fmt.Errorf("ptyproc: start pty: %w", err)
	}
	return &unixProcess{ptmx: ptmx, cmd: cmd}, nil
}

func (p *unixProcess) Read(buf []byte) (int, error)  { return p.ptmx.Read(buf) }
func (p *unixProcess) Write(data []byte) (int, error) { return p.ptmx.Write(data) }

func (p *unixProcess) Resize(size Size) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

func (p *unixProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return p.cmd.ProcessState.ExitCode(), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *unixProcess) Signal() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *unixProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *unixProcess) Close() error {
	return p.ptmx.Close()
}
