package holder

import (
	"os"
	"os/signal"

	"golang.org/x/term"

	"holdpty/internal/ptyproc"
)

// PipeForeground wires the calling process's stdin/stdout directly into
// the session's PTY, enabling raw mode for the duration and forwarding
// terminal resize notifications. It is the single-binary convenience
// described in spec.md §4.4 — a second process attaching over the socket
// is not required to drive a session interactively. It returns once the
// child has exited.
func (h *Holder) PipeForeground() error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		prev, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer term.Restore(fd, prev)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigWinch)
	defer signal.Stop(sigCh)

	out := make(chan []byte, outboundQueueDepth)
	h.setForegroundSink(out)
	defer h.clearForegroundSink(out)

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			select {
			case <-sigCh:
				h.syncTerminalSize()
			case <-stop:
				return
			}
		}
	}()
	h.syncTerminalSize()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if _, werr := h.proc.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				return nil
			}
			if _, err := os.Stdout.Write(chunk); err != nil {
				return err
			}
		case <-h.Exited():
			return nil
		}
	}
}

func (h *Holder) setForegroundSink(ch chan []byte) {
	h.mu.Lock()
	h.foregroundSink = ch
	h.mu.Unlock()
}

func (h *Holder) clearForegroundSink(ch chan []byte) {
	h.mu.Lock()
	if h.foregroundSink == ch {
		h.foregroundSink = nil
	}
	h.mu.Unlock()
}

func (h *Holder) syncTerminalSize() {
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return
	}
	_ = h.proc.Resize(ptyproc.Size{Cols: uint16(cols), Rows: uint16(rows)})
}
