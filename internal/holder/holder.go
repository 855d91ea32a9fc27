// Package holder implements the long-lived per-session process: it owns
// the PTY, the history ring, the listening endpoint, and the set of
// connected clients, and runs the session state machine described in
// spec.md §4.4.
package holder

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"holdpty/internal/ptyproc"
	"holdpty/internal/registry"
	"holdpty/internal/ring"
	"holdpty/internal/wire"
)

// Mode identifies how a connected client participates in the session.
type Mode string

const (
	ModeAttach Mode = "attach"
	ModeView   Mode = "view"
	ModeLogs   Mode = "logs"
)

// ProtocolVersion is the only HELLO protocolVersion this holder accepts.
const ProtocolVersion = 1

// ringCapacity is the Ring's default capacity (2^20 bytes, spec.md §3).
const ringCapacity = 1 << 20

// defaultLingerMS is the shutdown linger default (spec.md §6).
const defaultLingerMS = 5000

// minLingerMS is the clamp floor for non-positive HOLDPTY_LINGER_MS values.
const minLingerMS = 50

const ptyReadChunk = 4096

// drainDelay is the post-exit interval before shutdown begins, letting
// trailing PTY output flush. The Windows PTY backend is known to report
// exit before all output has surfaced (spec.md §4.4); these constants are
// empirical, not contractual (spec.md §9).
func drainDelay() time.Duration {
	if runtime.GOOS == "windows" {
		return 200 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// Options configures a new session.
type Options struct {
	Command []string
	Name    string // optional; generated per spec.md §3 if empty
	Size    ptyproc.Size
	Cwd     string
	Env     []string
	Logger  logrus.FieldLogger
}

// Holder owns one session: its PTY, Ring, listener, and client set.
type Holder struct {
	name string
	dir  string
	log  logrus.FieldLogger

	proc ptyproc.Process
	ring *ring.Ring
	ln   net.Listener

	mu             sync.Mutex
	clients        map[*clientConn]struct{}
	writer         *clientConn
	exited         bool
	exitCode       int
	foregroundSink chan []byte

	childPID int
	command  []string
	cols     int
	rows     int

	exitSignal     chan struct{}
	exitSignalOnce sync.Once

	shutdownOnce sync.Once
	shutdownDone chan struct{}

	lingerMS int
}

// Start spawns the PTY, begins listening, writes metadata, and starts the
// session event loop. It returns once the endpoint is listening and the
// metadata file has been written (spec.md §4.4 invariant 5).
func Start(opts Options) (*Holder, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("holder: command must not be empty")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	name := opts.Name
	if name == "" {
		generated, err := registry.GenerateName(opts.Command)
		if err != nil {
			return nil, fmt.Errorf("holder: generate session name: %w", err)
		}
		name = generated
	} else if err := registry.ValidateName(name); err != nil {
		return nil, err
	}

	dir, err := registry.Dir()
	if err != nil {
		return nil, err
	}

	size := opts.Size
	if size.Cols == 0 || size.Rows == 0 {
		size = ptyproc.DefaultSize
	}

	resolved := registry.ResolveCommand(opts.Command)

	// Unlink any leftover endpoint file before spawning (best effort).
	_ = registry.RemoveEndpoint(dir, name)

	proc, err := ptyproc.Start(resolved, size, opts.Cwd, opts.Env)
	if err != nil {
		return nil, fmt.Errorf("holder: spawn pty: %w", err)
	}

	ln, err := registry.Listen(dir, name)
	if err != nil {
		_ = proc.Close()
		return nil, fmt.Errorf("holder: listen on endpoint: %w", err)
	}

	r, err := ring.New(ringCapacity)
	if err != nil {
		_ = ln.Close()
		_ = proc.Close()
		return nil, err
	}

	h := &Holder{
		name:         name,
		dir:          dir,
		log:          log.WithField("session", name),
		proc:         proc,
		ring:         r,
		ln:           ln,
		clients:      make(map[*clientConn]struct{}),
		childPID:     proc.PID(),
		command:      opts.Command,
		cols:         int(size.Cols),
		rows:         int(size.Rows),
		exitSignal:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
		lingerMS:     resolveLingerMS(),
	}

	meta := registry.Metadata{
		Name:      name,
		PID:       os.Getpid(),
		ChildPID:  h.childPID,
		Command:   opts.Command,
		Cols:      h.cols,
		Rows:      h.rows,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := registry.WriteMetadata(dir, meta); err != nil {
		_ = ln.Close()
		_ = proc.Close()
		return nil, fmt.Errorf("holder: write metadata: %w", err)
	}

	h.log.WithFields(logrus.Fields{"pid": meta.PID, "childPid": h.childPID}).Info("session started")

	go h.readPTYLoop()
	go h.acceptLoop()

	return h, nil
}

func resolveLingerMS() int {
	v := os.Getenv("HOLDPTY_LINGER_MS")
	if v == "" {
		return defaultLingerMS
	}
	var ms int
	if _, err := fmt.Sscanf(v, "%d", &ms); err != nil {
		return defaultLingerMS
	}
	if ms <= 0 {
		return minLingerMS
	}
	return ms
}

// Name returns the session's resolved name.
func (h *Holder) Name() string { return h.name }

// PID returns the holder process's own PID.
func (h *Holder) PID() int { return os.Getpid() }

// ChildPID returns the spawned child's PID.
func (h *Holder) ChildPID() int { return h.childPID }

// Exited returns a channel that is closed once the child's exit has been
// observed. ExitCode is then valid.
func (h *Holder) Exited() <-chan struct{} { return h.exitSignal }

// ExitCode returns the child's exit code and whether it has exited yet.
func (h *Holder) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}

// ShutdownComplete returns the one-shot latch signaled once the shutdown
// sequence (spec.md §4.4) has fully run.
func (h *Holder) ShutdownComplete() <-chan struct{} { return h.shutdownDone }

// Wait blocks until shutdown completes or ctx is done, returning the
// child's exit code.
func (h *Holder) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.shutdownDone:
		code, _ := h.ExitCode()
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop implements the external *stop* operation (spec.md §4.4): the child
// is always signaled first; on Windows the holder process is also signaled
// since Windows termination is non-cooperative.
func (h *Holder) Stop() error {
	if err := h.proc.Signal(); err != nil {
		h.log.WithError(err).Warn("failed to signal child process")
	}
	if runtime.GOOS == "windows" {
		if proc, err := os.FindProcess(os.Getpid()); err == nil {
			_ = proc.Kill()
		}
	}
	return nil
}

func (h *Holder) readPTYLoop() {
	buf := make([]byte, ptyReadChunk)
	for {
		n, err := h.proc.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			h.broadcastDataOut(chunk)
		}
		if err != nil {
			h.onChildExit()
			return
		}
	}
}

func (h *Holder) onChildExit() {
	code, waitErr := h.proc.Wait()
	if waitErr != nil {
		h.log.WithError(waitErr).Debug("wait returned an error alongside pty EOF")
	}

	h.mu.Lock()
	h.exited = true
	h.exitCode = code
	h.mu.Unlock()
	h.exitSignalOnce.Do(func() { close(h.exitSignal) })

	h.log.WithField("exitCode", code).Info("child exited, draining before shutdown")
	time.Sleep(drainDelay())
	h.shutdown(code)
}

func (h *Holder) acceptLoop() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			return
		}
		c := newClientConn(conn)
		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()
		go h.serveClient(c)
	}
}

// broadcastDataOut appends data to the Ring and sends it as a DATA_OUT
// frame to every attach/view client. logs clients have already been
// disconnected; pre-handshake clients are ignored (spec.md §4.4). The
// Ring write and the target snapshot happen under the same h.mu hold as
// handshakeComplete's replay, so a client's registration is always
// strictly before or after any given chunk — never mid-chunk, which would
// either duplicate it (once in replay, once live) or lose it (spec.md §5
// ordering + atomicity). Backpressure: each client has a bounded outbound
// queue; a client that can't keep up is dropped rather than stalling the
// PTY path (spec.md §5).
func (h *Holder) broadcastDataOut(data []byte) {
	h.mu.Lock()
	h.ring.Write(data)
	targets := make([]*clientConn, 0, len(h.clients))
	for c := range h.clients {
		if c.mode() == ModeAttach || c.mode() == ModeView {
			targets = append(targets, c)
		}
	}
	sink := h.foregroundSink
	h.mu.Unlock()

	frame := wire.Encode(wire.Frame{Type: wire.DataOut, Payload: data})

	if sink != nil {
		select {
		case sink <- data:
		default:
		}
	}

	for _, c := range targets {
		if !c.enqueue(frame) {
			h.log.WithField("conn", c.id).Warn("client outbound queue full, disconnecting")
			h.removeClient(c)
			c.forceClose()
		}
	}
}

func (h *Holder) removeClient(c *clientConn) {
	h.mu.Lock()
	delete(h.clients, c)
	if h.writer == c {
		h.writer = nil
	}
	h.mu.Unlock()
}

func uuidConnID() string {
	return uuid.NewString()
}
