// Package peer implements the client-side half of the holder's wire
// protocol (spec.md §4.5): dial an endpoint, perform the HELLO handshake,
// consume replay-then-live frames, and drive an interactive attach/view
// session or a one-shot logs dump. It is the "connect-as-peer" contract
// spec.md §6 requires the CLI front-end be able to use without
// re-implementing framing.
package peer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"holdpty/internal/registry"
	"holdpty/internal/wire"
)

// Mode mirrors the wire-level mode strings from spec.md §4.2.
type Mode string

const (
	ModeAttach Mode = "attach"
	ModeView   Mode = "view"
	ModeLogs   Mode = "logs"
)

// ProtocolVersion is the only protocolVersion this peer speaks.
const ProtocolVersion = 1

// dialTimeout bounds the initial endpoint connect attempt.
const dialTimeout = 2 * time.Second

type helloRequest struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Mode            string `json:"mode"`
}

// HelloAck is the decoded HELLO_ACK payload.
type HelloAck struct {
	Name string `json:"name"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
	Mode string `json:"mode"`
	PID  int    `json:"pid"`
}

// ErrNotFound indicates the named session has no reachable endpoint.
var ErrNotFound = fmt.Errorf("peer: %w", registry.ErrSessionNotFound)

// Peer is one connection-side instance of the protocol: a dialed socket
// plus whatever the handshake and replay produced.
type Peer struct {
	conn   net.Conn
	mode   Mode
	dec    *wire.Decoder
	ack    HelloAck
	replay []byte
	exited bool
	code   int
	log    logrus.FieldLogger
}

// Dial connects to a named session's endpoint, performs the HELLO
// handshake, and fully consumes the replay (everything up to and
// including REPLAY_END, plus an EXIT frame if the child had already
// exited and that EXIT arrived in the same read as REPLAY_END; a later EXIT
// is returned by Relay instead). The returned Peer is positioned to begin
// live relay.
func Dial(dir, name string, mode Mode, log logrus.FieldLogger) (*Peer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	conn, err := registry.DialEndpoint(dir, name, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	p := &Peer{conn: conn, mode: mode, dec: wire.NewDecoder(), log: log.WithField("session", name)}

	req := helloRequest{ProtocolVersion: ProtocolVersion, Mode: string(mode)}
	payload, _ := json.Marshal(req)
	if _, err := conn.Write(wire.Encode(wire.Frame{Type: wire.Hello, Payload: payload})); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer: send hello: %w", err)
	}

	if err := p.readHandshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Peer) readHandshake() error {
	buf := make([]byte, 65536)
	var replay []byte
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("peer: handshake read: %w", err)
		}
		frames, decErr := p.dec.Feed(buf[:n])
		if decErr != nil {
			return decErr
		}
		for _, f := range frames {
			switch f.Type {
			case wire.ErrorMsg:
				return fmt.Errorf("peer: holder rejected handshake: %s", f.Payload)
			case wire.HelloAck:
				if err := json.Unmarshal(f.Payload, &p.ack); err != nil {
					return fmt.Errorf("peer: invalid hello_ack: %w", err)
				}
			case wire.DataOut:
				replay = append(replay, f.Payload...)
			case wire.ReplayEnd:
				p.replay = replay
				// EXIT may immediately follow if the child had already
				// exited (spec.md §4.4); drain any frames already in this
				// same read before returning control to the caller.
				p.consumeTrailingExit(frames)
				return nil
			}
		}
	}
}

// consumeTrailingExit scans frames already decoded in the same Feed call
// as REPLAY_END for an EXIT, since the holder may pack both into one
// delivery when the child exited before handshake.
func (p *Peer) consumeTrailingExit(frames []wire.Frame) {
	seenReplayEnd := false
	for _, f := range frames {
		if f.Type == wire.ReplayEnd {
			seenReplayEnd = true
			continue
		}
		if seenReplayEnd && f.Type == wire.Exit && len(f.Payload) == 4 {
			p.exited = true
			p.code = int(int32(binary.BigEndian.Uint32(f.Payload)))
		}
	}
}

// HelloAck returns the handshake acknowledgement.
func (p *Peer) HelloAck() HelloAck { return p.ack }

// ReplayBytes returns the history bytes sent during the handshake, before
// any live data. Exposed so a dump/logs front-end can filter or tail them
// without re-implementing framing (spec.md §6, SPEC_FULL.md supplemented
// features).
func (p *Peer) ReplayBytes() []byte { return p.replay }

// AlreadyExited reports whether the holder indicated the child had
// exited by handshake time, and the exit code if so.
func (p *Peer) AlreadyExited() (code int, exited bool) { return p.code, p.exited }

// Close releases the underlying connection.
func (p *Peer) Close() error { return p.conn.Close() }

// SendResize encodes and sends a RESIZE frame. Only meaningful in attach
// mode; the holder silently ignores it otherwise (spec.md §4.5).
func (p *Peer) SendResize(cols, rows uint16) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], cols)
	binary.BigEndian.PutUint16(payload[2:4], rows)
	_, err := p.conn.Write(wire.Encode(wire.Frame{Type: wire.Resize, Payload: payload}))
	return err
}

// SendData writes raw stdin bytes as a DATA_IN frame. Only meaningful in
// attach mode.
func (p *Peer) SendData(b []byte) error {
	_, err := p.conn.Write(wire.Encode(wire.Frame{Type: wire.DataIn, Payload: b}))
	return err
}

// Relay drives the live portion of the session: reads frames until FIN or
// EXIT, invoking onData for each DATA_OUT payload and returning the exit
// code (or 0, false if the connection simply closed). It does not touch
// stdin — callers wanting interactive attach should pair Relay with a
// separate goroutine calling SendData.
func (p *Peer) Relay(onData func([]byte)) (code int, exited bool) {
	buf := make([]byte, 65536)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			frames, decErr := p.dec.Feed(buf[:n])
			if decErr != nil {
				return 0, false
			}
			for _, f := range frames {
				switch f.Type {
				case wire.DataOut:
					onData(f.Payload)
				case wire.Exit:
					if len(f.Payload) == 4 {
						return int(int32(binary.BigEndian.Uint32(f.Payload))), true
					}
					return 0, true
				}
			}
		}
		if err != nil {
			return 0, false
		}
	}
}

// RunInteractive drives an attach or view session against the calling
// process's stdin/stdout: raw mode, initial + SIGWINCH-driven resize
// (attach only), stdin relay (attach only), and live DATA_OUT to stdout.
// It blocks until EXIT or FIN; stdin EOF only stops the stdin relay.
func (p *Peer) RunInteractive() (code int, exited bool, err error) {
	fd := int(os.Stdin.Fd())
	var restore func() error
	if term.IsTerminal(fd) {
		prev, rerr := term.MakeRaw(fd)
		if rerr != nil {
			return 0, false, fmt.Errorf("peer: enable raw mode: %w", rerr)
		}
		restore = func() error { return term.Restore(fd, prev) }
		defer restore()
	}

	os.Stdout.Write(p.ReplayBytes())

	done := make(chan struct{})
	if p.mode == ModeAttach {
		p.sendCurrentSize()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, sigWinch)
		defer signal.Stop(sigCh)
		go func() {
			for {
				select {
				case <-sigCh:
					p.sendCurrentSize()
				case <-done:
					return
				}
			}
		}()

		go func() {
			buf := make([]byte, 4096)
			for {
				n, rerr := os.Stdin.Read(buf)
				if n > 0 {
					if werr := p.SendData(buf[:n]); werr != nil {
						return
					}
				}
				if rerr != nil {
					return
				}
			}
		}()
	}

	code, exited = p.Relay(func(chunk []byte) {
		os.Stdout.Write(chunk)
	})
	close(done)
	return code, exited, nil
}

func (p *Peer) sendCurrentSize() {
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return
	}
	_ = p.SendResize(uint16(cols), uint16(rows))
}

// RunLogs writes the replay bytes to w and returns; there is no live
// stream in logs mode (spec.md §4.5).
func (p *Peer) RunLogs(w io.Writer) error {
	_, err := w.Write(p.ReplayBytes())
	return err
}
