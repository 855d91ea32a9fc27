package holder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"holdpty/internal/ptyproc"
	"holdpty/internal/wire"
)

// outboundQueueDepth bounds each client's pending-frame queue. A client
// that cannot drain this many frames is disconnected rather than allowed
// to stall the PTY read path (spec.md §5).
const outboundQueueDepth = 256

// helloRequest is the JSON payload of a HELLO frame.
type helloRequest struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Mode            string `json:"mode"`
}

// helloAck is the JSON payload of a HELLO_ACK frame.
type helloAck struct {
	Name string `json:"name"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
	Mode string `json:"mode"`
	PID  int    `json:"pid"`
}

// clientConn tracks one connected peer's handshake state and outbound
// queue. Its writer goroutine is the only goroutine permitted to write to
// conn, which lets enqueue be called freely from the PTY read loop without
// additional synchronization on the socket itself.
type clientConn struct {
	id   string
	conn net.Conn

	modeVal atomic.Value // Mode

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newClientConn(conn net.Conn) *clientConn {
	c := &clientConn{
		id:     uuidConnID(),
		conn:   conn,
		send:   make(chan []byte, outboundQueueDepth),
		closed: make(chan struct{}),
	}
	c.modeVal.Store(Mode(""))
	return c
}

func (c *clientConn) mode() Mode {
	m, _ := c.modeVal.Load().(Mode)
	return m
}

func (c *clientConn) setMode(m Mode) { c.modeVal.Store(m) }

// enqueue attempts a non-blocking send of an already-encoded frame. It
// returns false if the client's queue is full.
func (c *clientConn) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *clientConn) forceClose() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// writeLoop drains the outbound queue onto the socket until the connection
// closes. It is the sole writer of c.conn.
func (c *clientConn) writeLoop() {
	for {
		select {
		case frame := <-c.send:
			if frame == nil {
				// A nil frame ends a one-shot reply: every frame queued
				// ahead of it has been written, so close the connection.
				c.forceClose()
				return
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.forceClose()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// serveClient runs one connection end to end: handshake, replay (for
// attach/view), then either the live relay (attach/view) or a one-shot
// dump and close (logs). It is the per-connection state machine of
// spec.md §4.5/§5.
func (h *Holder) serveClient(c *clientConn) {
	defer func() {
		h.removeClient(c)
		c.forceClose()
	}()

	go c.writeLoop()

	dec := wire.NewDecoder()
	req, err := h.readHello(c, dec)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.log.WithFields(map[string]interface{}{"conn": c.id, "mode": req.Mode}).Info("client handshake accepted")

	switch Mode(req.Mode) {
	case ModeAttach:
		if err := h.handshakeComplete(c, req); err != nil {
			h.sendError(c, err)
			return
		}
		defer h.releaseWriter(c)
		h.relayInbound(c, dec)

	case ModeView:
		if err := h.handshakeComplete(c, req); err != nil {
			h.sendError(c, err)
			return
		}
		h.relayInbound(c, dec) // view clients may still send RESIZE-less idle reads; DATA_IN is ignored for them

	case ModeLogs:
		if err := h.handshakeComplete(c, req); err != nil {
			h.sendError(c, err)
			return
		}
		// One-shot: history has been queued already, nothing live follows.
		// The nil marker lets the write loop flush the queue, then close.
		if c.enqueue(nil) {
			<-c.closed
		}

	default:
		h.sendError(c, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode))
	}
}

// readHello blocks for the first frame and validates it is a well-formed
// HELLO. Any violation is reported to the caller for translation into an
// ERROR frame.
func (h *Holder) readHello(c *clientConn, dec *wire.Decoder) (*helloRequest, error) {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("holder: read hello: %w", err)
		}
		frames, decErr := dec.Feed(buf[:n])
		if decErr != nil {
			return nil, decErr
		}
		if len(frames) == 0 {
			continue
		}
		first := frames[0]
		if first.Type != wire.Hello {
			return nil, ErrExpectedHello
		}
		var req helloRequest
		if err := json.Unmarshal(first.Payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHello, err)
		}
		if req.ProtocolVersion != ProtocolVersion {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrProtocolVersion, req.ProtocolVersion, ProtocolVersion)
		}
		switch Mode(req.Mode) {
		case ModeAttach, ModeView, ModeLogs:
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
		}
		// Any additional frames decoded from the same read (unlikely for a
		// well-behaved client) are simply dropped; HELLO must be alone.
		return &req, nil
	}
}

func (h *Holder) releaseWriter(c *clientConn) {
	h.mu.Lock()
	if h.writer == c {
		h.writer = nil
	}
	h.mu.Unlock()
}

// handshakeComplete claims the writer slot (attach only), marks c eligible
// for broadcastDataOut, and enqueues HELLO_ACK, the ring replay, and
// REPLAY_END (plus a trailing EXIT if the child had already exited) — all
// under a single h.mu hold. broadcastDataOut also snapshots its target list
// under h.mu, so it can never interleave with this section: either it runs
// entirely before c is eligible (and skips it), or entirely after this
// whole handshake reply is already queued ahead of it on c.send. Without
// that, a live DATA_OUT produced between marking c eligible and finishing
// the replay could jump the HELLO_ACK/history/REPLAY_END ordering spec.md
// §5 requires, or slip in between them (end-to-end scenario 1: a viewer
// connects while the child is actively producing output).
func (h *Holder) handshakeComplete(c *clientConn, req *helloRequest) error {
	mode := Mode(req.Mode)

	h.mu.Lock()
	defer h.mu.Unlock()

	if mode == ModeAttach {
		if h.writer != nil {
			return activeAttachmentError(h.name)
		}
		h.writer = c
	}
	c.setMode(mode)

	ack := helloAck{
		Name: h.name,
		Cols: h.cols,
		Rows: h.rows,
		Mode: req.Mode,
		PID:  h.childPID,
	}
	payload, _ := json.Marshal(ack)
	c.enqueue(wire.Encode(wire.Frame{Type: wire.HelloAck, Payload: payload}))

	if history := h.ring.Read(); len(history) > 0 {
		c.enqueue(wire.Encode(wire.Frame{Type: wire.DataOut, Payload: history}))
	}
	c.enqueue(wire.Encode(wire.Frame{Type: wire.ReplayEnd}))

	// spec.md §4.4: if the child has already exited by handshake time,
	// non-logs peers additionally receive EXIT(code) right after REPLAY_END.
	if mode != ModeLogs && h.exited {
		c.enqueue(encodeExit(h.exitCode))
	}
	return nil
}

func encodeExit(code int) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(int32(code)))
	return wire.Encode(wire.Frame{Type: wire.Exit, Payload: payload})
}

// relayInbound services DATA_IN/RESIZE frames from an attached client
// until it disconnects or the session shuts down. View clients decode the
// same loop but their DATA_IN/RESIZE frames are rejected as no-ops since
// only the holder of the writer slot may drive the child.
func (h *Holder) relayInbound(c *clientConn, dec *wire.Decoder) {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		frames, decErr := dec.Feed(buf[:n])
		if decErr != nil {
			return
		}
		for _, f := range frames {
			h.handleInboundFrame(c, f)
		}
	}
}

func (h *Holder) handleInboundFrame(c *clientConn, f wire.Frame) {
	if c.mode() != ModeAttach {
		return
	}
	switch f.Type {
	case wire.DataIn:
		if _, err := h.proc.Write(f.Payload); err != nil {
			h.log.WithError(err).Warn("write to child failed")
		}
	case wire.Resize:
		if len(f.Payload) != 4 {
			return
		}
		cols := binary.BigEndian.Uint16(f.Payload[0:2])
		rows := binary.BigEndian.Uint16(f.Payload[2:4])
		h.mu.Lock()
		h.cols, h.rows = int(cols), int(rows)
		h.mu.Unlock()
		if err := h.proc.Resize(ptyproc.Size{Cols: cols, Rows: rows}); err != nil {
			h.log.WithError(err).Warn("resize failed")
		}
	}
}

func (h *Holder) sendError(c *clientConn, err error) {
	h.log.WithFields(map[string]interface{}{"conn": c.id, "error": err}).Debug("rejecting client")
	frame := wire.Encode(wire.Frame{Type: wire.ErrorMsg, Payload: []byte(err.Error())})
	c.enqueue(frame)
	// Give the write loop a chance to flush before the deferred close lands.
	time.Sleep(10 * time.Millisecond)
}
