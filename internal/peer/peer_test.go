package peer

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"holdpty/internal/wire"
)

func pipePeer() (*Peer, net.Conn) {
	client, server := net.Pipe()
	return &Peer{conn: client, dec: wire.NewDecoder()}, server
}

func writeFrames(t *testing.T, conn net.Conn, frames ...wire.Frame) {
	t.Helper()
	var buf []byte
	for _, f := range frames {
		buf = append(buf, wire.Encode(f)...)
	}
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write frames: %v", err)
	}
}

func TestReadHandshakeOrdersAckReplayEnd(t *testing.T) {
	p, server := pipePeer()
	defer server.Close()

	ack := HelloAck{Name: "s1", Cols: 80, Rows: 24, Mode: "view", PID: 123}
	ackPayload, _ := json.Marshal(ack)

	go writeFrames(t, server,
		wire.Frame{Type: wire.HelloAck, Payload: ackPayload},
		wire.Frame{Type: wire.DataOut, Payload: []byte("history")},
		wire.Frame{Type: wire.ReplayEnd},
	)

	done := make(chan error, 1)
	go func() { done <- p.readHandshake() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("readHandshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("readHandshake did not return")
	}

	if p.ack != ack {
		t.Fatalf("ack = %+v, want %+v", p.ack, ack)
	}
	if string(p.replay) != "history" {
		t.Fatalf("replay = %q, want %q", p.replay, "history")
	}
	if _, exited := p.AlreadyExited(); exited {
		t.Fatal("should not report exited")
	}
}

func TestReadHandshakeCapturesTrailingExit(t *testing.T) {
	p, server := pipePeer()
	defer server.Close()

	exitPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(exitPayload, uint32(int32(-1)))

	go writeFrames(t, server,
		wire.Frame{Type: wire.HelloAck, Payload: []byte(`{"name":"s1"}`)},
		wire.Frame{Type: wire.ReplayEnd},
		wire.Frame{Type: wire.Exit, Payload: exitPayload},
	)

	done := make(chan error, 1)
	go func() { done <- p.readHandshake() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("readHandshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("readHandshake did not return")
	}

	code, exited := p.AlreadyExited()
	if !exited || code != -1 {
		t.Fatalf("AlreadyExited() = (%d, %v), want (-1, true)", code, exited)
	}
}

func TestReadHandshakeRejectsErrorFrame(t *testing.T) {
	p, server := pipePeer()
	defer server.Close()

	go writeFrames(t, server, wire.Frame{Type: wire.ErrorMsg, Payload: []byte("active attachment")})

	done := make(chan error, 1)
	go func() { done <- p.readHandshake() }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for an ERROR frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("readHandshake did not return")
	}
}

func TestRelayDeliversDataThenExit(t *testing.T) {
	p, server := pipePeer()
	defer server.Close()

	exitPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(exitPayload, 7)

	go writeFrames(t, server,
		wire.Frame{Type: wire.DataOut, Payload: []byte("aaa")},
		wire.Frame{Type: wire.DataOut, Payload: []byte("bbb")},
		wire.Frame{Type: wire.Exit, Payload: exitPayload},
	)

	var got []byte
	code, exited := p.Relay(func(chunk []byte) { got = append(got, chunk...) })

	if !exited || code != 7 {
		t.Fatalf("Relay() = (%d, %v), want (7, true)", code, exited)
	}
	if string(got) != "aaabbb" {
		t.Fatalf("got %q, want %q", got, "aaabbb")
	}
}

func TestSendDataEncodesDataInFrame(t *testing.T) {
	p, server := pipePeer()
	defer server.Close()

	readDone := make(chan wire.Frame, 1)
	go func() {
		dec := wire.NewDecoder()
		buf := make([]byte, 256)
		n, err := server.Read(buf)
		if err != nil {
			return
		}
		frames, _ := dec.Feed(buf[:n])
		if len(frames) > 0 {
			readDone <- frames[0]
		}
	}()

	if err := p.SendData([]byte("hi")); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	select {
	case f := <-readDone:
		if f.Type != wire.DataIn || string(f.Payload) != "hi" {
			t.Fatalf("got %v %q, want DATA_IN %q", f.Type, f.Payload, "hi")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe DATA_IN frame")
	}
}

func TestSendResizeEncodesBigEndianPair(t *testing.T) {
	p, server := pipePeer()
	defer server.Close()

	readDone := make(chan wire.Frame, 1)
	go func() {
		dec := wire.NewDecoder()
		buf := make([]byte, 256)
		n, err := server.Read(buf)
		if err != nil {
			return
		}
		frames, _ := dec.Feed(buf[:n])
		if len(frames) > 0 {
			readDone <- frames[0]
		}
	}()

	if err := p.SendResize(120, 40); err != nil {
		t.Fatalf("SendResize: %v", err)
	}

	select {
	case f := <-readDone:
		if f.Type != wire.Resize {
			t.Fatalf("type = %v, want RESIZE", f.Type)
		}
		cols := binary.BigEndian.Uint16(f.Payload[0:2])
		rows := binary.BigEndian.Uint16(f.Payload[2:4])
		if cols != 120 || rows != 40 {
			t.Fatalf("cols,rows = %d,%d, want 120,40", cols, rows)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe RESIZE frame")
	}
}
