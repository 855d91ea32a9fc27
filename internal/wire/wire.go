// Package wire implements the holder's length-prefixed binary framing:
// [type:1][length:4 BE][payload:length]. It is byte-for-byte compatible
// with any other implementation of the same protocol.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies a frame's payload shape and direction.
type Opcode byte

const (
	// DataOut carries raw PTY bytes from the holder to a client.
	DataOut Opcode = 0x01
	// DataIn carries raw stdin bytes from an attached client to the holder.
	DataIn Opcode = 0x02
	// Resize carries a cols/rows pair from an attached client to the holder.
	Resize Opcode = 0x03
	// Exit carries the child's exit code from the holder to a client.
	Exit Opcode = 0x04
	// ErrorMsg carries a UTF-8 error description from the holder to a client.
	ErrorMsg Opcode = 0x05
	// Hello carries the client's handshake request.
	Hello Opcode = 0x06
	// HelloAck carries the holder's handshake acknowledgement.
	HelloAck Opcode = 0x07
	// ReplayEnd marks the end of replayed history, before any live bytes.
	ReplayEnd Opcode = 0x08
)

func (o Opcode) String() string {
	switch o {
	case DataOut:
		return "DATA_OUT"
	case DataIn:
		return "DATA_IN"
	case Resize:
		return "RESIZE"
	case Exit:
		return "EXIT"
	case ErrorMsg:
		return "ERROR"
	case Hello:
		return "HELLO"
	case HelloAck:
		return "HELLO_ACK"
	case ReplayEnd:
		return "REPLAY_END"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(o))
	}
}

// MaxPayload is the largest payload length a frame may declare. A decoded
// length exceeding this poisons the stream.
const MaxPayload = 10 * 1024 * 1024

const headerLen = 5

// Frame is a single decoded protocol message.
type Frame struct {
	Type    Opcode
	Payload []byte
}

// Encode serializes a frame into wire format.
func Encode(f Frame) []byte {
	buf := make([]byte, headerLen+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:headerLen], uint32(len(f.Payload)))
	copy(buf[headerLen:], f.Payload)
	return buf
}

// ProtocolError indicates the stream can no longer be trusted and must be
// abandoned (an oversize declared length).
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return e.Msg }

// Decoder incrementally assembles frames from arbitrary byte chunks,
// tolerating single-byte delivery, header-spanning reads, and payloads
// straddling multiple chunks. Once it returns a ProtocolError the decoder
// is poisoned and must not be fed further data without a Reset.
type Decoder struct {
	buf     []byte
	poisoned bool
}

// NewDecoder creates an empty streaming decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends data to the decoder's internal buffer and returns every
// complete frame that can now be extracted, in order. The remainder (a
// partial header or payload) is retained for the next call.
func (d *Decoder) Feed(data []byte) ([]Frame, error) {
	if d.poisoned {
		return nil, &ProtocolError{Msg: "wire: decoder is poisoned by a prior protocol error"}
	}
	if len(data) > 0 {
		d.buf = append(d.buf, data...)
	}

	var frames []Frame
	for {
		if len(d.buf) < headerLen {
			return frames, nil
		}
		length := binary.BigEndian.Uint32(d.buf[1:headerLen])
		if length > MaxPayload {
			d.poisoned = true
			return frames, &ProtocolError{Msg: fmt.Sprintf("wire: declared length %d exceeds MAX_PAYLOAD %d", length, MaxPayload)}
		}
		total := headerLen + int(length)
		if len(d.buf) < total {
			return frames, nil
		}

		frame := Frame{
			Type:    Opcode(d.buf[0]),
			Payload: append([]byte(nil), d.buf[headerLen:total]...),
		}
		frames = append(frames, frame)
		d.buf = d.buf[total:]
	}
}

// Reset discards any buffered remainder and clears the poisoned state.
func (d *Decoder) Reset() {
	d.buf = nil
	d.poisoned = false
}
