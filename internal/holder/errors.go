package holder

import (
	"errors"
	"fmt"
)

// Error taxonomy per spec.md §7. Callers should prefer errors.Is/As over
// matching message text, though the canonical messages are still rendered
// verbatim where spec.md calls one out.
var (
	// ErrActiveAttachment is returned (and sent as an ERROR frame) when a
	// second concurrent attach is attempted against a session that already
	// holds the writer slot. Callers should match it with errors.Is; the
	// message actually sent on the wire is built per-session by
	// activeAttachmentError so it can name the session.
	ErrActiveAttachment = errors.New("active attachment")

	// ErrExpectedHello is sent when a client's first frame is not HELLO.
	ErrExpectedHello = errors.New("expected HELLO")

	// ErrProtocolVersion is sent when a HELLO declares an unsupported
	// protocolVersion.
	ErrProtocolVersion = errors.New("unsupported protocol version")

	// ErrInvalidHello is sent when a HELLO payload is not valid JSON. A
	// missing protocolVersion or mode is reported as ErrProtocolVersion or
	// ErrInvalidMode instead.
	ErrInvalidHello = errors.New("invalid HELLO payload")

	// ErrInvalidMode is sent when a HELLO names a mode other than attach,
	// view, or logs.
	ErrInvalidMode = errors.New("invalid mode")
)

// activeAttachmentErr renders the canonical rejection message spec.md §4.4
// recommends while still unwrapping to ErrActiveAttachment for errors.Is.
type activeAttachmentErr struct{ session string }

func (e activeAttachmentErr) Error() string {
	return fmt.Sprintf("Session `%s` has an active attachment. Use view for read-only access.", e.session)
}

func (e activeAttachmentErr) Unwrap() error { return ErrActiveAttachment }

func activeAttachmentError(name string) error {
	return activeAttachmentErr{session: name}
}
