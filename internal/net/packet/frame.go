package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Frame layout: [4 bytes BE length][2 bytes BE message type][payload].
// The length counts the type tag plus the payload.
const (
	LengthSize      = 4
	TypeSize        = 2
	HeaderSize      = LengthSize + TypeSize
	DefaultMaxFrame = 64 * 1024
)

// ErrIncomplete is returned by Decode while the buffer holds only part of a frame.
var ErrIncomplete = errors.New("incomplete frame")

// FrameErrorKind classifies malformed wire data. Every kind is connection-fatal.
type FrameErrorKind int

const (
	Truncated FrameErrorKind = iota
	UnknownType
	PayloadCorrupt
	TooLarge
)

func (k FrameErrorKind) String() string {
	switch k {
	case Truncated:
		return "Truncated"
	case UnknownType:
		return "UnknownType"
	case PayloadCorrupt:
		return "PayloadCorrupt"
	case TooLarge:
		return "TooLarge"
	default:
		return fmt.Sprintf("FrameErrorKind(%d)", int(k))
	}
}

// FrameError reports a frame that could not be decoded.
type FrameError struct {
	Kind   FrameErrorKind
	Type   MsgType
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("frame error %s (type %s)", e.Kind, e.Type)
	}
	return fmt.Sprintf("frame error %s (type %s): %s", e.Kind, e.Type, e.Detail)
}

// IsFrameError reports whether err is (or wraps) a FrameError of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.Kind == kind
}

// Codec encodes and decodes frames for one protocol configuration.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	charset  encoding.Encoding
	maxFrame int
}

// NewCodec builds a codec for the given client charset name ("utf-8", "big5", ...).
func NewCodec(charset string, maxFrame int) (*Codec, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	c := &Codec{maxFrame: maxFrame}
	name := strings.ToLower(strings.TrimSpace(charset))
	if name == "" || name == "utf-8" || name == "utf8" {
		return c, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown client charset %q: %w", charset, err)
	}
	c.charset = enc
	return c, nil
}

// DefaultCodec is a UTF-8 codec with the default frame ceiling.
func DefaultCodec() *Codec {
	return &Codec{maxFrame: DefaultMaxFrame}
}

// MaxFrame returns the largest accepted frame, header included.
func (c *Codec) MaxFrame() int { return c.maxFrame }

// Marshal encodes msg into a complete frame.
func (c *Codec) Marshal(msg Message) ([]byte, error) {
	w := NewWriter(c.charset)
	w.WriteD(0) // length placeholder
	w.WriteH(uint16(msg.Type()))
	msg.encode(w)
	frame := w.Bytes()
	if len(frame) > c.maxFrame {
		return nil, &FrameError{Kind: TooLarge, Type: msg.Type(), Detail: fmt.Sprintf("%d bytes", len(frame))}
	}
	binary.BigEndian.PutUint32(frame[0:LengthSize], uint32(len(frame)-LengthSize))
	return frame, nil
}

// MustMarshal is Marshal for messages known to fit (server-built packets).
func (c *Codec) MustMarshal(msg Message) []byte {
	b, err := c.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return b
}

// Unmarshal decodes exactly one complete frame.
func (c *Codec) Unmarshal(frame []byte) (Message, error) {
	if len(frame) < HeaderSize {
		return nil, &FrameError{Kind: Truncated, Detail: fmt.Sprintf("%d header bytes", len(frame))}
	}
	length := int(binary.BigEndian.Uint32(frame[0:LengthSize]))
	t := MsgType(binary.BigEndian.Uint16(frame[LengthSize:HeaderSize]))
	if length+LengthSize > c.maxFrame {
		return nil, &FrameError{Kind: TooLarge, Type: t, Detail: fmt.Sprintf("declared %d bytes", length)}
	}
	if length < TypeSize {
		return nil, &FrameError{Kind: PayloadCorrupt, Type: t, Detail: fmt.Sprintf("declared length %d", length)}
	}
	switch {
	case len(frame)-LengthSize < length:
		return nil, &FrameError{Kind: Truncated, Type: t, Detail: fmt.Sprintf("have %d of %d bytes", len(frame)-LengthSize, length)}
	case len(frame)-LengthSize > length:
		return nil, &FrameError{Kind: PayloadCorrupt, Type: t, Detail: "trailing bytes after frame"}
	}

	msg := newMessage(t)
	if msg == nil {
		return nil, &FrameError{Kind: UnknownType, Type: t}
	}
	r := NewReader(frame[HeaderSize:], c.charset)
	msg.decode(r)
	if r.Short() {
		return nil, &FrameError{Kind: PayloadCorrupt, Type: t, Detail: "payload too short"}
	}
	if r.Remaining() != 0 {
		return nil, &FrameError{Kind: PayloadCorrupt, Type: t, Detail: fmt.Sprintf("%d unread payload bytes", r.Remaining())}
	}
	return msg, nil
}

// Decode reads the first frame from a stream buffer. It returns ErrIncomplete
// until the buffer holds a full frame, and the number of bytes consumed on success.
func (c *Codec) Decode(buf []byte) (Message, int, error) {
	if len(buf) < LengthSize {
		return nil, 0, ErrIncomplete
	}
	length := int(binary.BigEndian.Uint32(buf[0:LengthSize]))
	if length+LengthSize > c.maxFrame {
		return nil, 0, &FrameError{Kind: TooLarge, Detail: fmt.Sprintf("declared %d bytes", length)}
	}
	if len(buf) < LengthSize+length {
		return nil, 0, ErrIncomplete
	}
	n := LengthSize + length
	msg, err := c.Unmarshal(buf[:n])
	if err != nil {
		return nil, 0, err
	}
	return msg, n, nil
}
