package packet

import (
	"encoding/binary"

	"golang.org/x/text/encoding"
)

// Writer builds a frame payload. All multi-byte writes are big-endian.
type Writer struct {
	buf     []byte
	charset encoding.Encoding
}

func NewWriter(charset encoding.Encoding) *Writer {
	return &Writer{buf: make([]byte, 0, 64), charset: charset}
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteH writes 2 bytes big-endian.
func (w *Writer) WriteH(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// WriteD writes 4 bytes big-endian.
func (w *Writer) WriteD(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteI writes a signed int32 as 4 bytes big-endian.
func (w *Writer) WriteI(v int32) {
	w.WriteD(uint32(v))
}

// WriteQ writes 8 bytes big-endian.
func (w *Writer) WriteQ(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// WriteS writes a u16-length-prefixed string, converting UTF-8 to the client charset.
// Strings longer than 65535 encoded bytes are truncated.
func (w *Writer) WriteS(s string) {
	raw := []byte(s)
	if w.charset != nil && !isASCII(raw) {
		if encoded, err := w.charset.NewEncoder().Bytes(raw); err == nil {
			raw = encoded
		}
		// Fallback: write raw bytes (works for pure ASCII)
	}
	if len(raw) > 0xFFFF {
		raw = raw[:0xFFFF]
	}
	w.WriteH(uint16(len(raw)))
	w.buf = append(w.buf, raw...)
}

// WriteBytes writes a u32-length-prefixed byte slice.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteD(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteFixed writes raw bytes with no length prefix.
func (w *Writer) WriteFixed(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the payload written so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current payload length.
func (w *Writer) Len() int {
	return len(w.buf)
}
