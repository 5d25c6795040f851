package packet

import (
	"encoding/binary"

	"golang.org/x/text/encoding"
)

// Reader reads big-endian fields from a frame payload. The first short read
// sets a sticky error; later reads return zero values.
type Reader struct {
	data    []byte
	off     int
	charset encoding.Encoding // nil = UTF-8 passthrough
	short   bool
}

func NewReader(data []byte, charset encoding.Encoding) *Reader {
	return &Reader{data: data, charset: charset}
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// ReadH reads 2 bytes as big-endian uint16.
func (r *Reader) ReadH() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadD reads 4 bytes as big-endian uint32.
func (r *Reader) ReadD() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// ReadI reads 4 bytes as a signed big-endian int32.
func (r *Reader) ReadI() int32 {
	return int32(r.ReadD())
}

// ReadQ reads 8 bytes as big-endian uint64.
func (r *Reader) ReadQ() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

// ReadS reads a u16-length-prefixed string in the client charset and returns UTF-8.
func (r *Reader) ReadS() string {
	n := int(r.ReadH())
	if !r.need(n) {
		return ""
	}
	raw := r.data[r.off : r.off+n]
	r.off += n
	return decodeString(raw, r.charset)
}

// ReadBytes reads a u32-length-prefixed byte slice (copied).
func (r *Reader) ReadBytes() []byte {
	n := int(r.ReadD())
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// ReadFixed reads exactly n raw bytes into dst.
func (r *Reader) ReadFixed(dst []byte) {
	if !r.need(len(dst)) {
		return
	}
	copy(dst, r.data[r.off:r.off+len(dst)])
	r.off += len(dst)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Short reports whether any read ran past the end of the payload.
func (r *Reader) Short() bool {
	return r.short
}

func (r *Reader) need(n int) bool {
	if r.short || n < 0 || r.off+n > len(r.data) {
		r.short = true
		return false
	}
	return true
}

// decodeString converts charset bytes to UTF-8.
// Pure ASCII passes through unchanged; only multi-byte sequences are decoded.
func decodeString(raw []byte, charset encoding.Encoding) string {
	if len(raw) == 0 {
		return ""
	}
	if charset == nil || isASCII(raw) {
		return string(raw)
	}
	decoded, err := charset.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw) // fallback to raw bytes
	}
	return string(decoded)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}
