package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/l1jgo/realm/internal/net/packet"
)

// ReadFrame reads one complete frame from r, header included.
// Wire format: [4 bytes BE: type+payload length][2 bytes BE type][payload].
// A stream that ends inside a frame yields a Truncated FrameError; a clean
// EOF between frames is returned as io.EOF.
func ReadFrame(r io.Reader, maxFrame int) ([]byte, error) {
	var header [packet.LengthSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &packet.FrameError{Kind: packet.Truncated, Detail: "eof in length prefix"}
		}
		return nil, err
	}

	length := int(binary.BigEndian.Uint32(header[:]))
	if length+packet.LengthSize > maxFrame {
		return nil, &packet.FrameError{Kind: packet.TooLarge, Detail: fmt.Sprintf("declared %d bytes", length)}
	}
	if length < packet.TypeSize {
		return nil, &packet.FrameError{Kind: packet.PayloadCorrupt, Detail: fmt.Sprintf("declared length %d", length)}
	}

	frame := make([]byte, packet.LengthSize+length)
	copy(frame, header[:])
	if _, err := io.ReadFull(r, frame[packet.LengthSize:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, &packet.FrameError{Kind: packet.Truncated, Detail: fmt.Sprintf("eof in %d-byte body", length)}
		}
		return nil, fmt.Errorf("read frame body (%d bytes): %w", length, err)
	}
	return frame, nil
}

// WriteFrame writes one pre-encoded frame to w.
func WriteFrame(w io.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads and decodes one frame.
func ReadMessage(r io.Reader, codec *packet.Codec) (packet.Message, error) {
	frame, err := ReadFrame(r, codec.MaxFrame())
	if err != nil {
		return nil, err
	}
	return codec.Unmarshal(frame)
}

// WriteMessage encodes and writes one message.
func WriteMessage(w io.Writer, codec *packet.Codec, msg packet.Message) error {
	frame, err := codec.Marshal(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, frame)
}
