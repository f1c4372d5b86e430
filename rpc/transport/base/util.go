package base

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

const frameHeaderSize = 4

// ErrFrameTooLarge is returned when a frame announces more bytes than allowed
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// writeFrame writes one frame with the format:
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
//
// Header and payload are assembled in a pooled buffer so each frame is a single write.
func writeFrame(w io.Writer, payload []byte) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	_, _ = buf.Write(header[:])
	_, _ = buf.Write(payload)

	_, err := w.Write(buf.B)
	return err
}

// readFrame reads one frame into buf, growing it if needed, and returns the payload.
// The payload aliases buf and is only valid until the next call.
func readFrame(r io.Reader, buf []byte, maxSize int) ([]byte, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, buf, err
	}

	size := int(binary.BigEndian.Uint32(header[:]))
	if maxSize > 0 && size > maxSize {
		return nil, buf, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, maxSize)
	}

	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, buf, err
	}
	return buf, buf, nil
}
