// Package codec implements the length-delimited framing every byte stream
// in this repository rides on: the secio handshake, sub-stream protocol
// negotiation, and (once negotiation hands off to yamux) nothing further,
// since yamux frames its own sub-streams. Grounded on the noise
// transport's read/write-length-prefix idiom, generalized to a
// configurable prefix width and an explicit max-frame-length guard instead
// of noise's fixed 2-byte handshake-only prefix.
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	pool "github.com/libp2p/go-buffer-pool"
)

// DefaultMaxFrameLength is used when a Decoder/Encoder is constructed
// without an explicit limit.
const DefaultMaxFrameLength = 1 << 24 // 16 MiB

// DefaultLengthPrefixSize is the width, in bytes, of the big-endian frame
// length prefix when not overridden.
const DefaultLengthPrefixSize = 4

// ErrFrameTooLarge is returned when a peer announces a frame length beyond
// the configured maximum.
type ErrFrameTooLarge struct {
	Announced int
	Max       int
}

func (e ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("codec: frame length %d exceeds max %d", e.Announced, e.Max)
}

// ErrInvalidPrefixSize is returned when a Decoder/Encoder is constructed
// with a length-prefix width this package cannot represent (1, 2, 4 or 8
// bytes only).
var ErrInvalidPrefixSize = fmt.Errorf("codec: length prefix size must be 1, 2, 4 or 8 bytes")

// Decoder reads big-endian length-prefixed frames off an underlying reader.
// Zero-length frames are legal and returned as an empty, non-nil slice.
type Decoder struct {
	r            *bufio.Reader
	prefixSize   int
	maxFrameLen  int
	lenBuf       [8]byte
}

// NewDecoder wraps r. prefixSize selects the length-prefix width (1, 2, 4 or
// 8 bytes); maxFrameLen bounds any single frame's payload.
func NewDecoder(r io.Reader, prefixSize, maxFrameLen int) (*Decoder, error) {
	if err := validatePrefixSize(prefixSize); err != nil {
		return nil, err
	}
	if maxFrameLen <= 0 {
		maxFrameLen = DefaultMaxFrameLength
	}
	return &Decoder{r: bufio.NewReader(r), prefixSize: prefixSize, maxFrameLen: maxFrameLen}, nil
}

func validatePrefixSize(n int) error {
	switch n {
	case 1, 2, 4, 8:
		return nil
	default:
		return ErrInvalidPrefixSize
	}
}

// ReadFrame blocks until one full frame has been read, or an error occurs.
// The returned slice is pool-allocated; callers should return it with
// ReleaseFrame once done.
func (d *Decoder) ReadFrame() ([]byte, error) {
	prefix := d.lenBuf[:d.prefixSize]
	if _, err := io.ReadFull(d.r, prefix); err != nil {
		return nil, err
	}

	n, err := decodeLength(prefix)
	if err != nil {
		return nil, err
	}
	if n > d.maxFrameLen {
		return nil, ErrFrameTooLarge{Announced: n, Max: d.maxFrameLen}
	}
	if n == 0 {
		return []byte{}, nil
	}

	buf := pool.Get(n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		pool.Put(buf)
		return nil, err
	}
	return buf, nil
}

// ReleaseFrame returns a frame obtained from ReadFrame to the shared pool.
func ReleaseFrame(b []byte) {
	if cap(b) > 0 {
		pool.Put(b)
	}
}

func decodeLength(prefix []byte) (int, error) {
	switch len(prefix) {
	case 1:
		return int(prefix[0]), nil
	case 2:
		return int(binary.BigEndian.Uint16(prefix)), nil
	case 4:
		v := binary.BigEndian.Uint32(prefix)
		if v > uint32(^uint(0)>>1) {
			return 0, fmt.Errorf("codec: frame length %d overflows int", v)
		}
		return int(v), nil
	case 8:
		v := binary.BigEndian.Uint64(prefix)
		if v > uint64(^uint(0)>>1) {
			return 0, fmt.Errorf("codec: frame length %d overflows int", v)
		}
		return int(v), nil
	default:
		return 0, ErrInvalidPrefixSize
	}
}

// Encoder writes big-endian length-prefixed frames to an underlying writer.
type Encoder struct {
	w           io.Writer
	prefixSize  int
	maxFrameLen int
}

// NewEncoder wraps w with the same prefixSize/maxFrameLen semantics as
// NewDecoder; the two must agree for peers to interoperate.
func NewEncoder(w io.Writer, prefixSize, maxFrameLen int) (*Encoder, error) {
	if err := validatePrefixSize(prefixSize); err != nil {
		return nil, err
	}
	if maxFrameLen <= 0 {
		maxFrameLen = DefaultMaxFrameLength
	}
	return &Encoder{w: w, prefixSize: prefixSize, maxFrameLen: maxFrameLen}, nil
}

// WriteFrame writes one length-prefixed frame. An empty or nil payload
// writes a valid zero-length frame.
func (e *Encoder) WriteFrame(payload []byte) error {
	if len(payload) > e.maxFrameLen {
		return ErrFrameTooLarge{Announced: len(payload), Max: e.maxFrameLen}
	}

	out := pool.Get(e.prefixSize + len(payload))
	defer pool.Put(out)

	if err := encodeLength(out[:e.prefixSize], len(payload)); err != nil {
		return err
	}
	copy(out[e.prefixSize:], payload)

	_, err := e.w.Write(out)
	return err
}

func encodeLength(prefix []byte, n int) error {
	switch len(prefix) {
	case 1:
		if n > 0xff {
			return fmt.Errorf("codec: frame length %d does not fit in 1 byte", n)
		}
		prefix[0] = byte(n)
	case 2:
		if n > 0xffff {
			return fmt.Errorf("codec: frame length %d does not fit in 2 bytes", n)
		}
		binary.BigEndian.PutUint16(prefix, uint16(n))
	case 4:
		binary.BigEndian.PutUint32(prefix, uint32(n))
	case 8:
		binary.BigEndian.PutUint64(prefix, uint64(n))
	default:
		return ErrInvalidPrefixSize
	}
	return nil
}
