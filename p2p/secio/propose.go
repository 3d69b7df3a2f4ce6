package secio

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// proposition is the handshake's first message: a nonce, the sender's raw
// long-term public key bytes, and three CSV lists of algorithms the sender
// is willing to use, in strength-preference order.
type proposition struct {
	Rand     []byte
	PubKey   []byte
	Exchange string
	Ciphers  string
	Hashes   string
}

// propositionFieldCount is fixed; the leading schema byte is a field count
// rather than a version, since this layout has no optional fields to ever
// add or remove.
const propositionFieldCount = 5

func encodeProposition(p *proposition) []byte {
	fields := [][]byte{
		p.Rand,
		p.PubKey,
		[]byte(p.Exchange),
		[]byte(p.Ciphers),
		[]byte(p.Hashes),
	}
	return encodeFields(propositionFieldCount, fields)
}

func decodeProposition(b []byte) (*proposition, error) {
	fields, err := decodeFields(b, propositionFieldCount)
	if err != nil {
		return nil, err
	}
	return &proposition{
		Rand:     fields[0],
		PubKey:   fields[1],
		Exchange: string(fields[2]),
		Ciphers:  string(fields[3]),
		Hashes:   string(fields[4]),
	}, nil
}

// exchange is the handshake's second message: the ephemeral public key and
// the sender's long-term-key signature over both propositions' raw bytes
// followed by that ephemeral public key.
type exchange struct {
	EPubKey   []byte
	Signature []byte
}

const exchangeFieldCount = 2

func encodeExchange(e *exchange) []byte {
	return encodeFields(exchangeFieldCount, [][]byte{e.EPubKey, e.Signature})
}

func decodeExchange(b []byte) (*exchange, error) {
	fields, err := decodeFields(b, exchangeFieldCount)
	if err != nil {
		return nil, err
	}
	return &exchange{EPubKey: fields[0], Signature: fields[1]}, nil
}

// encodeFields serializes the hand-rolled fixed binary layout: one byte
// holding the field count, then each field as a uint32 big-endian length
// prefix followed by its raw bytes.
func encodeFields(count byte, fields [][]byte) []byte {
	size := 1
	for _, f := range fields {
		size += 4 + len(f)
	}
	out := make([]byte, size)
	out[0] = count
	off := 1
	for _, f := range fields {
		binary.BigEndian.PutUint32(out[off:], uint32(len(f)))
		off += 4
		copy(out[off:], f)
		off += len(f)
	}
	return out
}

func decodeFields(b []byte, want int) ([][]byte, error) {
	if len(b) < 1 {
		return nil, newHandshakeErr(ErrParsing, "empty message")
	}
	count := int(b[0])
	if count != want {
		return nil, newHandshakeErr(ErrParsing, fmt.Sprintf("expected %d fields, got %d", want, count))
	}
	off := 1
	fields := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if off+4 > len(b) {
			return nil, newHandshakeErr(ErrParsing, "truncated length prefix")
		}
		n := int(binary.BigEndian.Uint32(b[off:]))
		off += 4
		if n < 0 || off+n > len(b) {
			return nil, newHandshakeErr(ErrParsing, "truncated field")
		}
		fields = append(fields, b[off:off+n])
		off += n
	}
	return fields, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
