// Package sec provides the secure-channel interfaces the Service core
// depends on but does not implement: p2p/secio is the one concrete
// SecureTransport in this repository, built to this interface so the
// handshake state machine stays swappable in tests.
package sec

import (
	"context"
	"fmt"
	"net"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/peer"
)

// SecureConn is an authenticated, encrypted connection: a raw net.Conn whose
// bytes are already being encrypted/decrypted under a per-session key
// bundle, plus the identity of the remote peer.
type SecureConn interface {
	net.Conn
	network.ConnSecurity
}

// SecureTransport turns an inbound or outbound plaintext net.Conn into an
// authenticated, encrypted SecureConn by running the handshake.
type SecureTransport interface {
	// SecureInbound secures an inbound connection. p is empty unless the
	// caller already knows who it expects to be on the other end.
	SecureInbound(ctx context.Context, insecure net.Conn, p peer.ID) (SecureConn, error)

	// SecureOutbound secures an outbound connection to the given peer.
	SecureOutbound(ctx context.Context, insecure net.Conn, p peer.ID) (SecureConn, error)

	// ID names the security protocol, for logging/metrics.
	ID() string
}

// ErrPeerIDMismatch is returned when a handshake completes but the remote's
// long-term key does not hash to the NodeID the caller expected.
type ErrPeerIDMismatch struct {
	Expected peer.ID
	Actual   peer.ID
}

func (e ErrPeerIDMismatch) Error() string {
	return fmt.Sprintf("peer id mismatch: expected %s, but remote key matches %s", e.Expected, e.Actual)
}

var _ error = (*ErrPeerIDMismatch)(nil)
