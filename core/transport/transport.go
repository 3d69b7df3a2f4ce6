// Package transport defines the pluggable byte-stream layer a Service
// dials and listens on, before security and multiplexing are layered on
// top. p2p/transport/tcp is this repository's one implementation.
package transport

import (
	"context"
	"errors"
	"net"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	ma "github.com/multiformats/go-multiaddr"
)

// ErrListenerClosed is returned by Listener.Accept once the listener has
// been closed.
var ErrListenerClosed = errors.New("transport: listener closed")

// CapableConn is a fully set up connection: secured and multiplexed, with
// its multiaddresses available for logging and dial-dedup bookkeeping.
type CapableConn interface {
	network.MuxedConn
	network.ConnSecurity

	LocalMultiaddr() ma.Multiaddr
	RemoteMultiaddr() ma.Multiaddr
}

// Transport dials and accepts raw connections on one family of
// multiaddresses (e.g. /ip4/.../tcp/...), then hands them off to the
// caller already secured and muxed.
type Transport interface {
	// Dial connects to raddr and returns a ready-to-use CapableConn.
	Dial(ctx context.Context, raddr ma.Multiaddr) (CapableConn, error)

	// CanDial reports whether this Transport knows how to dial raddr.
	CanDial(raddr ma.Multiaddr) bool

	// Listen starts accepting inbound connections on laddr.
	Listen(laddr ma.Multiaddr) (Listener, error)

	// Protocols lists the multiaddr protocol codes this Transport handles.
	Protocols() []int
}

// Listener accepts inbound connections already upgraded to CapableConn.
type Listener interface {
	Accept() (CapableConn, error)
	Close() error
	Multiaddr() ma.Multiaddr
	Addr() net.Addr
}
