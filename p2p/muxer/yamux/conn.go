// Package yamux adapts github.com/libp2p/go-yamux/v5 to this repository's
// core/network.MuxedConn/MuxedStream interfaces: every sub-stream a Session
// opens or accepts is one yamux stream multiplexed over the secio-secured
// connection.
package yamux

import (
	"context"

	"github.com/TheNoobiCat/tentacle-go/core/network"

	"github.com/libp2p/go-yamux/v5"
)

// conn implements network.MuxedConn over a yamux.Session.
type conn yamux.Session

var _ network.MuxedConn = &conn{}

// NewMuxedConn wraps an established yamux.Session.
func NewMuxedConn(m *yamux.Session) network.MuxedConn {
	return (*conn)(m)
}

func (c *conn) Close() error {
	return c.yamux().Close()
}

func (c *conn) IsClosed() bool {
	return c.yamux().IsClosed()
}

// OpenStream opens a new sub-stream. No negotiation timeout is applied here,
// nor on the frame exchange that follows in p2p/session; yamux's OpenStream
// itself blocks only on local flow control.
func (c *conn) OpenStream() (network.MuxedStream, error) {
	s, err := c.yamux().OpenStream(context.Background())
	if err != nil {
		return nil, err
	}
	return (*stream)(s), nil
}

func (c *conn) AcceptStream() (network.MuxedStream, error) {
	s, err := c.yamux().AcceptStream()
	if err != nil {
		return nil, err
	}
	return (*stream)(s), nil
}

func (c *conn) yamux() *yamux.Session {
	return (*yamux.Session)(c)
}
