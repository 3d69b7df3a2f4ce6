package service

import (
	"context"
	"fmt"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/peer"
	"github.com/TheNoobiCat/tentacle-go/core/sec"
	"github.com/TheNoobiCat/tentacle-go/core/transport"
	yamuxadapt "github.com/TheNoobiCat/tentacle-go/p2p/muxer/yamux"
	"github.com/TheNoobiCat/tentacle-go/p2p/secio"

	"github.com/libp2p/go-yamux/v5"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// capableConn bundles a secured, muxed connection with its multiaddresses
// so it satisfies core/transport.CapableConn.
type capableConn struct {
	network.MuxedConn
	network.ConnSecurity

	local  ma.Multiaddr
	remote ma.Multiaddr
}

func (c *capableConn) LocalMultiaddr() ma.Multiaddr  { return c.local }
func (c *capableConn) RemoteMultiaddr() ma.Multiaddr { return c.remote }

var _ transport.CapableConn = (*capableConn)(nil)

// upgrader runs the secio handshake then opens a yamux session on top,
// turning a raw manet.Conn into a transport.CapableConn. This is the
// concrete tcp.Upgrader the Service wires into its TCP transport.
type upgrader struct {
	secioTransport *secio.Transport
}

func newUpgrader(localKey crypto.PrivKey) *upgrader {
	return &upgrader{secioTransport: secio.New(localKey)}
}

func (u *upgrader) Upgrade(ctx context.Context, insecure manet.Conn, remote peer.ID, inbound bool) (transport.CapableConn, error) {
	var secured sec.SecureConn
	var err error

	if inbound {
		secured, err = u.secioTransport.SecureInbound(ctx, insecure, remote)
	} else {
		secured, err = u.secioTransport.SecureOutbound(ctx, insecure, remote)
	}
	if err != nil {
		return nil, fmt.Errorf("service: secure connection: %w", err)
	}

	var sess *yamux.Session
	cfg := yamux.DefaultConfig()
	if inbound {
		sess, err = yamux.Server(secured, cfg)
	} else {
		sess, err = yamux.Client(secured, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("service: yamux setup: %w", err)
	}

	return &capableConn{
		MuxedConn:    yamuxadapt.NewMuxedConn(sess),
		ConnSecurity: secured,
		local:        insecure.LocalMultiaddr(),
		remote:       insecure.RemoteMultiaddr(),
	}, nil
}
