package secio

import (
	"context"
	"net"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/peer"
	"github.com/TheNoobiCat/tentacle-go/core/sec"
)

// Transport is this repository's sole sec.SecureTransport: it runs the
// proposition/exchange handshake over a raw connection and hands back an
// encrypted, authenticated sec.SecureConn.
type Transport struct {
	localKey crypto.PrivKey
}

// New constructs a Transport that authenticates as localKey.
func New(localKey crypto.PrivKey) *Transport {
	return &Transport{localKey: localKey}
}

func (t *Transport) ID() string { return "/secio/1.0.0" }

func (t *Transport) SecureInbound(ctx context.Context, insecure net.Conn, p peer.ID) (sec.SecureConn, error) {
	return newSecureSession(ctx, insecure, t.localKey, p, false)
}

func (t *Transport) SecureOutbound(ctx context.Context, insecure net.Conn, p peer.ID) (sec.SecureConn, error) {
	return newSecureSession(ctx, insecure, t.localKey, p, true)
}

var _ sec.SecureTransport = (*Transport)(nil)
