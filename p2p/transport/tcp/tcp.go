// Package tcp is this repository's one transport.Transport: plain TCP
// dial/listen, keepalive/linger tuning, handed off to a secio+yamux
// upgrader. Adapted from the teacher's TcpTransport, with the
// resource-manager/reuseport/tcpreuse machinery dropped (see DESIGN.md) —
// this repository has one Service per process and no shared-listener
// demultiplexing to do.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/peer"
	"github.com/TheNoobiCat/tentacle-go/core/transport"

	logging "github.com/ipfs/go-log/v2"
	tec "github.com/jbenet/go-temp-err-catcher"
	ma "github.com/multiformats/go-multiaddr"
	mafmt "github.com/multiformats/go-multiaddr-fmt"
	manet "github.com/multiformats/go-multiaddr/net"
)

var log = logging.Logger("tcp-tpt")

const defaultConnectTimeout = 5 * time.Second
const keepAlivePeriod = 30 * time.Second

// Upgrader turns a freshly dialed or accepted plaintext manet.Conn into a
// transport.CapableConn by running the security handshake and wrapping the
// result in a multiplexer. Implemented by p2p/service's connection upgrade
// step, which composes p2p/secio and p2p/muxer/yamux; kept as an interface
// here so this package doesn't import the service that drives it.
type Upgrader interface {
	Upgrade(ctx context.Context, insecure manet.Conn, remote peer.ID, inbound bool) (transport.CapableConn, error)
}

type canKeepAlive interface {
	SetKeepAlive(bool) error
	SetKeepAlivePeriod(time.Duration) error
}

var _ canKeepAlive = &net.TCPConn{}

func tryKeepAlive(conn net.Conn, keepAlive bool) {
	keepAliveConn, ok := conn.(canKeepAlive)
	if !ok {
		return
	}
	if err := keepAliveConn.SetKeepAlive(keepAlive); err != nil {
		if errors.Is(err, os.ErrInvalid) || errors.Is(err, syscall.EINVAL) {
			log.Debugw("failed to enable TCP keepalive", "error", err)
		} else {
			log.Errorw("failed to enable TCP keepalive", "error", err)
		}
		return
	}
	if runtime.GOOS != "openbsd" {
		if err := keepAliveConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			log.Errorw("failed to set keepalive period", "error", err)
		}
	}
}

func tryLinger(conn net.Conn, sec int) {
	type canLinger interface{ SetLinger(int) error }
	if lingerConn, ok := conn.(canLinger); ok {
		_ = lingerConn.SetLinger(sec)
	}
}

// Option configures a Transport.
type Option func(*Transport)

// WithConnectionTimeout overrides the default 5s dial timeout.
func WithConnectionTimeout(d time.Duration) Option {
	return func(t *Transport) { t.connectTimeout = d }
}

// WithMetrics turns on the connection-count prometheus collector.
func WithMetrics() Option {
	return func(t *Transport) { t.enableMetrics = true }
}

// Transport implements core/transport.Transport over plain TCP.
type Transport struct {
	upgrader       Upgrader
	connectTimeout time.Duration
	enableMetrics  bool
}

var _ transport.Transport = (*Transport)(nil)

// New constructs a TCP Transport that hands every accepted/dialed
// connection to upgrader before returning it.
func New(upgrader Upgrader, opts ...Option) *Transport {
	t := &Transport{upgrader: upgrader, connectTimeout: defaultConnectTimeout}
	for _, o := range opts {
		o(t)
	}
	return t
}

var dialMatcher = mafmt.And(mafmt.IP, mafmt.Base(ma.P_TCP))

func (t *Transport) CanDial(addr ma.Multiaddr) bool {
	return dialMatcher.Matches(addr)
}

func (t *Transport) Protocols() []int {
	return []int{ma.P_TCP}
}

func (t *Transport) Dial(ctx context.Context, raddr ma.Multiaddr) (transport.CapableConn, error) {
	if t.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()
	}

	var d manet.Dialer
	conn, err := d.DialContext(ctx, raddr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", raddr, err)
	}

	tryLinger(conn, 0)
	tryKeepAlive(conn, true)

	if t.enableMetrics {
		trackNewConn("outgoing")
	}

	capable, err := t.upgrader.Upgrade(ctx, conn, "", false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return capable, nil
}

func (t *Transport) Listen(laddr ma.Multiaddr) (transport.Listener, error) {
	ml, err := manet.Listen(laddr)
	if err != nil {
		return nil, err
	}
	return &listener{ml: ml, upgrader: t.upgrader, enableMetrics: t.enableMetrics}, nil
}

type listener struct {
	ml            manet.Listener
	upgrader      Upgrader
	enableMetrics bool
	catcher       tec.TempErrCatcher
}

// Accept blocks for the next fully upgraded inbound connection. A
// Temporary() accept error (a transient kernel-level hiccup, not a real
// listener failure) is logged and retried rather than returned, adapted
// from the teacher's upgrader/listener.go handleIncoming loop with the
// resource-manager/connection-gater/backpressure-threshold machinery
// dropped (see DESIGN.md) — this repository accepts serially, one
// connection upgrade at a time, with no queue to throttle.
func (l *listener) Accept() (transport.CapableConn, error) {
	for {
		conn, err := l.ml.Accept()
		if err != nil {
			if l.catcher.IsTemporary(err) {
				log.Infow("temporary accept error, retrying", "err", err)
				continue
			}
			return nil, err
		}
		l.catcher.Reset()

		tryKeepAlive(conn, true)
		if l.enableMetrics {
			trackNewConn("incoming")
		}

		capable, err := l.upgrader.Upgrade(context.Background(), conn, "", true)
		if err != nil {
			log.Debugw("accept upgrade failed", "remote", conn.RemoteMultiaddr(), "err", err)
			conn.Close()
			continue
		}
		return capable, nil
	}
}

func (l *listener) Close() error            { return l.ml.Close() }
func (l *listener) Multiaddr() ma.Multiaddr { return l.ml.Multiaddr() }
func (l *listener) Addr() net.Addr         { return l.ml.Addr() }
