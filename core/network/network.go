// Package network defines the identifiers and per-session handle shared by
// every layer above the raw transport: SessionID, ProtocolID, Direction, the
// muxed-connection/stream abstraction a secured session rides on, and
// SessionContext (spec.md §3).
package network

import (
	"sync"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/peer"

	ma "github.com/multiformats/go-multiaddr"
)

// SessionID is an opaque, process-unique, monotonically increasing
// identifier assigned at session creation. Once assigned it is never
// reused (spec.md §3 invariant).
type SessionID uint64

// ProtocolID is the small-integer identifier a protocol registers under,
// unique within one Service.
type ProtocolID uint32

// Direction records which side initiated a session.
type Direction int

const (
	DirUnknown Direction = iota
	DirInbound
	DirOutbound
)

func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// ConnSecurity is the subset of an authenticated connection's surface that
// callers above the secure channel need: who the peer is.
type ConnSecurity interface {
	LocalPeer() peer.ID
	RemotePeer() peer.ID
	RemotePublicKey() crypto.PubKey
}

// MuxedStream is one logical sub-stream of a MuxedConn.
type MuxedStream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Reset() error
	CloseWrite() error
	CloseRead() error
}

// MuxedConn multiplexes many MuxedStreams over one secured byte stream.
// Implemented by p2p/muxer/yamux.
type MuxedConn interface {
	Close() error
	IsClosed() bool
	OpenStream() (MuxedStream, error)
	AcceptStream() (MuxedStream, error)
}

// SubStreamState is the lifecycle of one (SessionID, ProtocolID) sub-stream
// (spec.md §3 invariant: Negotiating -> Open -> Closed, monotonic, no
// reopen).
type SubStreamState int

const (
	SubStreamNegotiating SubStreamState = iota
	SubStreamOpen
	SubStreamClosed
)

func (s SubStreamState) String() string {
	switch s {
	case SubStreamNegotiating:
		return "negotiating"
	case SubStreamOpen:
		return "open"
	case SubStreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionContext is the handle to one session's identity-bearing state,
// handed to user callbacks. It is created on successful transport connect,
// mutated only by the service core, and destroyed once all references drain
// after disconnect (spec.md §3).
type SessionContext struct {
	ID            SessionID
	RemoteAddress ma.Multiaddr
	Direction     Direction
	// RemotePublicKey is set iff the session is secured (always true once
	// past the Handshaking lifecycle stage).
	RemotePublicKey crypto.PubKey
	RemotePeer      peer.ID

	mu     sync.Mutex
	opened map[ProtocolID]struct{}
}

// NewSessionContext constructs a SessionContext for a freshly upgraded
// connection.
func NewSessionContext(id SessionID, addr ma.Multiaddr, dir Direction, remotePeer peer.ID, remoteKey crypto.PubKey) *SessionContext {
	return &SessionContext{
		ID:              id,
		RemoteAddress:   addr,
		Direction:       dir,
		RemotePublicKey: remoteKey,
		RemotePeer:      remotePeer,
		opened:          make(map[ProtocolID]struct{}),
	}
}

// MarkOpened records that a sub-stream for proto reached the Open state.
func (s *SessionContext) MarkOpened(proto ProtocolID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened[proto] = struct{}{}
}

// MarkClosed removes proto from the opened set once its sub-stream closes.
func (s *SessionContext) MarkClosed(proto ProtocolID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.opened, proto)
}

// OpenedProtocols lists the ProtocolIDs with a currently Open sub-stream.
func (s *SessionContext) OpenedProtocols() []ProtocolID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProtocolID, 0, len(s.opened))
	for p := range s.opened {
		out = append(out, p)
	}
	return out
}
