// Package session owns one secured, multiplexed connection: the set of
// open sub-streams, their (SessionID, ProtocolID) bindings, session-level
// timeout, and per-sub-stream write ordering and backpressure (spec.md
// §4.4). Adapted from the teacher's swarm_conn.go/swarm_stream.go, with
// yamux in place of the teacher's generic transport.CapableConn muxing and
// go-flow-metrics in place of its bwc field.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/transport"
	"github.com/TheNoobiCat/tentacle-go/p2p/negotiate"

	"github.com/benbjohnson/clock"
	flowmetrics "github.com/libp2p/go-flow-metrics"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("session")

// ErrSessionClosed is returned by operations on an already-closed Session.
var ErrSessionClosed = errors.New("session: closed")

// ErrSubStreamOverflow is returned when a sub-stream's outbound queue is
// full; per spec.md §4.4 this closes the offending sub-stream rather than
// blocking the whole session.
var ErrSubStreamOverflow = errors.New("session: sub-stream write queue overflow")

// writeQueueDepth bounds each sub-stream's outbound backpressure queue.
const writeQueueDepth = 64

// Session wraps one transport.CapableConn (already secured and ready to
// mux) and tracks every SubStream opened on it.
type Session struct {
	ctx    *network.SessionContext
	conn   transport.CapableConn
	clock  clock.Clock
	timeout time.Duration

	inMeter  *flowmetrics.Meter
	outMeter *flowmetrics.Meter

	mu      sync.Mutex
	streams map[network.ProtocolID]*SubStream
	closed  bool
	closeOnce sync.Once

	onClose func(*Session)

	lastActivity time.Time
}

// New wraps conn as a Session. ctx carries the identity metadata assigned
// at connect time; timeout <= 0 disables the idle timeout.
func New(sessCtx *network.SessionContext, conn transport.CapableConn, timeout time.Duration, clk clock.Clock, onClose func(*Session)) *Session {
	if clk == nil {
		clk = clock.New()
	}
	return &Session{
		ctx:          sessCtx,
		conn:         conn,
		clock:        clk,
		timeout:      timeout,
		inMeter:      new(flowmetrics.Meter),
		outMeter:     new(flowmetrics.Meter),
		streams:      make(map[network.ProtocolID]*SubStream),
		onClose:      onClose,
		lastActivity: clk.Now(),
	}
}

// Context returns the SessionContext handed to protocol handlers.
func (s *Session) Context() *network.SessionContext { return s.ctx }

// ID returns this session's identifier.
func (s *Session) ID() network.SessionID { return s.ctx.ID }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

// IdleFor reports how long it has been since any sub-stream activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Sub(s.lastActivity)
}

// TimedOut reports whether the session has exceeded its idle timeout.
func (s *Session) TimedOut() bool {
	if s.timeout <= 0 {
		return false
	}
	return s.IdleFor() > s.timeout
}

// OpenSubStream negotiates and opens a new outbound sub-stream for
// protoName, proposing supportedVersions in preference order.
func (s *Session) OpenSubStream(pid network.ProtocolID, protoName string, supportedVersions []string) (*SubStream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	muxed, err := s.conn.OpenStream()
	if err != nil {
		return nil, fmt.Errorf("session: open stream: %w", err)
	}

	version, err := negotiate.Propose(muxed.(negotiateReadWriter), protoName, supportedVersions)
	if err != nil {
		muxed.Reset()
		return nil, err
	}

	return s.addStream(pid, muxed, version), nil
}

// negotiateReadWriter is the minimal surface negotiate.Propose/Respond need;
// network.MuxedStream already satisfies it.
type negotiateReadWriter interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// AcceptSubStream completes the responder side of negotiation on an
// inbound sub-stream already accepted off the mux.
func (s *Session) AcceptSubStream(muxed network.MuxedStream, resolver negotiate.VersionResolver, resolve func(name string) (network.ProtocolID, bool)) (*SubStream, error) {
	name, version, err := negotiate.Respond(muxed.(negotiateReadWriter), resolver)
	if err != nil {
		muxed.Reset()
		return nil, err
	}
	pid, ok := resolve(name)
	if !ok {
		muxed.Reset()
		return nil, &negotiate.ProtocolSelectError{ProtoName: name, HasName: true}
	}
	return s.addStream(pid, muxed, version), nil
}

func (s *Session) addStream(pid network.ProtocolID, muxed network.MuxedStream, version string) *SubStream {
	sub := newSubStream(s, pid, muxed, version)

	s.mu.Lock()
	s.streams[pid] = sub
	s.mu.Unlock()

	s.ctx.MarkOpened(pid)
	s.touch()
	return sub
}

// SubStream looks up an already-open sub-stream by protocol.
func (s *Session) SubStream(pid network.ProtocolID) (*SubStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.streams[pid]
	return sub, ok
}

// removeStream drops the bookkeeping entry for a sub-stream that has
// closed; called by SubStream.Close.
func (s *Session) removeStream(pid network.ProtocolID) {
	s.mu.Lock()
	delete(s.streams, pid)
	s.mu.Unlock()
	s.ctx.MarkClosed(pid)
}

// Broadcast queues data on this Session's open sub-stream for pid, and
// returns an error if no sub-stream for pid is open. Exclusion of sessions
// for a Service-wide FilterBroadcast is done by the caller.
func (s *Session) Broadcast(pid network.ProtocolID, data []byte) error {
	sub, ok := s.SubStream(pid)
	if !ok {
		return fmt.Errorf("session: protocol %d not open", pid)
	}
	return sub.Send(data)
}

// AcceptLoop blocks accepting inbound sub-streams until the session
// closes, handing each to handle.
func (s *Session) AcceptLoop(ctx context.Context, handle func(network.MuxedStream)) {
	for {
		muxed, err := s.conn.AcceptStream()
		if err != nil {
			log.Debugw("accept stream failed, closing session", "session", s.ctx.ID, "err", err)
			s.Close()
			return
		}
		s.touch()
		go handle(muxed)
	}
}

// Close tears down every sub-stream and the underlying connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		streams := s.streams
		s.streams = nil
		s.mu.Unlock()

		for pid, sub := range streams {
			sub.reset()
			s.ctx.MarkClosed(pid)
		}

		err = s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return err
}

func (s *Session) markIO(in, out int) {
	if in > 0 {
		s.inMeter.Mark(uint64(in))
	}
	if out > 0 {
		s.outMeter.Mark(uint64(out))
	}
	s.touch()
}

// BandwidthSnapshot reports this session's current in/out byte rates.
func (s *Session) BandwidthSnapshot() (in, out flowmetrics.Snapshot) {
	return s.inMeter.Snapshot(), s.outMeter.Snapshot()
}
