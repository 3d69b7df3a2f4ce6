package session

import (
	"sync"

	"github.com/TheNoobiCat/tentacle-go/core/network"
)

// SubStream is one protocol's sub-stream within a Session: a FIFO write
// queue feeding a dedicated writer goroutine, so concurrent Send calls for
// the same (session, proto) never interleave on the wire (spec.md §5).
type SubStream struct {
	session *Session
	pid     network.ProtocolID
	version string
	muxed   network.MuxedStream

	writeCh chan []byte
	closeCh chan struct{}
	closeOnce sync.Once

	state network.SubStreamState
	mu    sync.Mutex
}

func newSubStream(s *Session, pid network.ProtocolID, muxed network.MuxedStream, version string) *SubStream {
	sub := &SubStream{
		session: s,
		pid:     pid,
		version: version,
		muxed:   muxed,
		writeCh: make(chan []byte, writeQueueDepth),
		closeCh: make(chan struct{}),
		state:   network.SubStreamOpen,
	}
	go sub.writeLoop()
	return sub
}

// Version reports the negotiated protocol version.
func (s *SubStream) Version() string { return s.version }

// ProtocolID reports which protocol this sub-stream was opened for.
func (s *SubStream) ProtocolID() network.ProtocolID { return s.pid }

// Session returns the owning Session.
func (s *SubStream) Session() *Session { return s.session }

// State reports the sub-stream's current lifecycle stage.
func (s *SubStream) State() network.SubStreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SubStream) writeLoop() {
	for {
		select {
		case data, ok := <-s.writeCh:
			if !ok {
				return
			}
			if _, err := s.muxed.Write(data); err != nil {
				log.Debugw("sub-stream write failed", "proto", s.pid, "err", err)
				s.reset()
				return
			}
			s.session.markIO(0, len(data))
		case <-s.closeCh:
			return
		}
	}
}

// Send enqueues data for delivery, non-blocking: a full queue is treated as
// overflow and closes the sub-stream with ErrSubStreamOverflow rather than
// applying backpressure to the caller (spec.md §4.4's "overflow closes the
// sub-stream with ProtocolError").
func (s *SubStream) Send(data []byte) error {
	if s.State() != network.SubStreamOpen {
		return ErrSessionClosed
	}
	select {
	case s.writeCh <- data:
		return nil
	default:
		s.reset()
		return ErrSubStreamOverflow
	}
}

// Read reads one chunk of inbound data, accounting it to the session's
// inbound bandwidth meter.
func (s *SubStream) Read(p []byte) (int, error) {
	n, err := s.muxed.Read(p)
	if n > 0 {
		s.session.markIO(n, 0)
	}
	return n, err
}

// Close gracefully closes the sub-stream and removes it from the owning
// Session's bookkeeping.
func (s *SubStream) Close() error {
	s.closeOnce.Do(func() {
		s.setState(network.SubStreamClosed)
		close(s.closeCh)
		s.session.removeStream(s.pid)
	})
	return s.muxed.Close()
}

// reset is the hard-failure path: overflow, write error, or session
// teardown.
func (s *SubStream) reset() {
	s.closeOnce.Do(func() {
		s.setState(network.SubStreamClosed)
		close(s.closeCh)
		s.session.removeStream(s.pid)
	})
	_ = s.muxed.Reset()
}

func (s *SubStream) setState(st network.SubStreamState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
