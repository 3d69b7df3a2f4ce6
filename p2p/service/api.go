package service

import (
	"context"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
)

// post is the same non-owning-handle posting logic as handlerContext,
// exposed directly on Service for callers driving it from outside a
// protocol Handler (ServiceBuilder, cmd/ entry points, tests).
func (s *Service) post(t task) error {
	select {
	case s.taskCh <- t:
		return nil
	case <-s.done:
		return ErrServiceClosed
	}
}

func (s *Service) postSync(t task) error {
	t.resultCh = make(chan error, 1)
	if err := s.post(t); err != nil {
		return err
	}
	select {
	case err := <-t.resultCh:
		return err
	case <-s.done:
		return ErrServiceClosed
	}
}

// Listen opens a listener on address; it blocks until the listener is
// bound (or fails), not until any connection arrives.
func (s *Service) Listen(address string) error {
	return s.postSync(task{kind: taskListen, address: address})
}

// Dial connects to address and, per target, opens sub-streams for every
// protocol that should be active on the new session as soon as it's up.
func (s *Service) Dial(address string, target protocol.TargetProtocol) error {
	return s.postSync(task{kind: taskDial, address: address, target: target})
}

// Disconnect closes an established session by id.
func (s *Service) Disconnect(sid network.SessionID) error {
	return s.postSync(task{kind: taskDisconnect, sessionID: sid})
}

// SetSessionNotify schedules a recurring Notify callback for pid scoped to
// one session, delivered every interval until RemoveServiceNotify-style
// cancellation via session teardown.
func (s *Service) SetSessionNotify(sid network.SessionID, pid network.ProtocolID, interval time.Duration, token uint64) error {
	return s.post(task{kind: taskSetSessionNotify, sessionID: sid, protoID: pid, interval: interval, token: token})
}

// FutureTask runs fn on the scheduler's supervised errgroup: a panic in fn
// surfaces as a Service shutdown rather than crashing silently, the same
// guarantee a sub-stream handler panic does not get (spec.md's distinction
// between a handler-local fault and a caller-scheduled background fault).
func (s *Service) FutureTask(ctx context.Context, fn func()) error {
	return s.post(task{kind: taskFutureTask, fn: fn})
}
