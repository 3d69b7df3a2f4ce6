package service

import (
	"errors"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
)

// ErrServiceClosed is returned by ServiceContext operations once the
// Service has been closed.
var ErrServiceClosed = errors.New("service: closed")

// handlerContext is the ServiceContext implementation handed to every protocol
// Handler: it never touches Service state directly, only posts tasks onto
// the scheduler's channel, per spec §4.5/§9's "non-owning handle."
type handlerContext struct {
	svc *Service
}

var _ protocol.ServiceContext = (*handlerContext)(nil)

func (h *handlerContext) post(t task) error {
	select {
	case h.svc.taskCh <- t:
		return nil
	case <-h.svc.done:
		return ErrServiceClosed
	}
}

func (h *handlerContext) postSync(t task) error {
	t.resultCh = make(chan error, 1)
	if err := h.post(t); err != nil {
		return err
	}
	select {
	case err := <-t.resultCh:
		return err
	case <-h.svc.done:
		return ErrServiceClosed
	}
}

func (h *handlerContext) Send(sid network.SessionID, pid network.ProtocolID, data []byte) error {
	return h.post(task{kind: taskSendMessage, sessionID: sid, protoID: pid, data: data})
}

func (h *handlerContext) FilterBroadcast(exclude map[network.SessionID]struct{}, pid network.ProtocolID, data []byte) error {
	return h.post(task{kind: taskFilterBroadcast, exclude: exclude, protoID: pid, data: data})
}

func (h *handlerContext) Disconnect(sid network.SessionID) error {
	return h.post(task{kind: taskDisconnect, sessionID: sid})
}

func (h *handlerContext) SetServiceNotify(pid network.ProtocolID, interval time.Duration, token uint64) error {
	return h.post(task{kind: taskSetServiceNotify, protoID: pid, interval: interval, token: token})
}

func (h *handlerContext) RemoveServiceNotify(pid network.ProtocolID, token uint64) error {
	return h.post(task{kind: taskRemoveServiceNotify, protoID: pid, token: token})
}

func (h *handlerContext) Dial(address string, target protocol.TargetProtocol) error {
	return h.postSync(task{kind: taskDial, address: address, target: target})
}
