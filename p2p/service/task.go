package service

import (
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
)

// taskKind enumerates the ServiceTask vocabulary (spec.md §4.5): every
// mutation of scheduler-owned state arrives as one of these, posted onto
// the Service's single task channel and drained only by Service.Run.
type taskKind int

const (
	taskDial taskKind = iota
	taskListen
	taskDisconnect
	taskSendMessage
	taskFilterBroadcast
	taskSetServiceNotify
	taskRemoveServiceNotify
	taskSetSessionNotify
	taskFutureTask
)

type task struct {
	kind taskKind

	// Dial / Listen
	address string
	target  protocol.TargetProtocol

	// Disconnect / SendMessage / FilterBroadcast / notify
	sessionID network.SessionID
	protoID   network.ProtocolID
	data      []byte
	exclude   map[network.SessionID]struct{}

	// notify
	interval time.Duration
	token    uint64

	// FutureTask
	fn func()

	// result delivery for synchronous callers (Dial errors, etc.)
	resultCh chan error
}
