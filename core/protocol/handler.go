package protocol

import (
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/network"
)

// Handler is the capability set a registered protocol implements (spec.md
// §9): lifecycle callbacks plus inbound data/notify delivery. The Service
// calls them from goroutines of its own, not from its scheduler goroutine:
// Connected, Received and Disconnected for one sub-stream run in that order
// on that sub-stream's goroutine, and each Notify runs on a goroutine of its
// own. Calls for different sub-streams, and Notify calls, are not
// serialized, so a handler instance shared across sub-streams can be called
// concurrently. A Received that blocks stalls reads on its own sub-stream.
type Handler interface {
	// Init is called once, immediately after the handler is constructed,
	// before it can observe any session.
	Init(ctx ServiceContext)

	// Connected is called the first time a session opens this protocol's
	// sub-stream.
	Connected(ctx ProtocolContextMutRef, version string)

	// Disconnected is called once the sub-stream for this session closes,
	// for any reason (remote close, reset, session teardown).
	Disconnected(ctx ProtocolContextMutRef)

	// Received delivers the bytes returned by one read (at most 64 KiB) of
	// this protocol's sub-stream. Sub-streams carry no message framing, so
	// one call can hold part of a sent message or several sent messages.
	Received(ctx ProtocolContextMutRef, data []byte)

	// Notify delivers a timer tick registered via ServiceContext.SetServiceNotify
	// or SetSessionNotify.
	Notify(ctx ProtocolContext, token uint64)
}

// ServiceContext is the handle a Handler uses to act back on the Service:
// send/open/close, and schedule its own future wakeups. It is a narrow
// interface (rather than a concrete *service.Service reference) so that
// core/protocol never imports p2p/service, breaking what would otherwise be
// an import cycle between the registry and the scheduler.
type ServiceContext interface {
	// Send delivers data on an already-open (SessionID, ProtocolID) sub-stream.
	Send(sid network.SessionID, pid network.ProtocolID, data []byte) error

	// FilterBroadcast sends data to every open sub-stream of pid except those
	// in exclude (spec.md §6 FilterBroadcast). A nil exclude broadcasts to all.
	FilterBroadcast(exclude map[network.SessionID]struct{}, pid network.ProtocolID, data []byte) error

	// Disconnect tears down an entire session.
	Disconnect(sid network.SessionID) error

	// SetServiceNotify arranges for Handler.Notify to fire every interval,
	// starting after the first tick, with the given token.
	SetServiceNotify(pid network.ProtocolID, interval time.Duration, token uint64) error

	// RemoveServiceNotify cancels a notify registered via SetServiceNotify.
	RemoveServiceNotify(pid network.ProtocolID, token uint64) error

	// Dial asks the Service to open a new outbound session.
	Dial(address string, target TargetProtocol) error
}

// TargetProtocol selects which protocols a freshly dialed session should
// open immediately upon connecting (spec.md §5 TargetProtocol).
type TargetProtocol struct {
	All   bool
	Only  []network.ProtocolID
	Blank bool // connect without opening any protocol
}

// ProtocolContext is the read-only view of one (Service, ProtocolID) pair
// handed to Handler.Notify, which is not scoped to any one session.
type ProtocolContext struct {
	ServiceContext
	ProtoID network.ProtocolID
}

// ProtocolContextMutRef additionally scopes to one session, for the
// per-sub-stream callbacks (Connected/Disconnected/Received).
type ProtocolContextMutRef struct {
	ProtocolContext
	Session *network.SessionContext
}
