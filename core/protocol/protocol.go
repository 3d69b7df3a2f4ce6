// Package protocol defines the identifiers a Service's registered
// application protocols are known by (spec.md §3 ProtocolMeta).
package protocol

import (
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/network"
)

// Name is the human-readable protocol name negotiated over the wire
// (spec.md §4.3's proto_name).
type Name string

// HandlerKind selects whether a protocol's handler factory produces one
// instance per Service (ServiceProtocolHandler) or one instance per
// (ProtocolId, SessionId) pair (SessionProtocolHandler) — spec.md §3.
type HandlerKind int

const (
	// ServiceLevel handlers are constructed once per ProtocolId and shared
	// across every session that opens that protocol.
	ServiceLevel HandlerKind = iota
	// SessionLevel handlers are constructed once per (ProtocolId, SessionId).
	SessionLevel
)

// Meta is the immutable-after-registration metadata for one registered
// protocol (spec.md §3 ProtocolMeta).
type Meta struct {
	ID                network.ProtocolID
	Name              Name
	SupportedVersions []string
	Kind              HandlerKind
	NewHandler        func() Handler
	SessionTimeout    time.Duration
	MaxFrameLen       uint32
}
