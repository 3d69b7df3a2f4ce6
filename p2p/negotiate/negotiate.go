// Package negotiate implements sub-stream protocol selection: the
// initiator proposes a protocol name and the versions it supports, the
// responder replies with the highest mutually supported version or a
// rejection, built directly on p2p/codec's frame encoding rather than
// go-multistream (see DESIGN.md).
package negotiate

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/TheNoobiCat/tentacle-go/p2p/codec"
)

// ProtocolSelectError is returned when negotiation fails: an unrecognized
// protocol name carries it in ProtoName, an exchange that could not be read
// or decoded leaves ProtoName empty.
type ProtocolSelectError struct {
	ProtoName string
	HasName   bool
}

func (e *ProtocolSelectError) Error() string {
	if e.HasName {
		return fmt.Sprintf("negotiate: protocol %q not supported", e.ProtoName)
	}
	return "negotiate: protocol negotiation failed"
}

// DefaultTimeout is a time bound for one negotiation exchange. Propose and
// Respond do not apply it: they block until the peer answers or the
// underlying stream fails.
const DefaultTimeout = 10 * time.Second

type proposal struct {
	ProtoName string   `json:"n"`
	Versions  []string `json:"v"`
}

type reply struct {
	OK      bool   `json:"ok"`
	Version string `json:"ver,omitempty"`
}

// VersionResolver answers, for a given protocol name, whether it is known
// and which of the proposed versions (in the caller's preference order) is
// the highest mutually supported one.
type VersionResolver interface {
	ResolveVersion(protoName string, proposed []string) (version string, ok bool)
}

// Propose runs the initiator side of negotiation over rw: send proto name
// and supported versions, read back the responder's decision.
func Propose(rw io.ReadWriter, protoName string, supportedVersions []string) (string, error) {
	enc, err := codec.NewEncoder(rw, codec.DefaultLengthPrefixSize, codec.DefaultMaxFrameLength)
	if err != nil {
		return "", err
	}
	dec, err := codec.NewDecoder(rw, codec.DefaultLengthPrefixSize, codec.DefaultMaxFrameLength)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(&proposal{ProtoName: protoName, Versions: supportedVersions})
	if err != nil {
		return "", err
	}
	if err := enc.WriteFrame(body); err != nil {
		return "", err
	}

	frame, err := dec.ReadFrame()
	if err != nil {
		return "", &ProtocolSelectError{HasName: false}
	}
	defer codec.ReleaseFrame(frame)

	var r reply
	if err := json.Unmarshal(frame, &r); err != nil {
		return "", &ProtocolSelectError{HasName: false}
	}
	if !r.OK {
		return "", &ProtocolSelectError{ProtoName: protoName, HasName: true}
	}
	return r.Version, nil
}

// Respond runs the responder side: read the initiator's proposal, resolve
// it against resolver, and reply.
func Respond(rw io.ReadWriter, resolver VersionResolver) (protoName, version string, err error) {
	dec, err := codec.NewDecoder(rw, codec.DefaultLengthPrefixSize, codec.DefaultMaxFrameLength)
	if err != nil {
		return "", "", err
	}
	enc, err := codec.NewEncoder(rw, codec.DefaultLengthPrefixSize, codec.DefaultMaxFrameLength)
	if err != nil {
		return "", "", err
	}

	frame, err := dec.ReadFrame()
	if err != nil {
		return "", "", &ProtocolSelectError{HasName: false}
	}
	defer codec.ReleaseFrame(frame)

	var p proposal
	if err := json.Unmarshal(frame, &p); err != nil {
		return "", "", &ProtocolSelectError{HasName: false}
	}

	version, ok := resolver.ResolveVersion(p.ProtoName, p.Versions)
	if !ok {
		_ = enc.WriteFrame(mustMarshal(&reply{OK: false}))
		return "", "", &ProtocolSelectError{ProtoName: p.ProtoName, HasName: true}
	}

	if err := enc.WriteFrame(mustMarshal(&reply{OK: true, Version: version})); err != nil {
		return "", "", err
	}
	return p.ProtoName, version, nil
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// HighestCommon returns the highest-preference entry of proposed that also
// appears in supported, in proposed's order.
func HighestCommon(proposed, supported []string) (string, bool) {
	set := make(map[string]struct{}, len(supported))
	for _, v := range supported {
		set[v] = struct{}{}
	}
	for _, v := range proposed {
		if _, ok := set[v]; ok {
			return v, true
		}
	}
	return "", false
}
