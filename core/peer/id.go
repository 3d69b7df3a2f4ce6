// Package peer defines the stable identity (NodeID) a session's remote end
// is known by, derived from its long-term public key.
package peer

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"

	"github.com/mr-tron/base58"
	ma "github.com/multiformats/go-multiaddr"
)

// ID is a NodeID: the base58 encoding of sha256(pubkey-raw-bytes). Unlike a
// full libp2p peer.ID, it isn't a self-describing multihash — secio has a
// fixed hash/identity-key pairing, so there's nothing to multiplex.
type ID string

// IDFromPublicKey derives the NodeID a given public key is known by.
func IDFromPublicKey(pk crypto.PubKey) (ID, error) {
	raw, err := pk.Raw()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return ID(base58.Encode(sum[:])), nil
}

func (id ID) String() string {
	return string(id)
}

// AddrInfo bundles a peer's NodeID with the multiaddresses it can be dialed
// on, mirroring the teacher's core/peer.AddrInfo.
type AddrInfo struct {
	ID    ID
	Addrs []ma.Multiaddr
}

type addrInfoJSON struct {
	ID    ID
	Addrs []string
}

func (ai AddrInfo) MarshalJSON() ([]byte, error) {
	addrs := make([]string, len(ai.Addrs))
	for i, a := range ai.Addrs {
		addrs[i] = a.String()
	}
	return json.Marshal(&addrInfoJSON{ID: ai.ID, Addrs: addrs})
}

func (ai *AddrInfo) UnmarshalJSON(b []byte) error {
	var data addrInfoJSON
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	addrs := make([]ma.Multiaddr, len(data.Addrs))
	for i, s := range data.Addrs {
		maddr, err := ma.NewMultiaddr(s)
		if err != nil {
			return err
		}
		addrs[i] = maddr
	}
	ai.ID = data.ID
	ai.Addrs = addrs
	return nil
}
