// Package crypto provides the long-term identity keys used to authenticate
// a secio handshake. Ephemeral key agreement and stream ciphers live in
// p2p/secio; this package only covers the signing keys a peer is
// long-lived identified by.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrKeyTooShort is returned when unmarshaling a key whose byte length does
// not match the Ed25519 key size.
var ErrKeyTooShort = errors.New("crypto: key data too short")

// Key is the common interface implemented by PrivKey and PubKey.
type Key interface {
	// Raw returns the canonical byte encoding of the key.
	Raw() ([]byte, error)
	// Equals reports whether this key is identical to another.
	Equals(Key) bool
}

// PrivKey is a long-term identity private key. Only Ed25519 is supported:
// the secio handshake needs exactly one deterministic signature algorithm,
// not a pluggable registry (see DESIGN.md).
type PrivKey interface {
	Key
	// Sign signs message, returning a detached signature.
	Sign(message []byte) ([]byte, error)
	// GetPublic returns the public half of this key pair.
	GetPublic() PubKey
}

// PubKey is a long-term identity public key.
type PubKey interface {
	Key
	// Verify checks sig against data, returning false (not an error) for a
	// syntactically valid but mismatching signature.
	Verify(data, sig []byte) (bool, error)
}

type ed25519PrivKey struct {
	sk ed25519.PrivateKey
}

type ed25519PubKey struct {
	pk ed25519.PublicKey
}

// GenerateKeyPair generates a new random Ed25519 identity key pair.
func GenerateKeyPair() (PrivKey, PubKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 identity key: %w", err)
	}
	pk := &ed25519PubKey{pk: pub}
	return &ed25519PrivKey{sk: priv}, pk, nil
}

func (sk *ed25519PrivKey) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(sk.sk, message), nil
}

func (sk *ed25519PrivKey) GetPublic() PubKey {
	return &ed25519PubKey{pk: sk.sk.Public().(ed25519.PublicKey)}
}

func (sk *ed25519PrivKey) Raw() ([]byte, error) {
	out := make([]byte, len(sk.sk))
	copy(out, sk.sk)
	return out, nil
}

func (sk *ed25519PrivKey) Equals(other Key) bool {
	o, ok := other.(*ed25519PrivKey)
	if !ok {
		return false
	}
	return sk.sk.Equal(o.sk)
}

func (pk *ed25519PubKey) Verify(data, sig []byte) (bool, error) {
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pk.pk, data, sig), nil
}

func (pk *ed25519PubKey) Raw() ([]byte, error) {
	out := make([]byte, len(pk.pk))
	copy(out, pk.pk)
	return out, nil
}

func (pk *ed25519PubKey) Equals(other Key) bool {
	o, ok := other.(*ed25519PubKey)
	if !ok {
		return false
	}
	return pk.pk.Equal(o.pk)
}

// UnmarshalPublicKey parses the raw bytes produced by PubKey.Raw.
func UnmarshalPublicKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrKeyTooShort
	}
	raw := make([]byte, ed25519.PublicKeySize)
	copy(raw, b)
	return &ed25519PubKey{pk: ed25519.PublicKey(raw)}, nil
}

// UnmarshalPrivateKey parses the raw bytes produced by PrivKey.Raw.
func UnmarshalPrivateKey(b []byte) (PrivKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, ErrKeyTooShort
	}
	raw := make([]byte, ed25519.PrivateKeySize)
	copy(raw, b)
	return &ed25519PrivKey{sk: ed25519.PrivateKey(raw)}, nil
}
