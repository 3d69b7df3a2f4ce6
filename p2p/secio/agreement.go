package secio

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// ephemeralKeyPair is the local, short-lived key agreement keypair generated
// fresh for every handshake and discarded once the shared secret is derived.
type ephemeralKeyPair struct {
	exchange Exchange
	pub      []byte

	ecdhPriv *ecdh.PrivateKey // set for the P-curves
	x25519Priv [32]byte       // set for X25519
}

func generateEphemeralKeyPair(ex Exchange) (*ephemeralKeyPair, error) {
	switch ex {
	case ExchangeP256, ExchangeP384, ExchangeP521:
		curve, err := ecdhCurve(ex)
		if err != nil {
			return nil, err
		}
		priv, err := curve.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &ephemeralKeyPair{exchange: ex, pub: priv.PublicKey().Bytes(), ecdhPriv: priv}, nil

	case ExchangeX25519:
		var priv [32]byte
		if _, err := rand.Read(priv[:]); err != nil {
			return nil, err
		}
		pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
		if err != nil {
			return nil, err
		}
		return &ephemeralKeyPair{exchange: ex, pub: pub, x25519Priv: priv}, nil

	default:
		return nil, fmt.Errorf("secio: unknown exchange %q", ex)
	}
}

// sharedSecret computes this side's view of the Diffie-Hellman shared
// secret, given the remote's raw ephemeral public key bytes.
func (kp *ephemeralKeyPair) sharedSecret(remotePub []byte) ([]byte, error) {
	switch kp.exchange {
	case ExchangeP256, ExchangeP384, ExchangeP521:
		curve, err := ecdhCurve(kp.exchange)
		if err != nil {
			return nil, err
		}
		remote, err := curve.NewPublicKey(remotePub)
		if err != nil {
			return nil, err
		}
		return kp.ecdhPriv.ECDH(remote)

	case ExchangeX25519:
		if len(remotePub) != 32 {
			return nil, fmt.Errorf("secio: invalid x25519 public key length %d", len(remotePub))
		}
		return curve25519.X25519(kp.x25519Priv[:], remotePub)

	default:
		return nil, fmt.Errorf("secio: unknown exchange %q", kp.exchange)
	}
}

func ecdhCurve(ex Exchange) (ecdh.Curve, error) {
	switch ex {
	case ExchangeP256:
		return ecdh.P256(), nil
	case ExchangeP384:
		return ecdh.P384(), nil
	case ExchangeP521:
		return ecdh.P521(), nil
	default:
		return nil, fmt.Errorf("secio: %q is not an ECDH curve", ex)
	}
}
