package secio

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/peer"
)

// The handshake state is filled progressively as the handshake proceeds,
// mirroring original_source's HandshakeContext<T> struct chain: each stage
// consumes the previous one's state, so a state earlier than required is a
// compile error rather than a nil-field bug. Go has no type-changing struct
// update, so the chain is expressed as a sequence of *State structs, each
// produced by a function that takes the previous stage (config by value,
// later stages by pointer) and returns the next.
type config struct {
	localKey         crypto.PrivKey
	exchangesCSV     string
	ciphersCSV       string
	digestsCSV       string
}

func newConfig(key crypto.PrivKey) config {
	return config{
		localKey:     key,
		exchangesCSV: DefaultExchanges,
		ciphersCSV:   DefaultCiphers,
		digestsCSV:   DefaultHashes,
	}
}

// localState is produced by withLocal: our own proposition, ready to send.
type localState struct {
	cfg              config
	nonce            []byte
	publicKeyRaw     []byte
	propositionBytes []byte
}

func withLocal(cfg config) (*localState, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	pubRaw, err := cfg.localKey.GetPublic().Raw()
	if err != nil {
		return nil, err
	}

	prop := &proposition{
		Rand:     nonce,
		PubKey:   pubRaw,
		Exchange: cfg.exchangesCSV,
		Ciphers:  cfg.ciphersCSV,
		Hashes:   cfg.digestsCSV,
	}

	return &localState{
		cfg:              cfg,
		nonce:            nonce,
		publicKeyRaw:     pubRaw,
		propositionBytes: encodeProposition(prop),
	}, nil
}

// remoteState is produced by withRemote: the remote's parsed proposition,
// plus the tie-break ordering and the three algorithms chosen from it.
type remoteState struct {
	local *localState

	remotePropositionBytes []byte
	remotePublicKey        crypto.PubKey
	remoteNonce            []byte

	hashesOrdering ordering
	exchange       Exchange
	cipher         Cipher
	digest         Digest
}

func withRemote(local *localState, remoteBytes []byte) (*remoteState, error) {
	remoteProp, err := decodeProposition(remoteBytes)
	if err != nil {
		return nil, err
	}

	remotePubKey, err := crypto.UnmarshalPublicKey(remoteProp.PubKey)
	if err != nil {
		return nil, newHandshakeErr(ErrParsing, "failed to unmarshal remote public key: "+err.Error())
	}

	if remotePubKey.Equals(local.cfg.localKey.GetPublic()) {
		return nil, newHandshakeErr(ErrConnectSelf, "remote public key equals our own")
	}

	ord := tieBreakOrdering(remotePubKey, local.nonce, local.publicKeyRaw, remoteProp.Rand)

	exchange, err := selectExchange(ord, local.cfg.exchangesCSV, remoteProp.Exchange)
	if err != nil {
		return nil, err
	}
	cipher, err := selectCipher(ord, local.cfg.ciphersCSV, remoteProp.Ciphers)
	if err != nil {
		return nil, err
	}
	digest, err := selectDigest(ord, local.cfg.digestsCSV, remoteProp.Hashes)
	if err != nil {
		return nil, err
	}

	return &remoteState{
		local:                   local,
		remotePropositionBytes:  remoteBytes,
		remotePublicKey:         remotePubKey,
		remoteNonce:             remoteProp.Rand,
		hashesOrdering:          ord,
		exchange:                exchange,
		cipher:                  cipher,
		digest:                  digest,
	}, nil
}

// tieBreakOrdering computes ordering(hash(remote_pubkey‖local_nonce),
// hash(local_pubkey‖remote_nonce)) exactly as original_source's
// with_remote does.
func tieBreakOrdering(remotePubKey crypto.PubKey, localNonce, localPubKeyRaw, remoteNonce []byte) ordering {
	remotePubRaw, _ := remotePubKey.Raw()

	h1 := sha256.New()
	h1.Write(remotePubRaw)
	h1.Write(localNonce)
	oh1 := h1.Sum(nil)

	h2 := sha256.New()
	h2.Write(localPubKeyRaw)
	h2.Write(remoteNonce)
	oh2 := h2.Sum(nil)

	return compareBytes(oh1, oh2)
}

// ephemeralState is produced by withEphemeral: our ephemeral keypair for
// this handshake, ready to exchange.
type ephemeralState struct {
	remote *remoteState
	keyPair *ephemeralKeyPair
}

func withEphemeral(remote *remoteState) (*ephemeralState, error) {
	kp, err := generateEphemeralKeyPair(remote.exchange)
	if err != nil {
		return nil, err
	}
	return &ephemeralState{remote: remote, keyPair: kp}, nil
}

// activeState is the final stage: derived key bundles and signed exchange
// messages ready to authenticate and then discard the ephemeral key.
type activeState struct {
	remote *remoteState

	localExchangeBytes []byte
	sharedSecret       func(remotePub []byte) ([]byte, error)
}

func withActive(eph *ephemeralState) (*activeState, error) {
	toSign := append(append([]byte{}, eph.remote.local.propositionBytes...), eph.remote.remotePropositionBytes...)
	sig, err := eph.remote.local.cfg.localKey.Sign(append(toSign, eph.keyPair.pub...))
	if err != nil {
		return nil, err
	}

	exBytes := encodeExchange(&exchange{EPubKey: eph.keyPair.pub, Signature: sig})

	return &activeState{
		remote:             eph.remote,
		localExchangeBytes: exBytes,
		sharedSecret:       eph.keyPair.sharedSecret,
	}, nil
}

// verifyRemoteExchange authenticates the remote's Exchange message against
// its long-term public key, then returns the shared secret.
func (a *activeState) verifyRemoteExchange(remoteExchangeBytes []byte) ([]byte, error) {
	remoteEx, err := decodeExchange(remoteExchangeBytes)
	if err != nil {
		return nil, err
	}

	toVerify := append(append([]byte{}, a.remote.remotePropositionBytes...), a.remote.local.propositionBytes...)
	toVerify = append(toVerify, remoteEx.EPubKey...)

	ok, err := a.remote.remotePublicKey.Verify(toVerify, remoteEx.Signature)
	if err != nil {
		return nil, newHandshakeErr(ErrSignatureMismatch, err.Error())
	}
	if !ok {
		return nil, newHandshakeErr(ErrSignatureMismatch, "remote exchange signature invalid")
	}

	return a.sharedSecret(remoteEx.EPubKey)
}

func (a *activeState) remotePeerID() (peer.ID, error) {
	return peer.IDFromPublicKey(a.remote.remotePublicKey)
}
