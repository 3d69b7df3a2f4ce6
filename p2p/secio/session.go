package secio

import (
	"context"
	"crypto/cipher"
	"crypto/hmac"
	"fmt"
	"hash"
	"net"
	"sync"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/peer"
	"github.com/TheNoobiCat/tentacle-go/p2p/codec"

	pool "github.com/libp2p/go-buffer-pool"
)

// lengthPrefixSize matches the 4-byte frame prefix p2p/codec defaults to;
// secio frames the handshake messages themselves with it, then reuses it for
// the post-handshake encrypted channel.
const lengthPrefixSize = 4

// secureSession wraps an insecure net.Conn with a running secio handshake
// and, once active, an encrypt-then-MAC record layer. Grounded on the
// noise transport's secureSession: bufio-cushioned reads, a read/write
// mutex pair, and a leftover-plaintext queue for partial Read() calls.
type secureSession struct {
	insecure net.Conn

	localID peer.ID
	localKey crypto.PrivKey
	remoteID peer.ID
	remoteKey crypto.PubKey

	readLock  sync.Mutex
	writeLock sync.Mutex

	encStream cipher.Stream
	encMacKey []byte
	decStream cipher.Stream
	decMacKey []byte
	macSize   int
	hashNew   func() hash.Hash

	dec *codec.Decoder
	enc *codec.Encoder

	leftover []byte
}

// newSecureSession runs the handshake to completion (or failure) before
// returning, exactly like the noise transport's newSecureSession: the
// handshake itself runs on a goroutine so ctx cancellation can interrupt an
// in-progress blocking read.
func newSecureSession(ctx context.Context, insecure net.Conn, localKey crypto.PrivKey, expectedRemote peer.ID, initiator bool) (*secureSession, error) {
	s := &secureSession{
		insecure: insecure,
		localID:  mustLocalID(localKey),
		localKey: localKey,
	}

	respCh := make(chan error, 1)
	go func() {
		respCh <- s.runHandshake(ctx, expectedRemote, initiator)
	}()

	select {
	case err := <-respCh:
		if err != nil {
			_ = s.insecure.Close()
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		_ = s.insecure.Close()
		<-respCh
		return nil, ctx.Err()
	}
}

func mustLocalID(key crypto.PrivKey) peer.ID {
	id, err := peer.IDFromPublicKey(key.GetPublic())
	if err != nil {
		return ""
	}
	return id
}

func (s *secureSession) runHandshake(ctx context.Context, expectedRemote peer.ID, initiator bool) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.insecure.SetDeadline(deadline); err == nil {
			defer s.insecure.SetDeadline(time.Time{})
		}
	}

	dec, err := codec.NewDecoder(s.insecure, lengthPrefixSize, codec.DefaultMaxFrameLength)
	if err != nil {
		return err
	}
	enc, err := codec.NewEncoder(s.insecure, lengthPrefixSize, codec.DefaultMaxFrameLength)
	if err != nil {
		return err
	}

	local, err := withLocal(newConfig(s.localKey))
	if err != nil {
		return err
	}

	// Exchange propositions. The initiator writes first to keep the two
	// sides from deadlocking on a simultaneous blocking read, mirroring the
	// noise transport's stage-ordering by role.
	var remoteBytes []byte
	if initiator {
		if err := enc.WriteFrame(local.propositionBytes); err != nil {
			return err
		}
		remoteBytes, err = readFrameCopy(dec)
		if err != nil {
			return err
		}
	} else {
		remoteBytes, err = readFrameCopy(dec)
		if err != nil {
			return err
		}
		if err := enc.WriteFrame(local.propositionBytes); err != nil {
			return err
		}
	}

	remote, err := withRemote(local, remoteBytes)
	if err != nil {
		return err
	}

	if expectedRemote != "" {
		gotID, err := peer.IDFromPublicKey(remote.remotePublicKey)
		if err != nil {
			return err
		}
		if gotID != expectedRemote {
			return newHandshakeErr(ErrPeerIDMismatch, fmt.Sprintf("expected %s, got %s", expectedRemote, gotID))
		}
	}

	eph, err := withEphemeral(remote)
	if err != nil {
		return err
	}
	active, err := withActive(eph)
	if err != nil {
		return err
	}

	var remoteExBytes []byte
	if initiator {
		if err := enc.WriteFrame(active.localExchangeBytes); err != nil {
			return err
		}
		remoteExBytes, err = readFrameCopy(dec)
		if err != nil {
			return err
		}
	} else {
		remoteExBytes, err = readFrameCopy(dec)
		if err != nil {
			return err
		}
		if err := enc.WriteFrame(active.localExchangeBytes); err != nil {
			return err
		}
	}

	sharedSecret, err := active.verifyRemoteExchange(remoteExBytes)
	if err != nil {
		return err
	}

	localBundle, remoteBundle, err := deriveKeys(remote.digest, sharedSecret, remote.cipher)
	if err != nil {
		return err
	}
	// Which bundle sends and which receives is decided by hashesOrdering
	// (spec.md §4.2), not by which side dialed out: otherwise an honest
	// peer that follows the spec'd rule would pick the opposite bundle
	// whenever dial direction and ordering don't happen to agree.
	if remote.hashesOrdering != orderingLess {
		localBundle, remoteBundle = remoteBundle, localBundle
	}

	encStream, err := newStreamCipher(remote.cipher, localBundle.Key, localBundle.IV)
	if err != nil {
		return err
	}
	decStream, err := newStreamCipher(remote.cipher, remoteBundle.Key, remoteBundle.IV)
	if err != nil {
		return err
	}
	mSize, err := macSize(remote.digest)
	if err != nil {
		return err
	}
	hashNew, err := newHashFunc(remote.digest)
	if err != nil {
		return err
	}

	s.remoteKey = remote.remotePublicKey
	s.remoteID, err = active.remotePeerID()
	if err != nil {
		return err
	}
	s.encStream = encStream
	s.encMacKey = localBundle.MacKey
	s.decStream = decStream
	s.decMacKey = remoteBundle.MacKey
	s.macSize = mSize
	s.hashNew = hashNew
	s.dec = dec
	s.enc = enc

	// Handshake completion (spec.md §4.2): each side encrypts the nonce it
	// received from its counterpart under the freshly derived keys and
	// sends it back; the other side must see its own original nonce come
	// back unchanged. This round trip, not key derivation alone, is what
	// reaches Active.
	if err := s.verifyNonces(remote.remoteNonce, local.nonce, initiator); err != nil {
		return err
	}

	return nil
}

// verifyNonces performs the post-handshake nonce round trip. initiator
// only decides write/read ordering, exactly like the proposition and
// exchange stages above, so both sides don't block on a simultaneous read.
func (s *secureSession) verifyNonces(peerNonce, ownNonce []byte, initiator bool) error {
	var gotBack []byte
	var err error
	if initiator {
		if _, err = s.Write(peerNonce); err != nil {
			return err
		}
		gotBack, err = s.readFrame()
	} else {
		gotBack, err = s.readFrame()
		if err != nil {
			return err
		}
		_, err = s.Write(peerNonce)
	}
	if err != nil {
		return err
	}
	if !hmac.Equal(gotBack, ownNonce) {
		return newHandshakeErr(ErrNonceVerificationFailed, "peer echoed nonce does not match")
	}
	return nil
}

func readFrameCopy(dec *codec.Decoder) ([]byte, error) {
	f, err := dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), f...)
	codec.ReleaseFrame(f)
	return out, nil
}

// Write encrypts p, appends a MAC, and sends it as one length-prefixed
// frame.
func (s *secureSession) Write(p []byte) (int, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	ciphertext := pool.Get(len(p))
	defer pool.Put(ciphertext)
	s.encStream.XORKeyStream(ciphertext, p)

	tag := s.computeMac(s.encMacKey, ciphertext)

	frame := append(append([]byte{}, ciphertext...), tag...)
	if err := s.enc.WriteFrame(frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read fills p from the decrypted stream, buffering any leftover plaintext
// from a previously over-large frame (same qbuf/qseek pattern as the noise
// transport's secureSession).
func (s *secureSession) Read(p []byte) (int, error) {
	s.readLock.Lock()
	defer s.readLock.Unlock()

	if len(s.leftover) == 0 {
		plain, err := s.readFrame()
		if err != nil {
			return 0, err
		}
		s.leftover = plain
	}

	n := copy(p, s.leftover)
	s.leftover = s.leftover[n:]
	return n, nil
}

func (s *secureSession) readFrame() ([]byte, error) {
	frame, err := s.dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	defer codec.ReleaseFrame(frame)

	if len(frame) < s.macSize {
		return nil, newHandshakeErr(ErrIO, "frame shorter than MAC size")
	}
	ciphertext := frame[:len(frame)-s.macSize]
	tag := frame[len(frame)-s.macSize:]

	expected := s.computeMac(s.decMacKey, ciphertext)
	if !hmac.Equal(expected, tag) {
		return nil, newHandshakeErr(ErrIO, "MAC verification failed")
	}

	plain := make([]byte, len(ciphertext))
	s.decStream.XORKeyStream(plain, ciphertext)
	return plain, nil
}

func (s *secureSession) computeMac(key, data []byte) []byte {
	h := hmac.New(s.hashNew, key)
	h.Write(data)
	return h.Sum(nil)
}

func (s *secureSession) LocalAddr() net.Addr                { return s.insecure.LocalAddr() }
func (s *secureSession) RemoteAddr() net.Addr               { return s.insecure.RemoteAddr() }
func (s *secureSession) SetDeadline(t time.Time) error      { return s.insecure.SetDeadline(t) }
func (s *secureSession) SetReadDeadline(t time.Time) error  { return s.insecure.SetReadDeadline(t) }
func (s *secureSession) SetWriteDeadline(t time.Time) error { return s.insecure.SetWriteDeadline(t) }
func (s *secureSession) Close() error                       { return s.insecure.Close() }

func (s *secureSession) LocalPeer() peer.ID          { return s.localID }
func (s *secureSession) RemotePeer() peer.ID         { return s.remoteID }
func (s *secureSession) RemotePublicKey() crypto.PubKey { return s.remoteKey }

var _ network.ConnSecurity = (*secureSession)(nil)
