package secio

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/p2p/codec"
	"github.com/stretchr/testify/require"
)

func TestHandshakeAndEcho(t *testing.T) {
	skA, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	skB, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	connA, connB := net.Pipe()

	type result struct {
		sess *secureSession
		err  error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		s, err := newSecureSession(ctx, connA, skA, "", true)
		chA <- result{s, err}
	}()
	go func() {
		s, err := newSecureSession(ctx, connB, skB, "", false)
		chB <- result{s, err}
	}()

	ra := <-chA
	rb := <-chB
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)

	msg := []byte("hello over secio")
	go func() {
		_, _ = ra.sess.Write(msg)
	}()

	buf := make([]byte, len(msg))
	_, err = io.ReadFull(rb.sess, buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf)
}

// newPairedSessions builds two secureSessions over a net.Pipe sharing a
// derived key schedule, skipping proposition/exchange negotiation so tests
// can drive verifyNonces directly.
func newPairedSessions(t *testing.T) (*secureSession, *secureSession) {
	t.Helper()

	connA, connB := net.Pipe()

	shared := make([]byte, 32)
	_, err := rand.Read(shared)
	require.NoError(t, err)

	a, b, err := deriveKeys(DigestSHA256, shared, CipherAES128)
	require.NoError(t, err)

	build := func(conn net.Conn, send, recv keySet) *secureSession {
		encStream, err := newStreamCipher(CipherAES128, send.Key, send.IV)
		require.NoError(t, err)
		decStream, err := newStreamCipher(CipherAES128, recv.Key, recv.IV)
		require.NoError(t, err)
		mSize, err := macSize(DigestSHA256)
		require.NoError(t, err)
		hashNew, err := newHashFunc(DigestSHA256)
		require.NoError(t, err)
		dec, err := codec.NewDecoder(conn, lengthPrefixSize, codec.DefaultMaxFrameLength)
		require.NoError(t, err)
		enc, err := codec.NewEncoder(conn, lengthPrefixSize, codec.DefaultMaxFrameLength)
		require.NoError(t, err)
		return &secureSession{
			insecure:  conn,
			encStream: encStream,
			encMacKey: send.MacKey,
			decStream: decStream,
			decMacKey: recv.MacKey,
			macSize:   mSize,
			hashNew:   hashNew,
			dec:       dec,
			enc:       enc,
		}
	}

	return build(connA, a, b), build(connB, b, a)
}

func TestVerifyNoncesSucceedsOnMatchingRoundTrip(t *testing.T) {
	sA, sB := newPairedSessions(t)
	nonceA := []byte("nonce-from-A-16b")
	nonceB := []byte("nonce-from-B-16b")

	errCh := make(chan error, 2)
	go func() { errCh <- sA.verifyNonces(nonceB, nonceA, true) }()
	go func() { errCh <- sB.verifyNonces(nonceA, nonceB, false) }()

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)
}

// TestVerifyNoncesRejectsMismatch simulates a peer that doesn't echo back
// the nonce it was sent (a tampered or buggy counterpart): the honest side
// must reject the handshake with ErrNonceVerificationFailed rather than
// completing it.
func TestVerifyNoncesRejectsMismatch(t *testing.T) {
	sA, sB := newPairedSessions(t)
	nonceA := []byte("nonce-from-A-16b")
	nonceB := []byte("nonce-from-B-16b")
	tampered := []byte("not-the-right-nce")

	errCh := make(chan error, 2)
	go func() { errCh <- sA.verifyNonces(nonceB, nonceA, true) }()
	go func() { errCh <- sB.verifyNonces(tampered, nonceB, false) }()

	var sawMismatch bool
	for i := 0; i < 2; i++ {
		err := <-errCh
		if err == nil {
			continue
		}
		var he *HandshakeError
		if errors.As(err, &he) && he.Kind == ErrNonceVerificationFailed {
			sawMismatch = true
		}
	}
	require.True(t, sawMismatch, "expected the honest side to reject the mismatched nonce")
}

func TestSelectAlgorithmTieBreak(t *testing.T) {
	got, err := selectAlgorithm(orderingLess, "A,B,C", "C,B,A")
	require.NoError(t, err)
	require.Equal(t, "C", got)

	got, err = selectAlgorithm(orderingGreater, "A,B,C", "C,B,A")
	require.NoError(t, err)
	require.Equal(t, "A", got)
}

func TestSelectAlgorithmNoOverlap(t *testing.T) {
	_, err := selectAlgorithm(orderingGreater, "A,B", "C,D")
	require.Error(t, err)
}

func TestPropositionRoundTrip(t *testing.T) {
	p := &proposition{
		Rand:     []byte("0123456789abcdef"),
		PubKey:   []byte{1, 2, 3, 4},
		Exchange: DefaultExchanges,
		Ciphers:  DefaultCiphers,
		Hashes:   DefaultHashes,
	}
	b := encodeProposition(p)
	got, err := decodeProposition(b)
	require.NoError(t, err)
	require.Equal(t, p, got)
}
