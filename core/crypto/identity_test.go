package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("noise-libp2p replacement: secio proposition bytes")
	sig, err := sk.Sign(msg)
	require.NoError(t, err)

	ok, err := pk.Verify(msg, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = pk.Verify([]byte("tampered"), sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarshalRoundTrip(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	require.NoError(t, err)

	rawPk, err := pk.Raw()
	require.NoError(t, err)
	pk2, err := UnmarshalPublicKey(rawPk)
	require.NoError(t, err)
	require.True(t, pk.Equals(pk2))

	rawSk, err := sk.Raw()
	require.NoError(t, err)
	sk2, err := UnmarshalPrivateKey(rawSk)
	require.NoError(t, err)
	require.True(t, sk.Equals(sk2))
}

func TestUnmarshalPublicKeyTooShort(t *testing.T) {
	_, err := UnmarshalPublicKey([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrKeyTooShort)
}
