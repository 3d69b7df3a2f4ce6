package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, DefaultLengthPrefixSize, 0)
	require.NoError(t, err)

	msgs := [][]byte{
		[]byte("hello"),
		{},
		[]byte("a second frame after an empty one"),
	}
	for _, m := range msgs {
		require.NoError(t, enc.WriteFrame(m))
	}

	dec, err := NewDecoder(&buf, DefaultLengthPrefixSize, 0)
	require.NoError(t, err)
	for _, want := range msgs {
		got, err := dec.ReadFrame()
		require.NoError(t, err)
		require.Equal(t, want, got)
		ReleaseFrame(got)
	}
}

func TestDecodeRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, DefaultLengthPrefixSize, 1<<20)
	require.NoError(t, err)
	require.NoError(t, enc.WriteFrame(make([]byte, 100)))

	dec, err := NewDecoder(&buf, DefaultLengthPrefixSize, 10)
	require.NoError(t, err)
	_, err = dec.ReadFrame()
	var tooLarge ErrFrameTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestInvalidPrefixSize(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewEncoder(&buf, 3, 0)
	require.ErrorIs(t, err, ErrInvalidPrefixSize)
	_, err = NewDecoder(&buf, 3, 0)
	require.ErrorIs(t, err, ErrInvalidPrefixSize)
}

func TestOneBytePrefix(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, 1, 0)
	require.NoError(t, err)
	require.NoError(t, enc.WriteFrame([]byte("x")))
	require.Error(t, enc.WriteFrame(make([]byte, 256)))
}
