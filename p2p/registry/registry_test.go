package registry

import (
	"testing"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
	"github.com/stretchr/testify/require"
)

func TestAddAndLookup(t *testing.T) {
	r := New()
	meta := &protocol.Meta{ID: 1, Name: "echo", SupportedVersions: []string{"1.0"}}
	require.NoError(t, r.Add(meta))

	got, ok := r.ByID(1)
	require.True(t, ok)
	require.Equal(t, meta, got)

	got, ok = r.ByName("echo")
	require.True(t, ok)
	require.Equal(t, meta, got)

	require.NoError(t, r.Validate())
}

func TestDuplicateIDRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&protocol.Meta{ID: 1, Name: "a"}))
	err := r.Add(&protocol.Meta{ID: 1, Name: "b"})
	require.Equal(t, ErrDuplicateID{ID: network.ProtocolID(1)}, err)
}

func TestDuplicateNameRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&protocol.Meta{ID: 1, Name: "a"}))
	err := r.Add(&protocol.Meta{ID: 2, Name: "a"})
	require.Equal(t, ErrDuplicateName{Name: protocol.Name("a")}, err)
}
