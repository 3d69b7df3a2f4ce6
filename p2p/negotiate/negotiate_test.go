package negotiate

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	versions map[string][]string
}

func (r *staticResolver) ResolveVersion(name string, proposed []string) (string, bool) {
	supported, ok := r.versions[name]
	if !ok {
		return "", false
	}
	return HighestCommon(proposed, supported)
}

func TestProposeRespondSuccess(t *testing.T) {
	a, b := net.Pipe()
	resolver := &staticResolver{versions: map[string][]string{"echo": {"1.0", "1.1"}}}

	done := make(chan struct{})
	var gotName, gotVersion string
	var respErr error
	go func() {
		gotName, gotVersion, respErr = Respond(b, resolver)
		close(done)
	}()

	version, err := Propose(a, "echo", []string{"1.1", "1.0"})
	require.NoError(t, err)
	require.Equal(t, "1.1", version)

	<-done
	require.NoError(t, respErr)
	require.Equal(t, "echo", gotName)
	require.Equal(t, "1.1", gotVersion)
}

func TestProposeRespondUnknownProtocol(t *testing.T) {
	a, b := net.Pipe()
	resolver := &staticResolver{versions: map[string][]string{}}

	done := make(chan struct{})
	var respErr error
	go func() {
		_, _, respErr = Respond(b, resolver)
		close(done)
	}()

	_, err := Propose(a, "unknown", []string{"1.0"})
	require.Error(t, err)
	var selErr *ProtocolSelectError
	require.ErrorAs(t, err, &selErr)
	require.True(t, selErr.HasName)

	<-done
	require.Error(t, respErr)
}

func TestHighestCommon(t *testing.T) {
	v, ok := HighestCommon([]string{"2.0", "1.0"}, []string{"1.0", "3.0"})
	require.True(t, ok)
	require.Equal(t, "1.0", v)

	_, ok = HighestCommon([]string{"9.0"}, []string{"1.0"})
	require.False(t, ok)
}
