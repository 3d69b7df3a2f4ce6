package session

import (
	"testing"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestTimedOut(t *testing.T) {
	mockClock := clock.NewMock()
	ctx := network.NewSessionContext(1, nil, network.DirOutbound, "peer", nil)
	s := New(ctx, nil, 10*time.Second, mockClock, nil)

	require.False(t, s.TimedOut())
	mockClock.Add(11 * time.Second)
	require.True(t, s.TimedOut())
}

func TestNoTimeoutWhenDisabled(t *testing.T) {
	mockClock := clock.NewMock()
	ctx := network.NewSessionContext(2, nil, network.DirInbound, "peer", nil)
	s := New(ctx, nil, 0, mockClock, nil)

	mockClock.Add(24 * time.Hour)
	require.False(t, s.TimedOut())
}
