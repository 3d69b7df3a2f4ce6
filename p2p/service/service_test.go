package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
	"github.com/TheNoobiCat/tentacle-go/p2p/registry"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu        sync.Mutex
	connected int
	received  [][]byte
	notified  []uint64
}

func (h *recordingHandler) Init(protocol.ServiceContext) {}

func (h *recordingHandler) Connected(protocol.ProtocolContextMutRef, string) {
	h.mu.Lock()
	h.connected++
	h.mu.Unlock()
}

func (h *recordingHandler) Disconnected(protocol.ProtocolContextMutRef) {}

func (h *recordingHandler) Received(ctx protocol.ProtocolContextMutRef, data []byte) {
	h.mu.Lock()
	h.received = append(h.received, data)
	h.mu.Unlock()
}

func (h *recordingHandler) Notify(ctx protocol.ProtocolContext, token uint64) {
	h.mu.Lock()
	h.notified = append(h.notified, token)
	h.mu.Unlock()
}

func newTestRegistry(t *testing.T, handler protocol.Handler, kind protocol.HandlerKind) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Add(&protocol.Meta{
		ID:                1,
		Name:              "echo",
		SupportedVersions: []string{"1.0.0"},
		Kind:              kind,
		NewHandler:        func() protocol.Handler { return handler },
	}))
	return reg
}

func testLocalKey(t *testing.T) crypto.PrivKey {
	t.Helper()
	sk, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return sk
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	reg := registry.New()
	meta := &protocol.Meta{ID: 1, Name: "echo", Kind: protocol.ServiceLevel}
	require.NoError(t, reg.Add(meta))

	dup := &protocol.Meta{ID: 2, Name: "echo", Kind: protocol.ServiceLevel}
	err := reg.Add(dup)
	require.Error(t, err)
}

func TestServiceConstructsServiceLevelHandlerOnce(t *testing.T) {
	h := &recordingHandler{}
	reg := newTestRegistry(t, h, protocol.ServiceLevel)

	svc, err := New(Options{Registry: reg, LocalKey: testLocalKey(t), Clock: clock.NewMock()})
	require.NoError(t, err)

	got, ok := svc.serviceHandlers[1]
	require.True(t, ok)
	require.Same(t, h, got)
}

func TestServiceNotifyFiresOnSchedule(t *testing.T) {
	h := &recordingHandler{}
	reg := newTestRegistry(t, h, protocol.ServiceLevel)
	mockClock := clock.NewMock()

	svc, err := New(Options{Registry: reg, LocalKey: testLocalKey(t), Clock: mockClock})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.NoError(t, svc.post(task{kind: taskSetServiceNotify, protoID: 1, interval: 50 * time.Millisecond, token: 42}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mockClock.Add(tickInterval)
		h.mu.Lock()
		n := len(h.notified)
		h.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.notified)
	require.Equal(t, uint64(42), h.notified[0])
}

func TestDisconnectUnknownSessionErrors(t *testing.T) {
	reg := registry.New()
	svc, err := New(Options{Registry: reg, LocalKey: testLocalKey(t), Clock: clock.NewMock()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	err = svc.Disconnect(network.SessionID(999))
	require.Error(t, err)
}

func TestTaskKindLabelCoversAllKinds(t *testing.T) {
	kinds := []taskKind{
		taskDial, taskListen, taskDisconnect, taskSendMessage, taskFilterBroadcast,
		taskSetServiceNotify, taskRemoveServiceNotify, taskSetSessionNotify, taskFutureTask,
	}
	for _, k := range kinds {
		require.NotEqual(t, "unknown", taskKindLabel(k))
	}
}
