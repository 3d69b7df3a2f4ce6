package service

import (
	"testing"

	"github.com/TheNoobiCat/tentacle-go/core/protocol"

	"github.com/stretchr/testify/require"
)

func TestBuilderRejectsDuplicateProtocolName(t *testing.T) {
	b := NewServiceBuilder(testLocalKey(t))
	b.AddProtocol(&protocol.Meta{ID: 1, Name: "echo", Kind: protocol.ServiceLevel, NewHandler: func() protocol.Handler { return &recordingHandler{} }})
	b.AddProtocol(&protocol.Meta{ID: 2, Name: "echo", Kind: protocol.ServiceLevel, NewHandler: func() protocol.Handler { return &recordingHandler{} }})

	_, err := b.Build()
	require.Error(t, err)
}

func TestBuilderRejectsDuplicateProtocolID(t *testing.T) {
	b := NewServiceBuilder(testLocalKey(t))
	b.AddProtocol(&protocol.Meta{ID: 1, Name: "a", Kind: protocol.ServiceLevel, NewHandler: func() protocol.Handler { return &recordingHandler{} }})
	b.AddProtocol(&protocol.Meta{ID: 1, Name: "b", Kind: protocol.ServiceLevel, NewHandler: func() protocol.Handler { return &recordingHandler{} }})

	_, err := b.Build()
	require.Error(t, err)
}

func TestBuilderBuildsRunnableService(t *testing.T) {
	b := NewServiceBuilder(testLocalKey(t))
	b.AddProtocol(&protocol.Meta{
		ID: 1, Name: "echo", SupportedVersions: []string{"1.0.0"}, Kind: protocol.ServiceLevel,
		NewHandler: func() protocol.Handler { return &recordingHandler{} },
	})

	svc, err := b.Build()
	require.NoError(t, err)
	require.NotNil(t, svc)

	_, ok := svc.serviceHandlers[1]
	require.True(t, ok)
}
