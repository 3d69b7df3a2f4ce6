// Command echo runs two Services on localhost, each registering an echo
// protocol, dials one into the other, and exchanges a handful of messages
// to exercise listen/dial/negotiate/send end to end.
package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
	"github.com/TheNoobiCat/tentacle-go/p2p/service"
)

const echoProtocolID network.ProtocolID = 1

// echoHandler echoes every message it receives back on the same
// sub-stream and counts round trips for the example to report on.
type echoHandler struct {
	name string

	mu       sync.Mutex
	received int
	done     chan struct{}
}

func newEchoHandler(name string, wantRounds int) *echoHandler {
	return &echoHandler{name: name, done: make(chan struct{})}
}

func (h *echoHandler) Init(ctx protocol.ServiceContext) {}

func (h *echoHandler) Connected(ctx protocol.ProtocolContextMutRef, version string) {
	log.Printf("%s: session %d connected, version %s", h.name, ctx.Session.ID, version)

	// The accepting side sends the first message; from then on each side
	// replies to what it receives.
	if ctx.Session.Direction == network.DirInbound {
		if err := ctx.Send(ctx.Session.ID, echoProtocolID, []byte(h.name+"-hello")); err != nil {
			log.Printf("%s: send failed: %v", h.name, err)
		}
	}
}

func (h *echoHandler) Disconnected(ctx protocol.ProtocolContextMutRef) {
	log.Printf("%s: session %d disconnected", h.name, ctx.Session.ID)
}

func (h *echoHandler) Received(ctx protocol.ProtocolContextMutRef, data []byte) {
	h.mu.Lock()
	h.received++
	n := h.received
	h.mu.Unlock()

	log.Printf("%s: received %q from session %d", h.name, data, ctx.Session.ID)

	if n >= 3 {
		close(h.done)
		return
	}
	reply := []byte(fmt.Sprintf("%s-reply-%d", h.name, n))
	if err := ctx.Send(ctx.Session.ID, echoProtocolID, reply); err != nil {
		log.Printf("%s: send failed: %v", h.name, err)
	}
}

func (h *echoHandler) Notify(ctx protocol.ProtocolContext, token uint64) {}

func mustKey() crypto.PrivKey {
	sk, _, err := crypto.GenerateKeyPair()
	if err != nil {
		log.Fatalf("generating identity key: %v", err)
	}
	return sk
}

func mustBuild(name string, handler *echoHandler) *service.Service {
	svc, err := service.NewServiceBuilder(mustKey()).
		AddProtocol(&protocol.Meta{
			ID:                echoProtocolID,
			Name:              "echo",
			SupportedVersions: []string{"1.0.0"},
			Kind:              protocol.SessionLevel,
			NewHandler:        func() protocol.Handler { return handler },
		}).
		Build()
	if err != nil {
		log.Fatalf("%s: build: %v", name, err)
	}
	return svc
}

func main() {
	listenerHandler := newEchoHandler("listener", 3)
	dialerHandler := newEchoHandler("dialer", 3)

	listener := mustBuild("listener", listenerHandler)
	dialer := mustBuild("dialer", dialerHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)
	go dialer.Run(ctx)

	const addr = "/ip4/127.0.0.1/tcp/18765"
	if err := listener.Listen(addr); err != nil {
		log.Fatalf("listen: %v", err)
	}

	if err := dialer.Dial(addr, protocol.TargetProtocol{All: true}); err != nil {
		log.Fatalf("dial: %v", err)
	}

	select {
	case <-dialerHandler.done:
	case <-time.After(10 * time.Second):
		log.Fatal("timed out waiting for echo exchange")
	}

	log.Println("echo exchange complete")
}
