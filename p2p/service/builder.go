package service

import (
	"context"
	"fmt"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
	"github.com/TheNoobiCat/tentacle-go/p2p/registry"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
)

// ServiceBuilder accumulates protocol registrations and builds a runnable
// Service, failing before any transport opens if two protocols collide on
// ProtocolID or Name (spec.md §4.6). Wiring goes through go.uber.org/fx so
// the same build-time validation invoked manually here also composes with
// an fx.App in a larger binary.
type ServiceBuilder struct {
	reg            *registry.Registry
	localKey       crypto.PrivKey
	clock          clock.Clock
	sessionTimeout time.Duration
	dialTimeout    time.Duration
	err            error
}

// NewServiceBuilder starts a builder for a Service identified by localKey.
func NewServiceBuilder(localKey crypto.PrivKey) *ServiceBuilder {
	return &ServiceBuilder{reg: registry.New(), localKey: localKey}
}

// AddProtocol registers meta, recording (rather than immediately
// returning) any uniqueness conflict so the caller can chain calls and
// only check the error once at Build.
func (b *ServiceBuilder) AddProtocol(meta *protocol.Meta) *ServiceBuilder {
	if b.err != nil {
		return b
	}
	if err := b.reg.Add(meta); err != nil {
		b.err = fmt.Errorf("service: registering protocol %q: %w", meta.Name, err)
	}
	return b
}

// WithClock overrides the Service's time source, for deterministic tests.
func (b *ServiceBuilder) WithClock(clk clock.Clock) *ServiceBuilder {
	b.clock = clk
	return b
}

// WithSessionTimeout sets the idle timeout applied to every session; <= 0
// disables it.
func (b *ServiceBuilder) WithSessionTimeout(d time.Duration) *ServiceBuilder {
	b.sessionTimeout = d
	return b
}

// WithDialTimeout overrides the per-dial timeout.
func (b *ServiceBuilder) WithDialTimeout(d time.Duration) *ServiceBuilder {
	b.dialTimeout = d
	return b
}

// Build validates the accumulated registrations and constructs a Service.
// Any AddProtocol conflict, or a registry-wide inconsistency, surfaces here
// rather than at the first Dial or Listen call.
func (b *ServiceBuilder) Build() (*Service, error) {
	if b.err != nil {
		return nil, b.err
	}

	var svc *Service
	app := fx.New(
		fx.NopLogger,
		fx.Supply(b.reg),
		fx.Invoke(func(reg *registry.Registry) error {
			return reg.Validate()
		}),
		fx.Invoke(func() (err error) {
			svc, err = New(Options{
				Registry:       b.reg,
				LocalKey:       b.localKey,
				Clock:          b.clock,
				SessionTimeout: b.sessionTimeout,
				DialTimeout:    b.dialTimeout,
			})
			return err
		}),
	)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("service: build: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return nil, fmt.Errorf("service: build: %w", err)
	}
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()
	_ = app.Stop(stopCtx)

	if svc == nil {
		return nil, fmt.Errorf("service: build: fx graph did not produce a Service")
	}
	return svc, nil
}
