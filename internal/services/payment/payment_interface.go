package payment

import (
	"context"
	"fmt"

	"tanker-booking/internal/status"
)

// Provider represents different mobile-money providers
type Provider string

const (
	ProviderDaraja Provider = "daraja" // Safaricom M-Pesa
	ProviderTigo   Provider = "tigo"
	ProviderAirtel Provider = "airtel"
)

// ProviderInterface defines the common interface for mobile-money payment
// providers. A provider receives the outbound payment initiation and reports
// results back either through the HTTPS callback (verified with
// VerifyCallback) or, in sandbox mode, through the result channel.
type ProviderInterface interface {
	// GetProvider returns the provider type
	GetProvider() Provider

	// InitiateSTKPush asks the provider to prompt the customer's phone for
	// the given amount, tagged with the attempt's idempotency key.
	InitiateSTKPush(ctx context.Context, req *status.STKPushRequest) (*status.STKPushResponse, error)

	// VerifyCallback checks the authenticity of an inbound callback body
	// against its signature header.
	VerifyCallback(body []byte, signature string) bool

	// ParseCallback maps a raw callback body onto the domain result. ref is
	// the idempotency key carried on the callback URL.
	ParseCallback(body []byte, ref string) (*status.ProviderResult, error)

	// SetResultChannel sets the channel for receiving asynchronous payment
	// results from the sandbox feed.
	SetResultChannel(ch chan *status.ProviderResult)

	// Close gracefully closes any connections
	Close(ctx context.Context) error
}

// Registry manages the configured provider instances. Only M-Pesa ships
// today; the registry keeps the wiring point for additional carriers.
type Registry struct {
	providers map[Provider]ProviderInterface
	primary   Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Provider]ProviderInterface),
	}
}

// Register adds a provider instance. The first registered provider becomes
// the primary.
func (r *Registry) Register(p ProviderInterface) {
	r.providers[p.GetProvider()] = p

	if r.primary == "" {
		r.primary = p.GetProvider()
	}
}

func (r *Registry) Get(provider Provider) (ProviderInterface, error) {
	p, exists := r.providers[provider]
	if !exists {
		return nil, fmt.Errorf("payment provider %s not registered", provider)
	}
	return p, nil
}

// Primary returns the primary provider instance.
func (r *Registry) Primary() (ProviderInterface, error) {
	if r.primary == "" {
		return nil, fmt.Errorf("no payment provider configured")
	}
	return r.Get(r.primary)
}

// Close gracefully closes all provider connections.
func (r *Registry) Close(ctx context.Context) error {
	for provider, p := range r.providers {
		if err := p.Close(ctx); err != nil {
			return fmt.Errorf("closing %s provider: %w", provider, err)
		}
	}
	return nil
}
