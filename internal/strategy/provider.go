package strategy

import (
	"context"

	"github.com/roach88/pantry/internal/upstream"
)

// Provider is one step of a fallback chain. It either yields a response or
// declines, letting the next provider try.
type Provider interface {
	Name() string
	Provide(ctx context.Context, req *upstream.Request) (*Response, bool)
}

type providerFunc struct {
	name string
	fn   func(ctx context.Context, req *upstream.Request) (*Response, bool)
}

func (p providerFunc) Name() string { return p.name }

func (p providerFunc) Provide(ctx context.Context, req *upstream.Request) (*Response, bool) {
	return p.fn(ctx, req)
}

// ProviderFunc adapts fn to a named Provider.
func ProviderFunc(name string, fn func(ctx context.Context, req *upstream.Request) (*Response, bool)) Provider {
	return providerFunc{name: name, fn: fn}
}

// Static returns a provider that always answers with a copy of resp.
func Static(name string, resp *Response) Provider {
	return ProviderFunc(name, func(context.Context, *upstream.Request) (*Response, bool) {
		cp := *resp
		cp.Header = resp.Header.Clone()
		return &cp, true
	})
}

// Chain evaluates providers in order.
type Chain []Provider

// Resolve returns the first provided response and the provider name. When
// every provider declines, it returns Unavailable.
func (c Chain) Resolve(ctx context.Context, req *upstream.Request) (*Response, string) {
	for _, p := range c {
		if resp, ok := p.Provide(ctx, req); ok {
			return resp, p.Name()
		}
	}
	return Unavailable("resource unavailable: network unreachable and no fresh cached copy"), "unavailable"
}
