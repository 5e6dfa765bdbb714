package provider

import (
	"context"
	"fmt"

	oasis "github.com/nevindra/aicode"
)

// CapabilityGuard wraps a Provider, rejecting chat requests whose message
// content the current model declares no overlapping capability for. A
// rejection surfaces as an ordinary error — matching the failure policy
// that any single request either yields a response or an error, never a
// panic — so the Step loop treats it exactly like a provider-side failure.
type CapabilityGuard struct {
	inner oasis.Provider
	reg   *Registry
	model string
}

// NewCapabilityGuard wraps inner, checking requests against reg using
// model's declared capabilities.
func NewCapabilityGuard(inner oasis.Provider, reg *Registry, model string) *CapabilityGuard {
	return &CapabilityGuard{inner: inner, reg: reg, model: model}
}

func (g *CapabilityGuard) Name() string { return g.inner.Name() }

func (g *CapabilityGuard) Chat(ctx context.Context, req oasis.ChatRequest) (oasis.ChatResponse, error) {
	if err := g.check(req); err != nil {
		return oasis.ChatResponse{}, err
	}
	return g.inner.Chat(ctx, req)
}

func (g *CapabilityGuard) ChatStream(ctx context.Context, req oasis.ChatRequest, ch chan<- oasis.StreamEvent) (oasis.ChatResponse, error) {
	if err := g.check(req); err != nil {
		close(ch)
		return oasis.ChatResponse{}, err
	}
	return g.inner.ChatStream(ctx, req, ch)
}

func (g *CapabilityGuard) check(req oasis.ChatRequest) error {
	if g.reg == nil {
		return nil
	}
	for _, cm := range req.Messages {
		if !g.reg.HasCapability(g.model, cm.Message) {
			return fmt.Errorf("provider: model %q has no declared capability for this message's content", g.model)
		}
	}
	return nil
}
