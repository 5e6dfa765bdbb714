// Package provider wires named provider configurations into a pool of
// constructed clients, with capability-aware model selection.
package provider

import (
	"fmt"
	"sync"

	oasis "github.com/nevindra/aicode"
	"github.com/nevindra/aicode/provider/resolve"
)

// NamedConfig pairs a pool-local name with the resolve.Config used to
// construct its client, plus the declared model name the capability
// Registry looks entries up by.
type NamedConfig struct {
	Name    string
	Model   string
	Config  resolve.Config
	Default bool
}

// Pool holds every admitted client from a set of named configurations.
// A config is admitted only if resolve.Provider can construct a client for
// it; unusable entries are skipped rather than failing Pool construction.
// Exactly one admitted client is the default; use(name) swaps current.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]oasis.Provider
	models  map[string]string // name -> declared model, for capability lookups
	order   []string
	def     string
	current string
}

// NewPool constructs a client for every usable entry in cfgs. The first
// entry marked Default becomes the pool's default and starting current
// client; if none is marked, the first usable entry does instead.
func NewPool(cfgs []NamedConfig) (*Pool, error) {
	p := &Pool{
		clients: make(map[string]oasis.Provider),
		models:  make(map[string]string),
	}
	defMarked := false
	for _, nc := range cfgs {
		client, err := resolve.Provider(nc.Config)
		if err != nil {
			continue // not usable; skip rather than fail the whole pool
		}
		p.clients[nc.Name] = client
		p.models[nc.Name] = nc.Model
		p.order = append(p.order, nc.Name)
		if (nc.Default && !defMarked) || p.def == "" {
			p.def = nc.Name
			defMarked = nc.Default
		}
	}
	if len(p.clients) == 0 {
		return nil, fmt.Errorf("provider: no usable client among %d configured", len(cfgs))
	}
	p.current = p.def
	return p, nil
}

// Use swaps the current client to name. Returns an error if name was never
// admitted into the pool (not configured, or failed to resolve at
// construction time).
func (p *Pool) Use(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[name]; !ok {
		return fmt.Errorf("provider: unknown or unusable client %q", name)
	}
	p.current = name
	return nil
}

// Current returns the active Provider.
func (p *Pool) Current() oasis.Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[p.current]
}

// CurrentName returns the pool-local name of the active Provider.
func (p *Pool) CurrentName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// CurrentModel returns the declared model name of the active Provider, for
// Registry.HasCapability lookups.
func (p *Pool) CurrentModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.models[p.current]
}

// Default returns the pool's default Provider.
func (p *Pool) Default() oasis.Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[p.def]
}

// List returns the names of every admitted client, in configuration order.
func (p *Pool) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}
