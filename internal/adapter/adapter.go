// Package adapter normalizes protocol-specific on-chain positions into the
// shared position model. One adapter per supported protocol; the registry
// routes requests by protocol id.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/defi-risk-monitor/internal/types"
)

// ProtocolAdapter fetches and normalizes one protocol's positions.
// Implementations must be safe for concurrent use: the aggregator fans out
// across adapters and chains.
type ProtocolAdapter interface {
	// Protocol returns the adapter's protocol id.
	Protocol() types.ProtocolID

	// SupportedChains lists the chains the adapter can serve.
	SupportedChains() []types.ChainID

	// Positions returns the owner's open positions on one chain. A missing
	// owner yields an empty slice, not an error.
	Positions(ctx context.Context, chain types.ChainID, owner string) ([]types.Position, error)

	// SupportsContract reports whether the given contract belongs to this
	// protocol's deployment on the chain.
	SupportsContract(ctx context.Context, chain types.ChainID, contract string) (bool, error)
}

// Error wraps a failure with the protocol and chain it occurred on, so the
// aggregator can attribute partial failures.
type Error struct {
	Protocol types.ProtocolID
	Chain    types.ChainID
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s %s: %v", e.Protocol, e.Chain, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(protocol types.ProtocolID, chain types.ChainID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Protocol: protocol, Chain: chain, Op: op, Err: err}
}

// Registry holds the active adapters keyed by protocol id
type Registry struct {
	mu       sync.RWMutex
	adapters map[types.ProtocolID]ProtocolAdapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[types.ProtocolID]ProtocolAdapter)}
}

// Register adds an adapter. Registering the same protocol twice is a
// programming error and is rejected.
func (r *Registry) Register(a ProtocolAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Protocol()]; exists {
		return fmt.Errorf("adapter for protocol %q already registered", a.Protocol())
	}
	r.adapters[a.Protocol()] = a
	return nil
}

// Get returns the adapter for a protocol
func (r *Registry) Get(protocol types.ProtocolID) (ProtocolAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[protocol]
	return a, ok
}

// All returns the registered adapters in stable protocol order
func (r *Registry) All() []ProtocolAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProtocolAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol() < out[j].Protocol() })
	return out
}
