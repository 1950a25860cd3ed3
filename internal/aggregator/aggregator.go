// Package aggregator fans position fetches out across every registered
// protocol adapter and chain, tolerating partial failures: one slow or broken
// protocol must not hide the rest of a portfolio.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/defi-risk-monitor/internal/adapter"
	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/types"
)

// ErrNoPositions is returned when every adapter answered and none reported a
// position for the owner.
var ErrNoPositions = errors.New("no positions found for address")

// Result is one adapter/chain fetch outcome
type Result struct {
	Protocol  types.ProtocolID
	Chain     types.ChainID
	Positions []types.Position
	Err       error
}

// Aggregator collects positions across protocols concurrently
type Aggregator struct {
	registry       *adapter.Registry
	enabledChains  []types.ChainID
	maxConcurrent  int
	perFetchBudget time.Duration
	logger         *logging.Logger
}

// Option configures the aggregator
type Option func(*Aggregator)

// WithMaxConcurrent bounds the number of simultaneous adapter fetches
func WithMaxConcurrent(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxConcurrent = n
		}
	}
}

// WithFetchBudget bounds each adapter/chain fetch individually
func WithFetchBudget(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.perFetchBudget = d
		}
	}
}

// New creates an aggregator over the registered adapters
func New(registry *adapter.Registry, enabledChains []types.ChainID, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry:       registry,
		enabledChains:  enabledChains,
		maxConcurrent:  8,
		perFetchBudget: 30 * time.Second,
		logger:         logging.GetGlobalLogger().WithComponent("aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchAll collects the owner's positions from every adapter on every enabled
// chain. Adapter failures are isolated: failed protocol/chain pairs are
// reported in the summary, successful ones still contribute positions.
// ErrNoPositions is returned only when no adapter reported anything and at
// least one succeeded.
func (a *Aggregator) FetchAll(ctx context.Context, owner string) (*types.PortfolioSummary, error) {
	adapters := a.registry.All()
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no protocol adapters registered")
	}

	type task struct {
		adapter adapter.ProtocolAdapter
		chain   types.ChainID
	}
	var tasks []task
	for _, ad := range adapters {
		supported := ad.SupportedChains()
		for _, c := range a.enabledChains {
			if containsChain(supported, c) {
				tasks = append(tasks, task{adapter: ad, chain: c})
			}
		}
	}

	results := make([]Result, len(tasks))
	sem := make(chan struct{}, a.maxConcurrent)
	var wg sync.WaitGroup

	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, a.perFetchBudget)
			defer cancel()

			positions, err := t.adapter.Positions(fetchCtx, t.chain, owner)
			results[i] = Result{
				Protocol:  t.adapter.Protocol(),
				Chain:     t.chain,
				Positions: positions,
				Err:       err,
			}
		}(i, t)
	}
	wg.Wait()

	summary := &types.PortfolioSummary{
		Owner:     owner,
		FetchedAt: time.Now().UTC(),
	}

	succeeded := 0
	protocols := make(map[types.ProtocolID]bool)
	failed := make(map[string]bool)

	for _, res := range results {
		if res.Err != nil {
			key := fmt.Sprintf("%s/%s", res.Protocol, res.Chain)
			if !failed[key] {
				failed[key] = true
				summary.FailedProtocols = append(summary.FailedProtocols, key)
			}
			a.logger.WithError(res.Err).WithFields(map[string]interface{}{
				"protocol": res.Protocol,
				"chain":    res.Chain,
				"owner":    owner,
			}).Warn("adapter fetch failed, continuing with remaining protocols")
			continue
		}
		succeeded++
		for _, p := range res.Positions {
			summary.Positions = append(summary.Positions, p)
			summary.TotalValueUSD += p.ValueUSD()
			if pnl, ok := p.PnLUSD(); ok {
				summary.TotalPnLUSD += pnl
			} else {
				summary.PnLDegraded = append(summary.PnLDegraded, p.ID)
			}
			protocols[p.Protocol] = true
		}
	}
	sort.Strings(summary.FailedProtocols)
	sort.Strings(summary.PnLDegraded)
	summary.ProtocolCount = len(protocols)

	if succeeded == 0 {
		return nil, fmt.Errorf("all %d adapter fetches failed for %s", len(tasks), owner)
	}
	if len(summary.Positions) == 0 {
		return nil, ErrNoPositions
	}

	sort.Slice(summary.Positions, func(i, j int) bool {
		return summary.Positions[i].ID < summary.Positions[j].ID
	})
	return summary, nil
}

func containsChain(chains []types.ChainID, c types.ChainID) bool {
	for _, sc := range chains {
		if sc == c {
			return true
		}
	}
	return false
}
