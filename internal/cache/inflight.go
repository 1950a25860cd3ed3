package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/defi-risk-monitor/internal/logging"
)

// inflightCall tracks one in-flight fetch. The done channel is closed once
// value/err are set, releasing every waiter.
type inflightCall struct {
	done  chan struct{}
	value json.RawMessage
	err   error
}

// FetchFunc produces a fresh value on cache miss
type FetchFunc func(ctx context.Context) (interface{}, error)

// Loader wraps a Service with single-writer-on-miss discipline: concurrent
// misses for the same key share one fetch instead of duplicating work. The
// guarantee holds within one running instance only; multiple instances may
// still duplicate fetches, which is acceptable since fetches are idempotent.
type Loader struct {
	service *Service

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

// NewLoader creates a loader over the given cache service
func NewLoader(service *Service) *Loader {
	return &Loader{
		service:  service,
		inflight: make(map[string]*inflightCall),
	}
}

// GetOrFetch returns the cached value for key, or runs fetch exactly once per
// concurrent miss and caches the result. dest receives the JSON-decoded value.
func (l *Loader) GetOrFetch(ctx context.Context, keyType KeyType, key string, dest interface{}, fetch FetchFunc) error {
	found, err := l.service.Get(ctx, key, dest)
	if err != nil {
		return err
	}
	if found {
		l.cacheHits.Add(1)
		return nil
	}
	l.cacheMisses.Add(1)

	call, owner := l.getOrCreateInflight(key)

	if !owner {
		// Another goroutine is already fetching this key; wait for its result.
		select {
		case <-call.done:
			if call.err != nil {
				return call.err
			}
			return json.Unmarshal(call.value, dest)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	value, fetchErr := fetch(ctx)

	var raw json.RawMessage
	if fetchErr == nil {
		raw, fetchErr = json.Marshal(value)
	}
	if fetchErr == nil {
		// Cache write failures are non-fatal: the fetched value is still returned.
		if cacheErr := l.service.Set(ctx, keyType, key, value); cacheErr != nil {
			logging.FromContext(ctx).WithError(cacheErr).WithField("key", key).
				Warn("cache write failed, serving uncached value")
		}
	}

	l.completeInflight(key, call, raw, fetchErr)

	if fetchErr != nil {
		return fetchErr
	}
	return json.Unmarshal(raw, dest)
}

// getOrCreateInflight atomically checks for or creates an in-flight fetch.
// Returns the call and whether this caller owns the fetch.
func (l *Loader) getOrCreateInflight(key string) (*inflightCall, bool) {
	l.inflightMu.Lock()
	defer l.inflightMu.Unlock()

	if call, exists := l.inflight[key]; exists {
		return call, false
	}

	call := &inflightCall{done: make(chan struct{})}
	l.inflight[key] = call
	return call, true
}

// completeInflight publishes the result and releases all waiters
func (l *Loader) completeInflight(key string, call *inflightCall, value json.RawMessage, err error) {
	l.inflightMu.Lock()
	delete(l.inflight, key)
	l.inflightMu.Unlock()

	call.value = value
	call.err = err
	close(call.done)
}

// Stats returns hit/miss counters
func (l *Loader) Stats() (hits, misses int64) {
	return l.cacheHits.Load(), l.cacheMisses.Load()
}
