package hedge

import (
	"context"
	"fmt"
	"sync"
)

// KeyFunc derives the memoization key a Mapping resolves a Config for. It must not return an empty key.
type KeyFunc[Req any] func(ctx context.Context, req Req) (string, error)

// ConfigFactory builds the Config for a derived key. Once a key's Config is published it is not invoked again for
// that key; concurrent first-callers for the same key may each invoke it, but only one factory result is published
// and returned to all of them.
type ConfigFactory[R any] func(key string) (*Config[R], error)

// Mapping resolves a Config per request (spec §3 "Mapping", §4.2). Get never returns a nil Config on a nil error.
type Mapping[Req any, R any] interface {
	Get(ctx context.Context, req Req) (*Config[R], error)
}

// NewSingletonMapping returns a Mapping that always resolves to the same Config, for callers that don't need
// per-request-class policies.
func NewSingletonMapping[Req any, R any](config *Config[R]) Mapping[Req, R] {
	return singletonMapping[Req, R]{config: config}
}

type singletonMapping[Req any, R any] struct {
	config *Config[R]
}

func (m singletonMapping[Req, R]) Get(context.Context, Req) (*Config[R], error) {
	return m.config, nil
}

// NewMapping returns a Mapping that derives a key from each request via keyFunc, and memoizes the ConfigFactory's
// result per key in a sync.Map. The factory runs again only while no entry exists for the key, so concurrent
// first callers can each run it; sync.Map.LoadOrStore publishes exactly one of their results.
func NewMapping[Req any, R any](keyFunc KeyFunc[Req], factory ConfigFactory[R]) Mapping[Req, R] {
	return &keyedMapping[Req, R]{keyFunc: keyFunc, factory: factory}
}

type keyedMapping[Req any, R any] struct {
	keyFunc KeyFunc[Req]
	factory ConfigFactory[R]
	cache   sync.Map // string -> *Config[R]
}

func (m *keyedMapping[Req, R]) Get(ctx context.Context, req Req) (*Config[R], error) {
	key, err := m.keyFunc(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving mapping key: %v", ErrConfigFactoryFailure, err)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: mapping key func returned an empty key", ErrConfigFactoryFailure)
	}

	if cached, ok := m.cache.Load(key); ok {
		return cached.(*Config[R]), nil
	}

	cfg, err := m.factory(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFactoryFailure, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: factory returned a nil Config for key %q", ErrConfigFactoryFailure, key)
	}

	actual, _ := m.cache.LoadOrStore(key, cfg)
	return actual.(*Config[R]), nil
}
