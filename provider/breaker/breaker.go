// Package breaker wraps another provider with a circuit breaker. When the
// cache backend is down, every operation would otherwise eat a full timeout
// before the engine falls back to the backing store; an open breaker turns
// that into an immediate error the engine swallows.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	pr "github.com/unkn0wn-root/ddbcache/provider"
)

type Provider struct {
	inner pr.Provider
	cb    *gobreaker.CircuitBreaker
}

var (
	_ pr.Provider    = (*Provider)(nil)
	_ pr.MultiGetter = (*Provider)(nil)
)

type Config struct {
	// Name identifies the breaker in OnStateChange callbacks. Default "ddbcache".
	Name string
	// MaxRequests allowed through while half-open. Default 1.
	MaxRequests uint32
	// Interval resets the closed-state counters. Default 60s.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing. Default 30s.
	Timeout time.Duration
	// FailureThreshold trips the breaker once the failure ratio reaches it.
	// Default 0.5.
	FailureThreshold float64
	// MinRequests is the minimum number of observations before the ratio is
	// considered. Default 10.
	MinRequests uint32
	// OnStateChange is invoked on breaker transitions. Optional.
	OnStateChange func(name string, from, to gobreaker.State)
}

func New(inner pr.Provider, cfg Config) *Provider {
	name := cfg.Name
	if name == "" {
		name = "ddbcache"
	}
	maxReq := cfg.MaxRequests
	if maxReq == 0 {
		maxReq = 1
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	minReq := cfg.MinRequests
	if minReq == 0 {
		minReq = 10
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxReq,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			ratio := float64(c.TotalFailures) / float64(c.Requests)
			return c.Requests >= minReq && ratio >= threshold
		},
		OnStateChange: cfg.OnStateChange,
	})
	return &Provider{inner: inner, cb: cb}
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type res struct {
		b  []byte
		ok bool
	}
	v, err := p.cb.Execute(func() (any, error) {
		b, ok, err := p.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return res{b: b, ok: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(res)
	return r.b, r.ok, nil
}

// GetMulti runs the whole batch as one probe: a dead backend costs one
// failure, not one per key. Inners without a native multi-get are read key
// by key inside the same execution.
func (p *Provider) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	v, err := p.cb.Execute(func() (any, error) {
		if mg, ok := p.inner.(pr.MultiGetter); ok {
			return mg.GetMulti(ctx, keys)
		}
		out := make(map[string][]byte, len(keys))
		for _, k := range keys {
			b, ok, err := p.inner.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			if ok {
				out[k] = b
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string][]byte), nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	v, err := p.cb.Execute(func() (any, error) {
		ok, err := p.inner.Set(ctx, key, value, ttl)
		if err != nil {
			return false, err
		}
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.inner.Del(ctx, key)
	})
	return err
}

// Close always reaches the inner provider, open breaker or not.
func (p *Provider) Close(ctx context.Context) error {
	return p.inner.Close(ctx)
}

// State exposes the breaker state to the application (not part of the
// provider contract).
func (p *Provider) State() gobreaker.State { return p.cb.State() }
