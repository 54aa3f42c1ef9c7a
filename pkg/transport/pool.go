// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ledgerkey.
//
// go-ledgerkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package transport

import (
	"context"
	"fmt"
	"sync"
)

// Factory opens a binding of one kind.
type Factory func(ctx context.Context) (Transport, error)

// Pool shares one Device per transport kind, so every key talking to the
// same physical device goes through the same mutual-exclusion point.
type Pool struct {
	mu      sync.Mutex
	devices map[string]*Device
	opts    DeviceOptions
}

// NewPool creates an empty pool. opts is applied to every Device the pool
// creates; its Kind is overwritten per entry.
func NewPool(opts DeviceOptions) *Pool {
	return &Pool{
		devices: make(map[string]*Device),
		opts:    opts,
	}
}

// Get returns the Device for kind, opening it with factory on first use.
// A closed Device is replaced.
func (p *Pool) Get(ctx context.Context, kind string, factory Factory) (*Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.devices[kind]; ok && !d.closed.Load() {
		return d, nil
	}
	if factory == nil {
		return nil, Errorf(kind, ReasonConnectionUnavailable, "no factory for transport")
	}

	t, err := factory(ctx)
	if err != nil {
		if _, ok := ReasonOf(err); ok {
			return nil, err
		}
		return nil, NewError(kind, ReasonConnectionUnavailable, fmt.Errorf("open: %w", err))
	}

	opts := p.opts
	opts.Kind = kind
	d := NewDevice(t, opts)
	p.devices[kind] = d
	return d, nil
}

// Close closes every device in the pool and empties it.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for kind, d := range p.devices {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.devices, kind)
	}
	return firstErr
}
