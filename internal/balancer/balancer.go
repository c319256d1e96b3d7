// SPDX-License-Identifier: GPL-3.0-or-later

// Package balancer composes a [registry.Registry] with a [selector.Selector]
// into a single load-balancing decision point for a stream proxy.
package balancer

import (
	"errors"

	"github.com/hippalus/umay/internal/backend"
	"github.com/hippalus/umay/internal/registry"
	"github.com/hippalus/umay/internal/selector"
)

// ErrNoBackendsAvailable is returned by [*LoadBalancer.Select] when the
// registry's current snapshot is empty or the selector otherwise declines
// to return a backend.
var ErrNoBackendsAvailable = errors.New("balancer: no backends available")

// New returns a [*LoadBalancer] pairing reg with sel.
func New(reg *registry.Registry, sel selector.Selector) *LoadBalancer {
	return &LoadBalancer{registry: reg, selector: sel}
}

// LoadBalancer is the composition of a backend registry's current snapshot
// with a selector's policy. It holds no state of its own beyond these two
// references, which is what makes a proxy cheap to clone per connection:
// every clone shares the same registry and selector.
type LoadBalancer struct {
	registry *registry.Registry
	selector selector.Selector
}

// Select returns the backend the configured selector picks out of the
// registry's current snapshot for key. key is the selector-specific
// routing hint (e.g. a client IP for [selector.ConsistentHash]); selectors
// that ignore it accept an empty string.
//
// ErrNoBackendsAvailable is returned when the current snapshot is empty or
// the selector otherwise returns no backend.
func (b *LoadBalancer) Select(key string) (backend.Backend, error) {
	snap := b.registry.Current()
	picked, ok := b.selector.Select(snap, key)
	if !ok {
		return backend.Backend{}, ErrNoBackendsAvailable
	}
	return picked, nil
}

// Registry returns the underlying [*registry.Registry], so callers (e.g.
// the supervisor) can start its refresh task.
func (b *LoadBalancer) Registry() *registry.Registry {
	return b.registry
}

// Selector returns the underlying [selector.Selector]. The stream proxy
// uses this to type-assert for [*selector.LeastConnections] so it can call
// Increment/Decrement at connection commit/teardown; other selector kinds
// need no such lifecycle hook.
func (b *LoadBalancer) Selector() selector.Selector {
	return b.selector
}
