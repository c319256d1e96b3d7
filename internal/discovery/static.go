// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"context"
	"net/netip"
	"sync/atomic"

	"github.com/hippalus/umay/internal/backend"
)

// NewStatic returns a new [*Static] seeded with the given addresses, each
// given weight 1.
func NewStatic(addrs []netip.AddrPort) *Static {
	s := &Static{}
	s.Set(addrs)
	return s
}

// Static is a [Source] backed by a fixed, runtime-mutable backend list.
//
// Mutations (Add, Remove, Set, Clear) follow a read-copy-update pattern:
// the current [backend.Snapshot] is copied, modified, and atomically
// swapped in, so [Discover] never blocks on a mutation in progress and
// never observes a partially-updated set.
type Static struct {
	snapshot atomic.Pointer[backend.Snapshot]
}

var _ Source = &Static{}

// Discover implements [Source] by returning the current snapshot.
func (s *Static) Discover(ctx context.Context) (backend.Snapshot, error) {
	return s.current(), nil
}

// Add inserts a backend at addr with weight 1, replacing any existing
// backend at the same address.
func (s *Static) Add(addr netip.AddrPort) {
	s.rcu(func(backends []backend.Backend) []backend.Backend {
		return append(backends, backend.Backend{Addr: addr, Weight: 1})
	})
}

// Remove deletes any backend at addr.
func (s *Static) Remove(addr netip.AddrPort) {
	s.rcu(func(backends []backend.Backend) []backend.Backend {
		out := backends[:0:0]
		for _, b := range backends {
			if b.Addr != addr {
				out = append(out, b)
			}
		}
		return out
	})
}

// Set replaces the entire backend list with addrs, each given weight 1.
func (s *Static) Set(addrs []netip.AddrPort) {
	backends := make([]backend.Backend, 0, len(addrs))
	for _, addr := range addrs {
		backends = append(backends, backend.Backend{Addr: addr, Weight: 1})
	}
	snap := backend.NewSnapshot(backends)
	s.snapshot.Store(&snap)
}

// Clear removes every backend.
func (s *Static) Clear() {
	empty := backend.NewSnapshot(nil)
	s.snapshot.Store(&empty)
}

func (s *Static) current() backend.Snapshot {
	p := s.snapshot.Load()
	if p == nil {
		return backend.Snapshot{}
	}
	return *p
}

// rcu applies mutate to the current backend list and publishes the result,
// retrying if a concurrent writer raced it, mirroring arc_swap's rcu.
func (s *Static) rcu(mutate func([]backend.Backend) []backend.Backend) {
	for {
		before := s.snapshot.Load()
		current := s.current()
		updated := mutate(current.Backends())
		snap := backend.NewSnapshot(updated)
		if s.snapshot.CompareAndSwap(before, &snap) {
			return
		}
	}
}
