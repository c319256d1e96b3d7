// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery resolves the set of upstream backends for a load
// balancer to dial, either by periodic DNS lookup or from a fixed,
// runtime-mutable list.
package discovery

import (
	"context"
	"errors"

	"github.com/hippalus/umay/internal/backend"
)

// ErrDiscovery is the sentinel wrapped by every error a [Source] returns.
var ErrDiscovery = errors.New("discovery: backend discovery failed")

// Source discovers the current set of backends for an upstream.
//
// Implementations must be safe for concurrent use: [*registry.Registry]
// calls Discover from a periodic refresh loop while selectors concurrently
// read the previously published [backend.Snapshot].
type Source interface {
	Discover(ctx context.Context) (backend.Snapshot, error)
}

// SourceFunc adapts a function to the [Source] interface.
type SourceFunc func(ctx context.Context) (backend.Snapshot, error)

var _ Source = SourceFunc(nil)

// Discover implements [Source].
func (f SourceFunc) Discover(ctx context.Context) (backend.Snapshot, error) {
	return f(ctx)
}
