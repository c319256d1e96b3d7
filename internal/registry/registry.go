// SPDX-License-Identifier: GPL-3.0-or-later

// Package registry owns a discovery [discovery.Source] and publishes its
// most recent result as an immutable [backend.Snapshot] that selectors
// read without locking.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hippalus/umay/internal/backend"
	"github.com/hippalus/umay/internal/discovery"
	"github.com/hippalus/umay/internal/netx"
)

// New returns a new [*Registry] wrapping source. The registry starts with
// an empty snapshot until the first [*Registry.Refresh] or [*Registry.Run]
// tick succeeds.
func New(source discovery.Source, logger netx.SLogger) *Registry {
	r := &Registry{
		source: source,
		logger: logger,
	}
	empty := backend.NewSnapshot(nil)
	r.snapshot.Store(&empty)
	return r
}

// Registry holds the most recently discovered [backend.Snapshot] for one
// upstream, refreshed periodically by [*Registry.Run].
//
// Current is lock-free: it loads an [atomic.Pointer], so a selector never
// blocks behind a refresh in progress, and a refresh never blocks behind a
// selector holding a reference to the previous snapshot.
type Registry struct {
	source   discovery.Source
	logger   netx.SLogger
	snapshot atomic.Pointer[backend.Snapshot]
}

// Current returns the most recently published [backend.Snapshot].
func (r *Registry) Current() backend.Snapshot {
	return *r.snapshot.Load()
}

// Refresh runs one discovery round and publishes the result. An empty
// result counts as a failure wrapping [discovery.ErrDiscovery]. On error the
// previously published snapshot is left in place: a transient discovery
// failure (e.g. one failed DNS lookup) must not empty out a healthy
// backend list.
func (r *Registry) Refresh(ctx context.Context) error {
	t0 := time.Now()
	snap, err := r.source.Discover(ctx)
	if err == nil && snap.Empty() {
		err = fmt.Errorf("%w: discovery returned no backends", discovery.ErrDiscovery)
	}
	if err != nil {
		r.logRefreshDone(t0, r.Current().Len(), err)
		return err
	}
	r.snapshot.Store(&snap)
	r.logRefreshDone(t0, snap.Len(), nil)
	return nil
}

// Run refreshes the registry every interval until ctx is done. Refreshes
// never overlap: a refresh that runs longer than interval simply delays
// the next tick rather than starting a second one concurrently. The first
// refresh runs immediately rather than waiting for the first tick.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Info("registryRefreshFailed", slog.Any("err", err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Info("registryRefreshFailed", slog.Any("err", err))
			}
		}
	}
}

func (r *Registry) logRefreshDone(t0 time.Time, count int, err error) {
	r.logger.Info(
		"registryRefreshDone",
		slog.Int("backendCount", count),
		slog.Any("err", err),
		slog.Time("t0", t0),
		slog.Time("t", time.Now()),
	)
}
