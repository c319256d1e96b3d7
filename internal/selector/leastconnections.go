// SPDX-License-Identifier: GPL-3.0-or-later

package selector

import (
	"net/netip"
	"sync/atomic"

	"github.com/hippalus/umay/internal/backend"
)

// NewLeastConnections returns a ready-to-use [*LeastConnections].
func NewLeastConnections() *LeastConnections {
	lc := &LeastConnections{}
	empty := map[netip.AddrPort]int64{}
	lc.counts.Store(&empty)
	return lc
}

// LeastConnections picks the backend with the fewest connections currently
// attributed to it by [*LeastConnections.Increment] /
// [*LeastConnections.Decrement].
//
// The stream proxy calls Increment when a backend is selected and commits
// to dialing it, and Decrement once that connection's proxying finishes
// (success or failure) — the count tracks connections actually in flight,
// not merely selected.
type LeastConnections struct {
	counts atomic.Pointer[map[netip.AddrPort]int64]
}

var _ Selector = &LeastConnections{}

// Select implements [Selector].
func (s *LeastConnections) Select(snap backend.Snapshot, key string) (backend.Backend, bool) {
	if snap.Empty() {
		return backend.Backend{}, false
	}
	counts := *s.counts.Load()

	best := snap.At(0)
	bestCount := counts[best.Addr]
	for _, b := range snap.Backends()[1:] {
		if c := counts[b.Addr]; c < bestCount {
			best, bestCount = b, c
		}
	}
	return best, true
}

// Increment records a new in-flight connection to addr.
func (s *LeastConnections) Increment(addr netip.AddrPort) {
	s.rcu(addr, 1)
}

// Decrement records that an in-flight connection to addr has ended. Counts
// never go negative.
func (s *LeastConnections) Decrement(addr netip.AddrPort) {
	s.rcu(addr, -1)
}

func (s *LeastConnections) rcu(addr netip.AddrPort, delta int64) {
	for {
		before := s.counts.Load()
		updated := make(map[netip.AddrPort]int64, len(*before)+1)
		for k, v := range *before {
			updated[k] = v
		}
		next := updated[addr] + delta
		if next < 0 {
			next = 0
		}
		updated[addr] = next
		if s.counts.CompareAndSwap(before, &updated) {
			return
		}
	}
}
