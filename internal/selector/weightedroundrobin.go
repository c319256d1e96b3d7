// SPDX-License-Identifier: GPL-3.0-or-later

package selector

import (
	"sync/atomic"

	"github.com/hippalus/umay/internal/backend"
)

// WeightedRoundRobin cycles through the snapshot's backends proportionally
// to their weight: a backend with weight 2 is selected twice as often as
// one with weight 1.
//
// The zero value is ready to use.
type WeightedRoundRobin struct {
	index atomic.Uint64
}

var _ Selector = &WeightedRoundRobin{}

// Select implements [Selector].
func (s *WeightedRoundRobin) Select(snap backend.Snapshot, key string) (backend.Backend, bool) {
	var totalWeight uint64
	for _, b := range snap.Backends() {
		totalWeight += uint64(b.Weight)
	}
	if totalWeight == 0 {
		return backend.Backend{}, false
	}

	pos := s.index.Add(1) - 1
	remaining := pos % totalWeight
	for _, b := range snap.Backends() {
		if remaining < uint64(b.Weight) {
			return b, true
		}
		remaining -= uint64(b.Weight)
	}
	return backend.Backend{}, false
}
