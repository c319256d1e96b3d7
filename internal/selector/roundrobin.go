// SPDX-License-Identifier: GPL-3.0-or-later

package selector

import (
	"sync/atomic"

	"github.com/hippalus/umay/internal/backend"
)

// RoundRobin cycles through the snapshot's backends in order, ignoring weight.
//
// The zero value is ready to use.
type RoundRobin struct {
	index atomic.Uint64
}

var _ Selector = &RoundRobin{}

// Select implements [Selector].
func (s *RoundRobin) Select(snap backend.Snapshot, key string) (backend.Backend, bool) {
	if snap.Empty() {
		return backend.Backend{}, false
	}
	i := s.index.Add(1) - 1
	return snap.At(int(i % uint64(snap.Len()))), true
}
