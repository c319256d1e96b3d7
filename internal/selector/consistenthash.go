// SPDX-License-Identifier: GPL-3.0-or-later

package selector

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/hippalus/umay/internal/backend"
)

// NewConsistentHash returns a [*ConsistentHash] with virtualNodes points on
// the ring per backend. A higher virtualNodes count distributes keys more
// evenly across backends at the cost of more work per Select; 100-200 is a
// reasonable default.
func NewConsistentHash(virtualNodes int) *ConsistentHash {
	if virtualNodes <= 0 {
		virtualNodes = 1
	}
	return &ConsistentHash{virtualNodes: virtualNodes}
}

// ConsistentHash maps a lookup key onto a hash ring built fresh from the
// given snapshot, so the same key routes to the same backend across calls
// as long as the backend set is unchanged, and only a fraction of keys
// remap when the backend set changes.
//
// Unlike a selector with internal mutable state, ConsistentHash rebuilds
// its ring on every Select from the snapshot it's given; the snapshot is
// already cheap to re-derive a ring from since discovery refreshes are
// infrequent relative to connection arrivals.
type ConsistentHash struct {
	virtualNodes int
}

var _ Selector = &ConsistentHash{}

type ringPoint struct {
	hash    uint64
	backend backend.Backend
}

// Select implements [Selector]. Without a key there is nothing to hash
// consistently against, so it reports no pick rather than silently hashing
// an empty string to an arbitrary backend.
func (s *ConsistentHash) Select(snap backend.Snapshot, key string) (backend.Backend, bool) {
	if snap.Empty() || key == "" {
		return backend.Backend{}, false
	}

	ring := make([]ringPoint, 0, snap.Len()*s.virtualNodes)
	for _, b := range snap.Backends() {
		for v := 0; v < s.virtualNodes; v++ {
			ring = append(ring, ringPoint{
				hash:    hashString(strconv.FormatUint(b.HashKey(), 10) + "#" + strconv.Itoa(v)),
				backend: b,
			})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	target := hashString(key)
	i := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= target })
	if i == len(ring) {
		i = 0
	}
	return ring[i].backend, true
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
