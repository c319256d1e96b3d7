// SPDX-License-Identifier: GPL-3.0-or-later

package selector

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hippalus/umay/internal/backend"
)

func mustAddrPort(s string) netip.AddrPort {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return ap
}

func threeBackends() backend.Snapshot {
	return backend.NewSnapshot([]backend.Backend{
		{Addr: mustAddrPort("10.0.0.1:9000"), Weight: 1},
		{Addr: mustAddrPort("10.0.0.2:9000"), Weight: 2},
		{Addr: mustAddrPort("10.0.0.3:9000"), Weight: 3},
	})
}

// Select on an empty snapshot returns false for every selector.
func TestSelectOnEmptySnapshot(t *testing.T) {
	empty := backend.Snapshot{}
	selectors := []Selector{
		&RoundRobin{},
		&WeightedRoundRobin{},
		NewLeastConnections(),
		Random{},
		NewConsistentHash(100),
	}
	for _, s := range selectors {
		_, ok := s.Select(empty, "key")
		assert.False(t, ok)
	}
}

// RoundRobin cycles through every backend before repeating.
func TestRoundRobinCyclesThroughAll(t *testing.T) {
	snap := threeBackends()
	s := &RoundRobin{}

	seen := map[netip.AddrPort]int{}
	for i := 0; i < 6; i++ {
		b, ok := s.Select(snap, "")
		require.True(t, ok)
		seen[b.Addr]++
	}
	assert.Len(t, seen, 3)
	for _, count := range seen {
		assert.Equal(t, 2, count)
	}
}

// WeightedRoundRobin selects backends proportionally to weight.
func TestWeightedRoundRobinProportional(t *testing.T) {
	snap := threeBackends()
	s := &WeightedRoundRobin{}

	counts := map[netip.AddrPort]int{}
	for i := 0; i < 600; i++ {
		b, ok := s.Select(snap, "")
		require.True(t, ok)
		counts[b.Addr]++
	}
	assert.Equal(t, 100, counts[mustAddrPort("10.0.0.1:9000")])
	assert.Equal(t, 200, counts[mustAddrPort("10.0.0.2:9000")])
	assert.Equal(t, 300, counts[mustAddrPort("10.0.0.3:9000")])
}

// WeightedRoundRobin with all-zero weights returns false.
func TestWeightedRoundRobinAllZero(t *testing.T) {
	snap := backend.NewSnapshot([]backend.Backend{
		{Addr: mustAddrPort("10.0.0.1:9000"), Weight: 0},
	})
	s := &WeightedRoundRobin{}
	_, ok := s.Select(snap, "")
	assert.False(t, ok)
}

// LeastConnections prefers the backend with the fewest in-flight connections.
func TestLeastConnectionsPrefersFewest(t *testing.T) {
	snap := threeBackends()
	s := NewLeastConnections()

	s.Increment(mustAddrPort("10.0.0.1:9000"))
	s.Increment(mustAddrPort("10.0.0.1:9000"))
	s.Increment(mustAddrPort("10.0.0.2:9000"))

	b, ok := s.Select(snap, "")
	require.True(t, ok)
	assert.Equal(t, mustAddrPort("10.0.0.3:9000"), b.Addr)
}

// Decrement never drives a count below zero.
func TestLeastConnectionsDecrementFloorsAtZero(t *testing.T) {
	s := NewLeastConnections()
	addr := mustAddrPort("10.0.0.1:9000")

	s.Decrement(addr)
	s.Decrement(addr)
	s.Increment(addr)

	snap := backend.NewSnapshot([]backend.Backend{
		{Addr: addr, Weight: 1},
		{Addr: mustAddrPort("10.0.0.2:9000"), Weight: 1},
	})
	b, ok := s.Select(snap, "")
	require.True(t, ok)
	// The two decrements on an unseen addr clamp at 0 and the increment
	// then brings it to 1, so the untouched backend (count 0) must win.
	assert.Equal(t, mustAddrPort("10.0.0.2:9000"), b.Addr)
}

// Random always returns a backend present in the snapshot.
func TestRandomReturnsMember(t *testing.T) {
	snap := threeBackends()
	s := Random{}

	members := map[netip.AddrPort]bool{}
	for _, b := range snap.Backends() {
		members[b.Addr] = true
	}

	for i := 0; i < 20; i++ {
		b, ok := s.Select(snap, "")
		require.True(t, ok)
		assert.True(t, members[b.Addr])
	}
}

// ConsistentHash routes the same key to the same backend across calls.
func TestConsistentHashStableForKey(t *testing.T) {
	snap := threeBackends()
	s := NewConsistentHash(100)

	first, ok := s.Select(snap, "client-a")
	require.True(t, ok)

	for i := 0; i < 10; i++ {
		b, ok := s.Select(snap, "client-a")
		require.True(t, ok)
		assert.Equal(t, first.Addr, b.Addr)
	}
}

// ConsistentHash distributes different keys across more than one backend.
func TestConsistentHashDistributesKeys(t *testing.T) {
	snap := threeBackends()
	s := NewConsistentHash(100)

	seen := map[netip.AddrPort]bool{}
	for i := 0; i < 50; i++ {
		b, ok := s.Select(snap, "client-"+string(rune('a'+i)))
		require.True(t, ok)
		seen[b.Addr] = true
	}
	assert.Greater(t, len(seen), 1)
}

// ConsistentHash without a key returns no pick, even with a non-empty
// snapshot: there is nothing to hash consistently against.
func TestConsistentHashEmptyKeyReturnsFalse(t *testing.T) {
	snap := threeBackends()
	s := NewConsistentHash(100)

	_, ok := s.Select(snap, "")
	assert.False(t, ok)
}

// ConsistentHash only remaps a minority of keys when a backend is removed.
func TestConsistentHashMinimalRemappingOnRemoval(t *testing.T) {
	full := threeBackends()
	reduced := backend.NewSnapshot([]backend.Backend{
		{Addr: mustAddrPort("10.0.0.1:9000"), Weight: 1},
		{Addr: mustAddrPort("10.0.0.2:9000"), Weight: 2},
	})
	s := NewConsistentHash(100)

	keys := make([]string, 200)
	for i := range keys {
		keys[i] = "client-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
	}

	removed := mustAddrPort("10.0.0.3:9000")
	remapped := 0
	for _, k := range keys {
		before, ok := s.Select(full, k)
		require.True(t, ok)
		after, ok := s.Select(reduced, k)
		require.True(t, ok)
		if before.Addr != after.Addr {
			remapped++
			// Only keys that were mapped to the removed backend may remap.
			assert.Equal(t, removed, before.Addr, "key %q left a surviving backend", k)
		}
	}
	assert.Less(t, remapped, len(keys)/2)
}
