// SPDX-License-Identifier: GPL-3.0-or-later

package balancer

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hippalus/umay/internal/discovery"
	"github.com/hippalus/umay/internal/netx"
	"github.com/hippalus/umay/internal/registry"
	"github.com/hippalus/umay/internal/selector"
)

func mustAddrPort(s string) netip.AddrPort {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return ap
}

// Select returns ErrNoBackendsAvailable when the registry has no backends.
func TestSelectNoBackendsAvailable(t *testing.T) {
	reg := registry.New(discovery.NewStatic(nil), netx.DefaultSLogger())
	lb := New(reg, &selector.RoundRobin{})

	_, err := lb.Select("")
	assert.ErrorIs(t, err, ErrNoBackendsAvailable)
}

// Select delegates to the configured selector once the registry is populated.
func TestSelectDelegatesToSelector(t *testing.T) {
	addr := mustAddrPort("10.0.0.1:9000")
	static := discovery.NewStatic([]netip.AddrPort{addr})
	reg := registry.New(static, netx.DefaultSLogger())
	require.NoError(t, reg.Refresh(context.Background()))

	lb := New(reg, &selector.RoundRobin{})

	picked, err := lb.Select("")
	require.NoError(t, err)
	assert.Equal(t, addr, picked.Addr)
}

// Selector returns the underlying selector so callers can reach
// LeastConnections-specific lifecycle hooks.
func TestSelectorAccessor(t *testing.T) {
	lc := selector.NewLeastConnections()
	reg := registry.New(discovery.NewStatic(nil), netx.DefaultSLogger())
	lb := New(reg, lc)

	got, ok := lb.Selector().(*selector.LeastConnections)
	require.True(t, ok)
	assert.Same(t, lc, got)
}

// Registry returns the underlying registry so the supervisor can start its
// refresh task.
func TestRegistryAccessor(t *testing.T) {
	reg := registry.New(discovery.NewStatic(nil), netx.DefaultSLogger())
	lb := New(reg, &selector.RoundRobin{})
	assert.Same(t, reg, lb.Registry())
}
