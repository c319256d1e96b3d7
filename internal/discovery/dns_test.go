// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hippalus/umay/internal/netx"
)

// funcResolver adapts a function to [Resolver] for testing.
type funcResolver func(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error)

func (f funcResolver) Exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	return f(ctx, m, server)
}

// Discover merges A and AAAA answers into one snapshot, weight 1 each.
func TestDNSDiscover(t *testing.T) {
	d := &DNS{
		Hostname:     "backend.internal",
		Port:         9000,
		ResolverAddr: "127.0.0.1:53",
		Logger:       netx.DefaultSLogger(),
		Resolver: funcResolver(func(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
			resp := new(dns.Msg)
			resp.SetReply(m)
			q := m.Question[0]
			switch q.Qtype {
			case dns.TypeA:
				rr, err := dns.NewRR("backend.internal. 300 IN A 10.0.0.1")
				require.NoError(t, err)
				resp.Answer = append(resp.Answer, rr)
			case dns.TypeAAAA:
				// no AAAA records
			}
			return resp, nil
		}),
	}

	snap, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, uint32(1), snap.At(0).Weight)
	assert.Equal(t, net.ParseIP("10.0.0.1").String(), snap.At(0).Addr.Addr().String())
}

// Discover returns an error when resolution yields no addresses.
func TestDNSDiscoverNoAddresses(t *testing.T) {
	d := &DNS{
		Hostname:     "empty.internal",
		Port:         9000,
		ResolverAddr: "127.0.0.1:53",
		Logger:       netx.DefaultSLogger(),
		Resolver: funcResolver(func(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
			resp := new(dns.Msg)
			resp.SetReply(m)
			return resp, nil
		}),
	}

	_, err := d.Discover(context.Background())
	require.Error(t, err)
}

// Discover propagates a non-success rcode as an error.
func TestDNSDiscoverRcodeError(t *testing.T) {
	d := &DNS{
		Hostname:     "nxdomain.internal",
		Port:         9000,
		ResolverAddr: "127.0.0.1:53",
		Logger:       netx.DefaultSLogger(),
		Resolver: funcResolver(func(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
			resp := new(dns.Msg)
			resp.SetReply(m)
			resp.Rcode = dns.RcodeNameError
			return resp, nil
		}),
	}

	_, err := d.Discover(context.Background())
	require.Error(t, err)
}
