// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/hippalus/umay/internal/backend"
	"github.com/hippalus/umay/internal/netx"
)

// Resolver abstracts DNS A/AAAA resolution for testing.
type Resolver interface {
	Exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error)
}

// ClientResolver adapts a [*dns.Client] to [Resolver].
type ClientResolver struct {
	Client *dns.Client
}

var _ Resolver = ClientResolver{}

// Exchange implements [Resolver].
func (r ClientResolver) Exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	in, _, err := r.Client.ExchangeContext(ctx, m, server)
	return in, err
}

// NewDNS returns a new [*DNS] resolving hostname to backends listening on
// port, querying resolverAddr (host:port of a recursive resolver).
//
// hostname is resolved for both A and AAAA records; every returned address
// becomes a [backend.Backend] with weight 1, mirroring a DNS-based upstream
// where every instance behind the name is presumed equally weighted.
func NewDNS(hostname, resolverAddr string, port uint16, logger netx.SLogger) *DNS {
	return &DNS{
		Hostname:     hostname,
		Port:         port,
		Resolver:     ClientResolver{Client: &dns.Client{}},
		ResolverAddr: resolverAddr,
		Logger:       logger,
	}
}

// DNS discovers backends by resolving a single hostname to its A/AAAA
// records and pairing each address with a fixed port.
//
// An upstream configured with multiple server entries under DNS discovery
// uses only the first entry as the resolution target: this mirrors a
// known, documented quirk of the system this proxy replaces, where the
// hostname/port pair fed to the resolver comes from a single-target
// constructor regardless of how many server entries were configured. It
// is preserved here rather than silently generalized to a multi-hostname
// union, since operators may already depend on the narrower behavior.
type DNS struct {
	// Hostname is the single name to resolve.
	Hostname string

	// Port is paired with every resolved address.
	Port uint16

	// Resolver performs the DNS exchange. Defaults to a [ClientResolver].
	Resolver Resolver

	// ResolverAddr is the host:port of the recursive resolver to query.
	ResolverAddr string

	// Logger is the [netx.SLogger] to use for structured logging.
	Logger netx.SLogger
}

var _ Source = &DNS{}

// Discover implements [Source] by issuing A and AAAA queries for Hostname
// and merging the results into one [backend.Snapshot].
func (d *DNS) Discover(ctx context.Context) (backend.Snapshot, error) {
	t0 := time.Now()
	var backends []backend.Backend

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := d.lookup(ctx, qtype)
		if err != nil {
			d.logDiscoverDone(t0, 0, err)
			return backend.Snapshot{}, fmt.Errorf("%w: resolve %s: %v", ErrDiscovery, d.Hostname, err)
		}
		for _, addr := range addrs {
			backends = append(backends, backend.Backend{
				Addr:   netip.AddrPortFrom(addr, d.Port),
				Weight: 1,
			})
		}
	}

	if len(backends) == 0 {
		err := fmt.Errorf("%w: %s resolved to no addresses", ErrDiscovery, d.Hostname)
		d.logDiscoverDone(t0, 0, err)
		return backend.Snapshot{}, err
	}

	snap := backend.NewSnapshot(backends)
	d.logDiscoverDone(t0, snap.Len(), nil)
	return snap, nil
}

func (d *DNS) lookup(ctx context.Context, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(d.Hostname), qtype)
	m.RecursionDesired = true

	in, err := d.Resolver.Exchange(ctx, m, d.ResolverAddr)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("discovery: %s answered with rcode %s", d.Hostname, dns.RcodeToString[in.Rcode])
	}

	var out []netip.Addr
	for _, rr := range in.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rec.A.To4()); ok {
				out = append(out, addr)
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
				out = append(out, addr)
			}
		}
	}
	return out, nil
}

func (d *DNS) logDiscoverDone(t0 time.Time, count int, err error) {
	d.Logger.Info(
		"discoveryDone",
		slog.String("hostname", d.Hostname),
		slog.Int("backendCount", count),
		slog.Any("err", err),
		slog.Time("t0", t0),
		slog.Time("t", time.Now()),
	)
}
