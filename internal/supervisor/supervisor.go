// SPDX-License-Identifier: GPL-3.0-or-later

// Package supervisor binds every configured listener, wires each to its
// own terminator/registry/balancer/proxy, and owns the accept-loop and
// graceful-shutdown lifecycle for the whole process.
package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/hippalus/umay/internal/balancer"
	"github.com/hippalus/umay/internal/config"
	"github.com/hippalus/umay/internal/discovery"
	"github.com/hippalus/umay/internal/netx"
	"github.com/hippalus/umay/internal/registry"
	"github.com/hippalus/umay/internal/selector"
	"github.com/hippalus/umay/internal/streamproxy"
)

// ErrUnsupportedProtocol is returned when a listener names a protocol the
// stream proxy can't bridge.
var ErrUnsupportedProtocol = errors.New("supervisor: unsupported listener protocol")

// ErrBind is the sentinel wrapped when a configured listener fails to bind.
var ErrBind = errors.New("supervisor: failed to bind listener")

// DefaultRefreshInterval is the cadence at which every upstream's discovery
// source is re-polled.
const DefaultRefreshInterval = 30 * time.Second

// defaultResolverAddr is used for DNS-discovered upstreams, since the
// configuration document carries no resolver override today: a public
// recursive resolver keeps DNS discovery usable in minimal container
// environments that ship no local resolver.
const defaultResolverAddr = "1.1.1.1:53"

// New builds a [*Supervisor] for cfg's stream section without binding any
// sockets yet; call [*Supervisor.Run] to bind and serve. cfg.HTTP, if
// present, is accepted for shape by [config.Config.Validate] but produces
// no listener here: building one would return [config.ErrHTTPNotImplemented].
func New(cfg *config.Config, logger netx.SLogger) (*Supervisor, error) {
	if logger == nil {
		logger = netx.DefaultSLogger()
	}

	sup := &Supervisor{
		logger:              logger,
		closeTimeout:        cfg.CloseTimeoutDuration(),
		shutdownGracePeriod: cfg.ShutdownGracePeriodDuration(),
	}

	if cfg.Stream == nil {
		return sup, nil
	}

	for _, srv := range cfg.Stream.Servers {
		upstream, ok := cfg.Stream.Upstreams[srv.ProxyPass]
		if !ok {
			return nil, fmt.Errorf("%w: stream server %q references undeclared upstream %q", config.ErrConfig, srv.Name, srv.ProxyPass)
		}

		bl, err := buildListener(srv, upstream, logger)
		if err != nil {
			return nil, err
		}
		sup.pending = append(sup.pending, bl)
	}

	return sup, nil
}

// Supervisor owns every listener built from one [*config.Config] and drives
// their accept loops until its root context is cancelled.
type Supervisor struct {
	logger netx.SLogger

	closeTimeout        time.Duration
	shutdownGracePeriod time.Duration

	pending []*pendingListener
	bound   []*boundListener

	inFlight sync.WaitGroup
}

// pendingListener is one fully-wired listener before it has bound a socket.
type pendingListener struct {
	name     string
	port     uint16
	registry *registry.Registry
	proxy    *streamproxy.Proxy

	// tlsConfig is srv.TLS when TLS termination is enabled for this
	// listener, nil otherwise. serve uses it to start a credential watcher
	// that reloads proxy.Terminator on certificate/key rotation.
	tlsConfig *config.TLSConfig
}

// boundListener is a pendingListener after [net.Listen] has succeeded.
type boundListener struct {
	*pendingListener
	listener net.Listener
}

func buildListener(srv config.StreamServer, upstream config.Upstream, logger netx.SLogger) (*pendingListener, error) {
	protocol, err := resolveProtocol(srv.Listen.Protocol)
	if err != nil {
		return nil, fmt.Errorf("server %q: %w", srv.Name, err)
	}

	source, err := buildDiscoverySource(upstream, logger)
	if err != nil {
		return nil, fmt.Errorf("server %q: %w", srv.Name, err)
	}

	reg := registry.New(source, logger)
	sel := buildSelector(upstream.LoadBalancer)
	lb := balancer.New(reg, sel)

	var tlsConfig *tls.Config
	if srv.TLS != nil && srv.TLS.Enabled {
		tlsConfig, err = srv.TLS.BuildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", srv.Name, err)
		}
	}

	proxy := streamproxy.New(netx.NewConfig(), protocol, tlsConfig, lb, logger)

	pl := &pendingListener{
		name:     srv.Name,
		port:     srv.Listen.Port,
		registry: reg,
		proxy:    proxy,
	}
	if tlsConfig != nil {
		pl.tlsConfig = srv.TLS
	}
	return pl, nil
}

func resolveProtocol(p config.Protocol) (streamproxy.Protocol, error) {
	switch p {
	case config.ProtocolTCP:
		return streamproxy.ProtocolTCP, nil
	case config.ProtocolWS:
		return streamproxy.ProtocolWS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, p)
	}
}

func buildSelector(kind config.LoadBalancerKind) selector.Selector {
	switch kind {
	case config.LoadBalancerWeightedRoundRobin:
		return &selector.WeightedRoundRobin{}
	case config.LoadBalancerLeastConn:
		return selector.NewLeastConnections()
	case config.LoadBalancerRandom:
		return selector.Random{}
	case config.LoadBalancerIPHash:
		return selector.NewConsistentHash(100)
	default:
		return &selector.RoundRobin{}
	}
}

func buildDiscoverySource(upstream config.Upstream, logger netx.SLogger) (discovery.Source, error) {
	switch upstream.ServiceDiscovery {
	case config.ServiceDiscoveryDNS:
		first := upstream.Servers[0]
		if len(upstream.Servers) > 1 {
			logger.Info("dnsUpstreamUsesFirstEntryOnly",
				slog.String("hostname", first.Address),
				slog.Int("configuredEntries", len(upstream.Servers)))
		}
		return discovery.NewDNS(first.Address, defaultResolverAddr, first.Port, logger), nil
	case config.ServiceDiscoveryLocal:
		addrs, err := staticAddrs(upstream.Servers)
		if err != nil {
			return nil, err
		}
		return discovery.NewStatic(addrs), nil
	default:
		return nil, fmt.Errorf("%w: service discovery %q", config.ErrConfig, upstream.ServiceDiscovery)
	}
}

func staticAddrs(servers []config.UpstreamServer) ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(servers))
	for _, srv := range servers {
		addr, err := netip.ParseAddr(srv.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing static backend address %q: %v", config.ErrConfig, srv.Address, err)
		}
		out = append(out, netip.AddrPortFrom(addr, srv.Port))
	}
	return out, nil
}

// Run binds every configured listener and serves until ctx is done, then
// returns once every accept loop has stopped. It does not wait for
// in-flight connections; [*Supervisor.Shutdown] drains those.
func (sup *Supervisor) Run(ctx context.Context) error {
	for _, pl := range sup.pending {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", pl.port))
		if err != nil {
			sup.closeBound()
			return fmt.Errorf("%w: %q on port %d: %w", ErrBind, pl.name, pl.port, err)
		}
		sup.bound = append(sup.bound, &boundListener{pendingListener: pl, listener: lis})
	}
	sup.pending = nil

	var wg sync.WaitGroup
	for _, bl := range sup.bound {
		wg.Add(1)
		go func(bl *boundListener) {
			defer wg.Done()
			sup.serve(ctx, bl)
		}(bl)
	}

	wg.Wait()
	return nil
}

func (sup *Supervisor) serve(ctx context.Context, bl *boundListener) {
	stop := netx.WatchListenerClose(ctx, bl.listener)
	defer stop()

	// Populate the registry before accepting any connection: without this,
	// a connection accepted before the refresh goroutine below gets
	// scheduled would see Current's empty placeholder snapshot and fail
	// with "no backends available" even though healthy backends are
	// configured, since Run's own first refresh happens in a separate,
	// racing goroutine.
	if err := bl.registry.Refresh(ctx); err != nil {
		sup.logger.Info("listenerInitialRefreshFailed", slog.String("listener", bl.name), slog.Any("err", err))
	}

	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()
	go bl.registry.Run(refreshCtx, DefaultRefreshInterval)

	if bl.tlsConfig != nil {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		if err := config.WatchCredentials(watchCtx, bl.tlsConfig, sup.logger, bl.proxy.Terminator.Reload); err != nil {
			sup.logger.Info("listenerCredentialWatchFailed", slog.String("listener", bl.name), slog.Any("err", err))
		}
	}

	for {
		conn, err := bl.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sup.logger.Info("listenerAcceptFailed", slog.String("listener", bl.name), slog.Any("err", err))
			continue
		}

		sup.inFlight.Add(1)
		go func(conn net.Conn) {
			defer sup.inFlight.Done()
			defer conn.Close()
			_ = bl.proxy.HandleConnection(ctx, conn)
		}(conn)
	}
}

// Shutdown stops accepting new connections, closes every listener, and
// waits for in-flight connections to finish. It waits up to
// ShutdownGracePeriod, then up to CloseTimeout more, then returns
// regardless of whether connections are still outstanding: enforcing a
// hard upper bound on total shutdown time is the caller's responsibility
// (typically via ExitTimeout bounding the call to Shutdown itself).
func (sup *Supervisor) Shutdown(ctx context.Context) error {
	for _, bl := range sup.bound {
		bl.listener.Close()
	}

	drained := make(chan struct{})
	go func() {
		sup.inFlight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(sup.shutdownGracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-drained:
		return nil
	case <-time.After(sup.closeTimeout):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sup *Supervisor) closeBound() {
	for _, bl := range sup.bound {
		bl.listener.Close()
	}
}
