// SPDX-License-Identifier: GPL-3.0-or-later

// Package streamproxy implements the per-listener request path: accept a
// client connection, terminate (or pass through) TLS, pick a backend, dial
// it, and bridge bytes between the two until either side closes.
package streamproxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/hippalus/umay/internal/balancer"
	"github.com/hippalus/umay/internal/netx"
	"github.com/hippalus/umay/internal/selector"
	"github.com/hippalus/umay/internal/tlsterm"
)

// Protocol names the upstream leg's wire protocol, taken from the
// listener's configuration.
type Protocol string

const (
	// ProtocolTCP bridges the client connection to the backend as raw TCP.
	ProtocolTCP Protocol = "tcp"

	// ProtocolWS bridges the client connection to the backend using
	// WebSocket framing on both legs.
	ProtocolWS Protocol = "ws"
)

// Default per-phase deadlines, applied because the source specification
// leaves these unenforced.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultDialTimeout      = 5 * time.Second
)

// ErrNoTLSConfig reports TLS termination requested without a TLS config.
// [New] does not return it: a nil tlsConfig there means TLS is disabled.
var ErrNoTLSConfig = errors.New("streamproxy: tls termination requires a tls config")

// ErrDial is the sentinel wrapped when dialing the selected backend fails.
var ErrDial = errors.New("streamproxy: dialing backend failed")

// ErrStream is the sentinel wrapped when bridging bytes between the client
// and the backend ends in an error (as opposed to the two sides simply
// closing the connection cleanly).
var ErrStream = errors.New("streamproxy: bridging connection failed")

// New returns a [*Proxy] for one listener. tlsConfig may be nil only when
// the listener has TLS disabled; in that case the proxy forwards raw bytes
// without ever sniffing or terminating TLS.
func New(
	cfg *netx.Config,
	protocol Protocol,
	tlsConfig *tls.Config,
	lb *balancer.LoadBalancer,
	logger netx.SLogger,
) *Proxy {
	p := &Proxy{
		Balancer:         lb,
		Connect:          netx.NewConnectFunc(cfg, "tcp", logger),
		DialTimeout:      DefaultDialTimeout,
		ErrClassifier:    cfg.ErrClassifier,
		HandshakeTimeout: DefaultHandshakeTimeout,
		Logger:           logger,
		ObserveConn:      netx.NewObserveConnFunc(cfg, logger),
		Protocol:         protocol,
		TimeNow:          cfg.TimeNow,
	}
	if tlsConfig != nil {
		p.Terminator = tlsterm.NewTerminator(cfg, tlsConfig, logger)
	}
	return p
}

// Proxy handles every connection accepted on one listener. It holds only
// shared references (terminator, balancer, dialer), so it is cheap to pass
// around: per-connection state lives entirely on the goroutine stack of
// [*Proxy.HandleConnection].
type Proxy struct {
	// Balancer selects the backend for each connection.
	Balancer *balancer.LoadBalancer

	// Connect dials the selected backend over plaintext TCP.
	Connect *netx.ConnectFunc

	// DialTimeout bounds how long dialing the backend may take.
	DialTimeout time.Duration

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier netx.ErrClassifier

	// HandshakeTimeout bounds how long the TLS handshake may take. Ignored
	// when Terminator is nil.
	HandshakeTimeout time.Duration

	// Logger is the [netx.SLogger] to use.
	Logger netx.SLogger

	// ObserveConn wraps the upstream connection so every read and write on
	// the backend leg emits a structured log event at [slog.LevelDebug] and
	// its close emits closeStart/closeDone at [slog.LevelInfo], independent
	// of the terminal connection summary logged by [*Proxy.logConnectionDone].
	ObserveConn *netx.ObserveConnFunc

	// Protocol selects how the two legs are bridged.
	Protocol Protocol

	// Terminator terminates or passes through TLS on accepted connections.
	// Nil when the listener has TLS disabled, in which case conn is
	// forwarded as-is.
	Terminator *tlsterm.Terminator

	// TimeNow returns the current time (configurable for testing).
	TimeNow func() time.Time
}

// HandleConnection drives one accepted client connection end to end. It
// always closes conn (directly or via a wrapper) before returning.
func (p *Proxy) HandleConnection(ctx context.Context, conn net.Conn) error {
	configureTCP(conn)

	spanID := netx.NewSpanID()
	ctx = netx.WithSpanID(ctx, spanID)
	t0 := p.TimeNow()

	client, sni, err := p.terminate(ctx, conn)
	if err != nil {
		p.logConnectionDone(t0, spanID, "", sni, err)
		return err
	}
	defer client.Close()

	key := clientKey(conn)
	backend, err := p.Balancer.Select(key)
	if err != nil {
		p.logConnectionDone(t0, spanID, key, sni, err)
		return err
	}

	lc, trackCounts := p.Balancer.Selector().(*selector.LeastConnections)
	if trackCounts {
		lc.Increment(backend.Addr)
		defer lc.Decrement(backend.Addr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.DialTimeout)
	upstream, err := p.Connect.Call(dialCtx, backend.Addr)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDial, err)
		p.logConnectionDone(t0, spanID, key, sni, err)
		return err
	}
	observedUpstream, _ := p.ObserveConn.Call(ctx, upstream)
	defer observedUpstream.Close()

	switch p.Protocol {
	case ProtocolWS:
		err = bridgeWebSocket(ctx, client, observedUpstream)
	default:
		err = copyBidirectional(ctx, client, observedUpstream)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStream, err)
	}

	p.logConnectionDone(t0, spanID, key, sni, err)
	return err
}

// terminate runs TLS termination when Terminator is configured, or returns
// conn unmodified when the listener has TLS disabled. On a Passthru outcome
// it returns the Passthru connection (still TLS-encrypted, with the sniffed
// ClientHello replayed) and its SNI; the caller proxies those raw bytes to
// the backend its balancer selects, with no routing by SNI.
func (p *Proxy) terminate(ctx context.Context, conn net.Conn) (net.Conn, string, error) {
	if p.Terminator == nil {
		return conn, "", nil
	}

	hsCtx, cancel := context.WithTimeout(ctx, p.HandshakeTimeout)
	defer cancel()

	outcome, err := p.Terminator.Call(hsCtx, conn)
	if err != nil {
		return nil, "", err
	}
	if outcome.Passthru != nil {
		return outcome.Passthru.Conn, outcome.Passthru.SNI, nil
	}
	return outcome.Established.Conn, "", nil
}

// clientKey returns the routing key consistent-hash selectors use: the
// client's IP address, so repeated connections from one client land on the
// same backend. Other selectors ignore it.
func clientKey(conn net.Conn) string {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return conn.RemoteAddr().String()
	}
	return addr.AddrPort().Addr().String()
}

// configureTCP enables TCP_NODELAY and a keepalive timer on conn when it is
// a [*net.TCPConn]. Other connection types (used in tests) are left alone.
func configureTCP(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(30 * time.Second)
}

func (p *Proxy) logConnectionDone(t0 time.Time, spanID, backendKey, sni string, err error) {
	p.Logger.Info(
		"streamProxyConnectionDone",
		slog.Any("err", err),
		slog.String("errClass", p.ErrClassifier.Classify(err)),
		slog.String("routingKey", backendKey),
		slog.String("spanID", spanID),
		slog.String("tlsSNI", sni),
		slog.Time("t0", t0),
		slog.Time("t", p.TimeNow()),
	)
}
