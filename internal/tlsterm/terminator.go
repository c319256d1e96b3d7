//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/tlsdialer.go
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/tls.go
//

// Package tlsterm terminates inbound TLS connections on behalf of the
// stream proxy, deciding per connection whether to present a certificate
// and speak TLS (Established) or forward the raw bytes untouched to an
// upstream that terminates TLS itself (Passthru).
package tlsterm

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"

	"github.com/hippalus/umay/internal/netx"
)

// ErrHandshake is the sentinel wrapped when the TLS handshake itself fails
// (as opposed to a sniffing or configuration failure before it starts).
var ErrHandshake = errors.New("tlsterm: handshake failed")

// TLSEngine is the engine used to build a new [TLSConn] for the server role.
type TLSEngine interface {
	// Server builds a new server-side [TLSConn] that will authenticate
	// itself to the peer using config.
	Server(conn net.Conn, config *tls.Config) TLSConn

	// Name returns the engine name.
	Name() string

	// Parrot returns the configured parrot or an empty string.
	Parrot() string
}

// TLSEngineStdlib implements [TLSEngine] for the standard library.
//
// The zero value is ready to use.
type TLSEngineStdlib struct{}

var _ TLSEngine = TLSEngineStdlib{}

// Server implements [TLSEngine] using [tls.Server].
func (TLSEngineStdlib) Server(conn net.Conn, config *tls.Config) TLSConn {
	return tls.Server(conn, config)
}

// Name implements [TLSEngine].
func (TLSEngineStdlib) Name() string {
	return "stdlib"
}

// Parrot implements [TLSEngine].
func (TLSEngineStdlib) Parrot() string {
	return ""
}

// TLSConn abstracts over [*tls.Conn].
//
// By using an abstraction we allow for alternative TLS implementations
// and for unit testing without a real handshake.
type TLSConn interface {
	// ConnectionState returns the connection state.
	ConnectionState() tls.ConnectionState

	// HandshakeContext performs the handshake unless interrupted by the context.
	HandshakeContext(ctx context.Context) error

	// Embedding Conn means we can use this type as a [net.Conn].
	net.Conn
}

// ClientID is the raw DER bytes of a client's leaf certificate, present
// only when the connection authenticated with a client certificate.
type ClientID []byte

// Established describes a connection on which the [*Terminator] completed
// the TLS handshake and is now speaking plaintext to the caller over conn.
type Established struct {
	// Conn is the handshake-complete [TLSConn]; reads and writes on it
	// carry decrypted application data.
	Conn TLSConn

	// ClientID is the peer's leaf certificate, if the handshake
	// authenticated one (mutual TLS). Nil otherwise.
	ClientID ClientID

	// NegotiatedProtocol is the ALPN protocol the handshake selected,
	// or "" if none was negotiated.
	NegotiatedProtocol string
}

// Passthru describes a connection the [*Terminator] declined to terminate:
// the client's SNI names an upstream that terminates TLS itself. Conn
// yields the exact bytes the client sent, including the ClientHello that
// was sniffed to make the routing decision, byte for byte.
type Passthru struct {
	// Conn replays any buffered bytes and then delegates to the original
	// connection. The caller must proxy it unmodified to the backend.
	Conn net.Conn

	// SNI is the server name the client requested.
	SNI string
}

// Outcome is the result of [*Terminator.Call]: exactly one of Established
// or Passthru is non-nil.
type Outcome struct {
	Established *Established
	Passthru    *Passthru
}

// NewTerminator returns a new [*Terminator] using the given [*tls.Config].
//
// The cfg argument contains the common configuration for netx operations.
//
// The tlsConfig argument is the TLS configuration to present to clients
// that are terminated. Its ServerName, certificates, and client-auth
// policy are used as given; [*Terminator.Reload] may swap it out later.
//
// The logger argument is the [netx.SLogger] to use for structured logging.
func NewTerminator(cfg *netx.Config, tlsConfig *tls.Config, logger netx.SLogger) *Terminator {
	runtimex.Assert(tlsConfig != nil)
	term := &Terminator{
		Engine:        TLSEngineStdlib{},
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		ServedNames:   nil,
		TimeNow:       cfg.TimeNow,
	}
	term.config.Store(tlsConfig)
	return term
}

// Terminator decides, per inbound connection, whether to terminate TLS or
// pass the connection through untouched, based on the client's SNI.
//
// When ServedNames is empty, every connection is terminated: this matches
// a proxy configured to serve a single TLS domain or not to route by name.
// When ServedNames is non-empty, a connection is terminated only if the
// client's SNI is absent or appears in ServedNames; otherwise it is handed
// back as [Passthru] so the caller can forward it to an upstream that
// terminates TLS for that name itself.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call], except for
// the TLS configuration, which must be changed via [*Terminator.Reload].
type Terminator struct {
	// Engine is the [TLSEngine] to use to handshake.
	//
	// Set by [NewTerminator] to [TLSEngineStdlib].
	Engine TLSEngine

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTerminator] from [netx.Config.ErrClassifier].
	ErrClassifier netx.ErrClassifier

	// Logger is the [netx.SLogger] to use (configurable for testing or
	// custom logging).
	//
	// Set by [NewTerminator] to the user-provided logger.
	Logger netx.SLogger

	// ServedNames lists the SNI values this terminator answers with its
	// own certificate. An empty slice means "serve every name".
	//
	// Zero value means every connection is terminated.
	ServedNames []string

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewTerminator] from [netx.Config.TimeNow].
	TimeNow func() time.Time

	config atomicTLSConfig
}

var _ netx.Func[net.Conn, Outcome] = &Terminator{}

// Reload atomically replaces the TLS configuration used for subsequent
// handshakes. In-flight handshakes are unaffected. Use this to apply a
// certificate rotated on disk without restarting listeners.
func (op *Terminator) Reload(tlsConfig *tls.Config) {
	runtimex.Assert(tlsConfig != nil)
	op.config.Store(tlsConfig)
}

// Call invokes the [*Terminator] to classify and, if appropriate, terminate
// TLS for the given [net.Conn]. The returned [Outcome] holds either an
// [Established] or a [Passthru] connection; the caller owns it and must
// close it once done. On error the input conn has already been closed.
func (op *Terminator) Call(ctx context.Context, conn net.Conn) (Outcome, error) {
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()

	sni, prefix, sniffErr := op.sniff(ctx, conn)
	if sniffErr != nil {
		conn.Close()
		op.logTerminateDone(conn, t0, deadline, "", sniffErr)
		return Outcome{}, sniffErr
	}

	replay := &prefixConn{Conn: conn, prefix: prefix}

	if sni != "" && len(op.ServedNames) > 0 && !slices.Contains(op.ServedNames, sni) {
		op.logTerminateDone(conn, t0, deadline, sni, nil)
		return Outcome{Passthru: &Passthru{Conn: replay, SNI: sni}}, nil
	}

	config := op.tlsConfig()
	tconn := op.Engine.Server(replay, config)
	op.logHandshakeStart(tconn, t0, deadline, config)
	err := tconn.HandshakeContext(ctx)
	state := tconn.ConnectionState()
	op.logHandshakeDone(tconn, t0, deadline, config, err, state)
	if err != nil {
		tconn.Close()
		return Outcome{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	return Outcome{Established: &Established{
		Conn:               tconn,
		ClientID:           op.clientID(state),
		NegotiatedProtocol: state.NegotiatedProtocol,
	}}, nil
}

func (op *Terminator) clientID(state tls.ConnectionState) ClientID {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return ClientID(state.PeerCertificates[0].Raw)
}

func (op *Terminator) tlsConfig() *tls.Config {
	config := op.config.Load().Clone()
	config.Time = op.TimeNow
	return config
}

// abortAfterClientHello is returned by the sniffing handshake's
// GetConfigForClient callback once the ClientHello has been parsed, so
// that crypto/tls stops before sending any bytes back to the client.
var abortAfterClientHello = errors.New("tlsterm: sni sniffed")

// sniff reads just enough of the inbound handshake to learn the SNI the
// client requested, without consuming more from conn than the ClientHello
// record itself, and without writing anything back to the client. The
// returned prefix is every byte read from conn during the sniff; the
// caller must replay it before resuming reads from conn, whichever way
// the connection is ultimately handled.
func (op *Terminator) sniff(ctx context.Context, conn net.Conn) (sni string, prefix []byte, err error) {
	rec := &recordingConn{Conn: conn}
	var gotSNI string
	sniffConfig := &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			gotSNI = hello.ServerName
			return nil, abortAfterClientHello
		},
	}
	srv := tls.Server(rec, sniffConfig)
	hsErr := srv.HandshakeContext(ctx)
	if hsErr != nil && !errors.Is(hsErr, abortAfterClientHello) {
		return "", rec.buf.Bytes(), hsErr
	}
	return gotSNI, rec.buf.Bytes(), nil
}

func (op *Terminator) logHandshakeStart(conn net.Conn, t0 time.Time, deadline time.Time, config *tls.Config) {
	op.Logger.Info(
		"tlsHandshakeStart",
		slog.Time("deadline", deadline),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", t0),
		slog.String("tlsEngineName", op.Engine.Name()),
		slog.String("tlsParrot", op.Engine.Parrot()),
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.Bool("tlsClientAuth", config.ClientAuth != tls.NoClientCert),
	)
}

func (op *Terminator) logHandshakeDone(
	conn net.Conn, t0 time.Time, deadline time.Time, config *tls.Config, err error, state tls.ConnectionState) {
	op.Logger.Info(
		"tlsHandshakeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("tlsEngineName", op.Engine.Name()),
		slog.String("tlsParrot", op.Engine.Parrot()),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.Any("tlsPeerCerts", op.peerCerts(state, err)),
		slog.Bool("tlsClientAuth", config.ClientAuth != tls.NoClientCert),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
	)
}

func (op *Terminator) logTerminateDone(conn net.Conn, t0 time.Time, deadline time.Time, sni string, err error) {
	op.Logger.Info(
		"tlsSniffDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("tlsSNI", sni),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}

func (op *Terminator) peerCerts(state tls.ConnectionState, err error) (out [][]byte) {
	out = [][]byte{}

	var x509HostnameError x509.HostnameError
	if errors.As(err, &x509HostnameError) {
		out = append(out, x509HostnameError.Certificate.Raw)
		return
	}

	var x509UnknownAuthorityError x509.UnknownAuthorityError
	if errors.As(err, &x509UnknownAuthorityError) {
		out = append(out, x509UnknownAuthorityError.Cert.Raw)
		return
	}

	var x509CertificateInvalidError x509.CertificateInvalidError
	if errors.As(err, &x509CertificateInvalidError) {
		out = append(out, x509CertificateInvalidError.Cert.Raw)
		return
	}

	for _, cert := range state.PeerCertificates {
		out = append(out, cert.Raw)
	}
	return
}

// recordingConn wraps a [net.Conn] and remembers every byte read from it,
// so those bytes can be replayed to a second, real consumer of the
// connection. Writes are swallowed: the sniffing handshake must never
// reach the wire, since [abortAfterClientHello] aborts before any
// response is produced.
type recordingConn struct {
	net.Conn
	buf bytes.Buffer
}

func (c *recordingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.buf.Write(p[:n])
	}
	return n, err
}

func (c *recordingConn) Write(p []byte) (int, error) {
	return len(p), nil
}

// prefixConn replays a buffered prefix before resuming reads from the
// wrapped connection. It is used to hand a connection, sniffed for its
// SNI, on to its real consumer (the handshake engine or a passthru copy)
// without losing the bytes consumed during sniffing.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
