// SPDX-License-Identifier: GPL-3.0-or-later

package tlsterm

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/bassosimone/slogstub"

	"github.com/hippalus/umay/internal/netx"
)

// generateSelfSignedCert returns a [tls.Certificate] valid for commonName,
// usable both as a server certificate and, when loaded into a
// [*x509.CertPool], as a trust root.
func generateSelfSignedCert(commonName string) tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        cert,
	}
}

// fakeEngine is a test-only [TLSEngine] that records the conn and config
// passed to Server and lets the test control the returned [TLSConn].
type fakeEngine struct {
	serverFunc func(conn net.Conn, config *tls.Config) TLSConn
	name       string
	parrot     string
}

var _ TLSEngine = &fakeEngine{}

func (e *fakeEngine) Server(conn net.Conn, config *tls.Config) TLSConn {
	return e.serverFunc(conn, config)
}

func (e *fakeEngine) Name() string {
	if e.name == "" {
		return "fake"
	}
	return e.name
}

func (e *fakeEngine) Parrot() string {
	return e.parrot
}

// fakeTLSConn is a test-only [TLSConn] that lets the test control the
// handshake outcome and resulting connection state without a real peer.
type fakeTLSConn struct {
	net.Conn
	handshakeFunc func() error
	state         tls.ConnectionState
	closed        bool
}

var _ TLSConn = &fakeTLSConn{}

func (c *fakeTLSConn) HandshakeContext(ctx context.Context) error {
	return c.handshakeFunc()
}

func (c *fakeTLSConn) ConnectionState() tls.ConnectionState {
	return c.state
}

func (c *fakeTLSConn) Close() error {
	c.closed = true
	if c.Conn != nil {
		return c.Conn.Close()
	}
	return nil
}

// dialTLSPair returns a connected (server, client) [net.Conn] pair over an
// in-memory pipe, suitable for driving a real TLS handshake in tests.
func dialTLSPair() (server, client net.Conn) {
	return net.Pipe()
}

// newConfig returns a [*netx.Config] with defaults, for use in terminator tests.
func newConfig() *netx.Config {
	return netx.NewConfig()
}

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}
