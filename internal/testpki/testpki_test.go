// SPDX-License-Identifier: GPL-3.0-or-later

package testpki

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A server presenting ServerCert and a client trusting Roots complete a
// real handshake over an in-memory pipe.
func TestPKIServerClientHandshake(t *testing.T) {
	pki, err := New()
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()

	serverDone := make(chan error, 1)
	go func() {
		srv := tls.Server(serverSide, pki.ServerTLSConfig())
		serverDone <- srv.Handshake()
	}()

	client := tls.Client(clientSide, pki.ClientTLSConfig("localhost"))
	require.NoError(t, client.Handshake())
	require.NoError(t, <-serverDone)
}

// Mutual TLS succeeds when the client presents ClientCert and the server
// requires and verifies it against Roots.
func TestPKIMutualTLSHandshake(t *testing.T) {
	pki, err := New()
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()

	serverDone := make(chan error, 1)
	go func() {
		srv := tls.Server(serverSide, pki.ServerTLSConfigWithClientAuth())
		serverDone <- srv.Handshake()
	}()

	clientConfig := pki.ClientTLSConfig("localhost")
	clientConfig.Certificates = []tls.Certificate{pki.ClientCert}
	client := tls.Client(clientSide, clientConfig)
	require.NoError(t, client.Handshake())
	require.NoError(t, <-serverDone)

	state := client.ConnectionState()
	assert.NotEmpty(t, state.PeerCertificates)
}

// Mutual TLS fails closed when the client presents no certificate.
func TestPKIMutualTLSRequiresClientCert(t *testing.T) {
	pki, err := New()
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()

	serverDone := make(chan error, 1)
	go func() {
		srv := tls.Server(serverSide, pki.ServerTLSConfigWithClientAuth())
		serverDone <- srv.Handshake()
	}()

	client := tls.Client(clientSide, pki.ClientTLSConfig("localhost"))
	assert.Error(t, client.Handshake())
	assert.Error(t, <-serverDone)
}
