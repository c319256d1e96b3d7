// SPDX-License-Identifier: GPL-3.0-or-later

// Package testpki builds a throwaway certificate authority, server
// certificate, and client certificate for TLS-dependent tests across the
// module, so no test relies on fixtures checked into the repository.
package testpki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// PKI holds a self-signed CA and one server and one client certificate
// issued by it, ready to drive an end-to-end TLS handshake in tests.
type PKI struct {
	// Roots is a pool containing only the CA certificate, for verifying
	// either the server or the client certificate.
	Roots *x509.CertPool

	// CACert is the self-signed root certificate.
	CACert *x509.Certificate

	// ServerCert is a [tls.Certificate] for "localhost", issued by CACert.
	ServerCert tls.Certificate

	// ClientCert is a [tls.Certificate] with CommonName "Test Client",
	// issued by CACert, suitable for mutual-TLS tests.
	ClientCert tls.Certificate
}

// New builds a fresh [*PKI]. Every call generates new keys; callers that
// need a stable identity across calls should keep the returned value.
func New() (*PKI, error) {
	caCert, caKey, err := makeCA()
	if err != nil {
		return nil, fmt.Errorf("testpki: creating CA: %w", err)
	}

	serverCert, err := makeLeaf(caCert, caKey, leafParams{
		commonName: "localhost",
		dnsNames:   []string{"localhost"},
		extUsage:   x509.ExtKeyUsageServerAuth,
	})
	if err != nil {
		return nil, fmt.Errorf("testpki: creating server certificate: %w", err)
	}

	clientCert, err := makeLeaf(caCert, caKey, leafParams{
		commonName: "Test Client",
		extUsage:   x509.ExtKeyUsageClientAuth,
	})
	if err != nil {
		return nil, fmt.Errorf("testpki: creating client certificate: %w", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(caCert)

	return &PKI{
		Roots:      roots,
		CACert:     caCert,
		ServerCert: serverCert,
		ClientCert: clientCert,
	}, nil
}

// ServerTLSConfig returns a minimal [*tls.Config] presenting ServerCert,
// with no client authentication required.
func (p *PKI) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{p.ServerCert},
	}
}

// ServerTLSConfigWithClientAuth returns a [*tls.Config] presenting
// ServerCert and requiring a client certificate verified against Roots.
func (p *PKI) ServerTLSConfigWithClientAuth() *tls.Config {
	cfg := p.ServerTLSConfig()
	cfg.ClientCAs = p.Roots
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg
}

// ClientTLSConfig returns a minimal [*tls.Config] trusting Roots, for
// dialing a server presenting ServerCert.
func (p *PKI) ClientTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		RootCAs:    p.Roots,
		ServerName: serverName,
	}
}

type leafParams struct {
	commonName string
	dnsNames   []string
	extUsage   x509.ExtKeyUsage
}

func makeCA() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"umay test CA"},
			CommonName:   "Test CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:               time.Now().Add(24 * time.Hour),
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func makeLeaf(caCert *x509.Certificate, caKey *ecdsa.PrivateKey, params leafParams) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName: params.commonName,
		},
		DNSNames:    params.dnsNames,
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{params.extUsage},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der, caCert.Raw},
		PrivateKey:  key,
	}, nil
}
