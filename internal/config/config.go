// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads and validates the document describing every listener,
// upstream, and TLS credential the proxy runs with, using a viper-backed
// document with a UMAY_-prefixed environment overlay.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfig is the sentinel wrapped by every configuration error.
var ErrConfig = errors.New("config: invalid configuration")

// Protocol names a listener's wire protocol.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolWS   Protocol = "ws"
	ProtocolHTTP Protocol = "http"
)

// LoadBalancerKind names a selector policy as it appears in configuration.
type LoadBalancerKind string

const (
	LoadBalancerRoundRobin         LoadBalancerKind = "round_robin"
	LoadBalancerWeightedRoundRobin LoadBalancerKind = "weighted_round_robin"
	LoadBalancerLeastConn          LoadBalancerKind = "least_conn"
	LoadBalancerRandom             LoadBalancerKind = "random"
	LoadBalancerIPHash             LoadBalancerKind = "ip_hash"
)

// ServiceDiscoveryKind names a discovery source as it appears in configuration.
type ServiceDiscoveryKind string

const (
	ServiceDiscoveryDNS   ServiceDiscoveryKind = "dns"
	ServiceDiscoveryLocal ServiceDiscoveryKind = "local"
)

// Config is the top-level document. At least one of Stream or HTTP must be
// present. CloseTimeout, ExitTimeout, and ShutdownGracePeriod are expressed
// in seconds in the document, matching the original source's u64-seconds
// fields; use the accessor methods below to get a [time.Duration].
type Config struct {
	WorkerThreads       int           `mapstructure:"worker_threads" validate:"gte=0"`
	CloseTimeout        int           `mapstructure:"close_timeout" validate:"gt=0"`
	ExitTimeout         int           `mapstructure:"exit_timeout" validate:"gt=0"`
	ShutdownGracePeriod int           `mapstructure:"shutdown_grace_period" validate:"gt=0"`
	Stream              *StreamConfig `mapstructure:"stream" validate:"omitempty"`
	HTTP                *HTTPConfig   `mapstructure:"http" validate:"omitempty"`
}

// CloseTimeoutDuration returns CloseTimeout as a [time.Duration].
func (c *Config) CloseTimeoutDuration() time.Duration {
	return time.Duration(c.CloseTimeout) * time.Second
}

// ExitTimeoutDuration returns ExitTimeout as a [time.Duration].
func (c *Config) ExitTimeoutDuration() time.Duration {
	return time.Duration(c.ExitTimeout) * time.Second
}

// ShutdownGracePeriodDuration returns ShutdownGracePeriod as a [time.Duration].
func (c *Config) ShutdownGracePeriodDuration() time.Duration {
	return time.Duration(c.ShutdownGracePeriod) * time.Second
}

// StreamConfig is the L4 proxy configuration: named upstreams plus the
// listeners that proxy to them.
type StreamConfig struct {
	Upstreams map[string]Upstream `mapstructure:"upstreams" validate:"required,dive"`
	Servers   []StreamServer      `mapstructure:"servers" validate:"required,min=1,dive"`
}

// Upstream is a named pool of backends reached via one discovery mechanism
// and load-balanced with one selector policy.
type Upstream struct {
	LoadBalancer     LoadBalancerKind     `mapstructure:"load_balancer" validate:"required,oneof=round_robin weighted_round_robin least_conn random ip_hash"`
	ServiceDiscovery ServiceDiscoveryKind `mapstructure:"service_discovery" validate:"required,oneof=dns local"`
	Servers          []UpstreamServer     `mapstructure:"servers" validate:"required,min=1,dive"`
}

// UpstreamServer is one backend address as configured (before DNS
// resolution, if any).
type UpstreamServer struct {
	Address string `mapstructure:"address" validate:"required"`
	Port    uint16 `mapstructure:"port" validate:"required"`
}

// StreamServer is one listening port proxying to one named upstream.
type StreamServer struct {
	Name      string      `mapstructure:"name" validate:"required"`
	Listen    ListenConfig `mapstructure:"listen" validate:"required"`
	ProxyPass string      `mapstructure:"proxy_pass" validate:"required"`
	TLS       *TLSConfig  `mapstructure:"tls" validate:"omitempty"`
}

// ListenConfig is the port and wire protocol one listener binds.
type ListenConfig struct {
	Port     uint16   `mapstructure:"port" validate:"required"`
	Protocol Protocol `mapstructure:"protocol" validate:"required,oneof=tcp udp ws http"`
}

// TLSConfig names the filesystem paths and policy knobs for one listener's
// TLS termination. Certificate fields are paths to PEM-encoded material.
type TLSConfig struct {
	Enabled                bool     `mapstructure:"enabled"`
	CertificateFile        string   `mapstructure:"proxy_tls_certificate" validate:"required_if=Enabled true"`
	CertificateKeyFile     string   `mapstructure:"proxy_tls_certificate_key" validate:"required_if=Enabled true"`
	TrustedCertificateFile string   `mapstructure:"proxy_tls_trusted_certificate"`
	Verify                 bool     `mapstructure:"proxy_tls_verify"`
	VerifyDepth            int      `mapstructure:"proxy_tls_verify_depth" validate:"gte=0"`
	SessionReuse           bool     `mapstructure:"proxy_tls_session_reuse"`
	Protocols              []string `mapstructure:"proxy_tls_protocols"`
	Ciphers                string   `mapstructure:"proxy_tls_ciphers"`
}

// HTTPConfig is parsed and validated for shape, matching the original
// source's declared-but-unimplemented HTTP/L7 path: [Validate] accepts it,
// but nothing in this module ever builds an HTTP listener from it.
type HTTPConfig struct {
	Upstreams map[string]Upstream `mapstructure:"upstreams" validate:"dive"`
	Servers   []HTTPServer        `mapstructure:"servers" validate:"dive"`
}

// HTTPServer mirrors the original source's declared HTTP listener shape.
type HTTPServer struct {
	Name             string         `mapstructure:"name" validate:"required"`
	Listen           ListenConfig   `mapstructure:"listen" validate:"required"`
	TLS              *TLSConfig     `mapstructure:"tls"`
	ProxyPass        string         `mapstructure:"proxy_pass" validate:"required"`
	Location         LocationConfig `mapstructure:"location"`
	ProxyHTTPVersion string         `mapstructure:"proxy_http_version"`
	ProxySetHeader   string         `mapstructure:"proxy_set_header"`
	KeepaliveTimeout time.Duration  `mapstructure:"keepalive_timeout"`
}

// LocationConfig names the URL path an HTTPServer matches.
type LocationConfig struct {
	Path string `mapstructure:"path"`
}

// ErrHTTPNotImplemented is returned by anything that would need to build an
// HTTP listener: the http block is parsed and validated for shape, but the
// L7 path is out of scope for this module.
var ErrHTTPNotImplemented = fmt.Errorf("%w: http listener construction is not implemented", ErrConfig)
