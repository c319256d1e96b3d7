// SPDX-License-Identifier: GPL-3.0-or-later

package netx

import (
	"net"
	"time"
)

// Config holds common configuration for netx operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// backendKeepAlive is applied to the dialer's outgoing TCP connections so
// the backend leg gets the same keepalive treatment
// streamproxy.configureTCP applies to the accepted client leg.
const backendKeepAlive = 30 * time.Second

// NewConfig creates a [*Config] with sensible defaults for dialing
// backends: a [*net.Dialer] with TCP keepalive enabled, [DefaultErrClassifier],
// and [time.Now].
func NewConfig() *Config {
	return &Config{
		Dialer:        &net.Dialer{KeepAlive: backendKeepAlive},
		ErrClassifier: DefaultErrClassifier,
		TimeNow:       time.Now,
	}
}
