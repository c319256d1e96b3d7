// SPDX-License-Identifier: GPL-3.0-or-later

package tlsterm

import (
	"crypto/tls"
	"sync/atomic"
)

// atomicTLSConfig publishes a *tls.Config for lock-free, concurrent reads
// by in-flight handshakes while [*Terminator.Reload] installs a new one.
type atomicTLSConfig struct {
	ptr atomic.Pointer[tls.Config]
}

func (a *atomicTLSConfig) Store(config *tls.Config) {
	a.ptr.Store(config)
}

func (a *atomicTLSConfig) Load() *tls.Config {
	return a.ptr.Load()
}
