// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/hippalus/umay/internal/netx"
)

// ReloadFunc is called with a freshly built [*tls.Config] whenever the
// watched certificate or key file changes on disk.
type ReloadFunc func(*tls.Config)

// BuildTLSConfig loads a [*tls.Config] from cfg's PEM file paths: the
// certificate chain and key via [tls.LoadX509KeyPair], and, when set, a
// trust anchor pool for client certificate verification.
func (cfg *TLSConfig) BuildTLSConfig() (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertificateFile, cfg.CertificateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: loading certificate: %v", ErrConfig, err)
	}

	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if cfg.TrustedCertificateFile != "" {
		pemBytes, err := os.ReadFile(cfg.TrustedCertificateFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading trusted certificate: %v", ErrConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("%w: no certificates parsed from %s", ErrConfig, cfg.TrustedCertificateFile)
		}
		out.ClientCAs = pool
		if cfg.Verify {
			out.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			out.ClientAuth = tls.RequestClientCert
		}
	}

	return out, nil
}

// WatchCredentials watches cfg's certificate and key files for changes and
// invokes reload with a freshly built [*tls.Config] on every write. It
// returns once ctx is done, closing the underlying watcher.
//
// A build failure after a change is logged and skipped — the previous,
// still-valid configuration stays in effect, consistent with the
// terminator's "never yield a broken config" contract.
func WatchCredentials(ctx context.Context, cfg *TLSConfig, logger netx.SLogger, reload ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: creating credential watcher: %v", ErrConfig, err)
	}

	for _, path := range []string{cfg.CertificateFile, cfg.CertificateKeyFile} {
		if path == "" {
			continue
		}
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return fmt.Errorf("%w: watching %s: %v", ErrConfig, path, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				tlsConfig, err := cfg.BuildTLSConfig()
				if err != nil {
					logger.Info("credentialReloadFailed", slog.Any("err", err), slog.String("path", event.Name))
					continue
				}
				logger.Info("credentialReloaded", slog.String("path", event.Name))
				reload(tlsConfig)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Info("credentialWatchError", slog.Any("err", err))
			}
		}
	}()

	return nil
}
