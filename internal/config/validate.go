// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// Validate runs struct-tag validation plus the cross-field checks the tags
// can't express: at least one of Stream/HTTP present, and every proxy_pass
// naming a declared upstream.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if c.Stream == nil && c.HTTP == nil {
		return fmt.Errorf("%w: at least one of stream or http must be configured", ErrConfig)
	}

	if c.Stream != nil {
		for _, srv := range c.Stream.Servers {
			if _, ok := c.Stream.Upstreams[srv.ProxyPass]; !ok {
				return fmt.Errorf("%w: stream server %q references undeclared upstream %q", ErrConfig, srv.Name, srv.ProxyPass)
			}
		}
	}

	if c.HTTP != nil {
		for _, srv := range c.HTTP.Servers {
			if _, ok := c.HTTP.Upstreams[srv.ProxyPass]; !ok {
				return fmt.Errorf("%w: http server %q references undeclared upstream %q", ErrConfig, srv.Name, srv.ProxyPass)
			}
		}
	}

	return nil
}

// Upstream looks up a named upstream across both the stream and HTTP
// sections, mirroring the original source's cross-section lookup.
func (c *Config) Upstream(name string) (Upstream, bool) {
	if c.Stream != nil {
		if u, ok := c.Stream.Upstreams[name]; ok {
			return u, true
		}
	}
	if c.HTTP != nil {
		if u, ok := c.HTTP.Upstreams[name]; ok {
			return u, true
		}
	}
	return Upstream{}, false
}
