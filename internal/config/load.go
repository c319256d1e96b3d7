// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Defaults mirror the original source's fallback behavior: a conservative
// shutdown sequence and an unset worker thread count (0 means "let the Go
// runtime's GOMAXPROCS default apply"). All three are seconds.
const (
	DefaultCloseTimeout        = 5
	DefaultExitTimeout         = 300
	DefaultShutdownGracePeriod = 30
)

// Load reads the configuration document at path (YAML), overlays any
// UMAY_-prefixed environment variables, and validates the result.
//
// path may be empty, in which case only defaults and the environment are
// used — useful for environments that configure umay purely through
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetDefault("close_timeout", DefaultCloseTimeout)
	v.SetDefault("exit_timeout", DefaultExitTimeout)
	v.SetDefault("shutdown_grace_period", DefaultShutdownGracePeriod)

	v.SetEnvPrefix("UMAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding document: %v", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
