// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ledgerkey.
//
// go-ledgerkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"os"

	"github.com/jeremyhahn/go-ledgerkey/internal/config"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the YAML configuration file. Empty falls
	// back to $LEDGERKEY_CONFIG, then to built-in defaults.
	ConfigFile string

	// Transport overrides transport.kind from the file
	Transport string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables debug logging
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{OutputFormat: string(OutputFormatText)}
}

// Load reads the configuration file and applies flag overrides.
func (c *Config) Load() (*config.Config, error) {
	path := c.ConfigFile
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if c.Transport != "" {
		cfg.Transport.Kind = c.Transport
	}
	if c.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
