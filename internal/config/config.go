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

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/u2f"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEDGERKEY_"

// Config represents the complete ledgerkey configuration
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Protocol  apdu.Protocol   `yaml:"protocol"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Keyring   KeyringConfig   `yaml:"keyring"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// TransportConfig selects and configures the device binding
type TransportConfig struct {
	Kind            string                `yaml:"kind"`
	Concurrency     transport.Concurrency `yaml:"concurrency"`
	ExchangeTimeout time.Duration         `yaml:"exchange_timeout"`

	HID      HIDConfig      `yaml:"hid"`
	U2F      U2FConfig      `yaml:"u2f"`
	IPC      IPCConfig      `yaml:"ipc"`
	Bridge   BridgeClient   `yaml:"bridge"`
	Speculos SpeculosConfig `yaml:"speculos"`
}

// HIDConfig pins a hidraw path. Empty opens the first Ledger found.
type HIDConfig struct {
	Path string `yaml:"path"`
}

// U2FConfig contains U2F binding settings
type U2FConfig struct {
	ScrambleKey string `yaml:"scramble_key"`
	AppID       string `yaml:"app_id"`
	Path        string `yaml:"path"`
}

// IPCConfig names the helper process spoken to over stdio
type IPCConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// BridgeClient contains settings for dialing a bridge server
type BridgeClient struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// SpeculosConfig contains the Speculos REST endpoint
type SpeculosConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls Prometheus collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// KeyringConfig controls where named keys are stored
type KeyringConfig struct {
	Backend string `yaml:"backend"` // file, memory
	Path    string `yaml:"path"`
}

// EmulatorConfig configures the in-process software device
type EmulatorConfig struct {
	Seed   string `yaml:"seed"`
	Reject bool   `yaml:"reject"`
}

// BridgeConfig controls `ledgerkey bridge ws`
type BridgeConfig struct {
	Listen         string           `yaml:"listen"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	RateLimit      ratelimit.Config `yaml:"ratelimit"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:            transport.KindHID,
			Concurrency:     transport.ConcurrencyQueue,
			ExchangeTimeout: transport.DefaultExchangeTimeout,
			U2F: U2FConfig{
				ScrambleKey: u2f.DefaultScrambleKey,
				AppID:       u2f.DefaultAppID,
			},
			Bridge: BridgeClient{
				URL:              "ws://127.0.0.1:8435/ws",
				HandshakeTimeout: 10 * time.Second,
			},
			Speculos: SpeculosConfig{URL: "http://127.0.0.1:5000"},
		},
		Protocol: apdu.DefaultProtocol(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{Enabled: true},
		Keyring: KeyringConfig{
			Backend: "file",
			Path:    defaultKeyringPath(),
		},
		Bridge: BridgeConfig{
			Listen: "127.0.0.1:8435",
			RateLimit: ratelimit.Config{
				Enabled:   true,
				PerMinute: 600,
				Burst:     100,
			},
		},
	}
}

func defaultKeyringPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".ledgerkey", "keys")
	}
	return filepath.Join(dir, "ledgerkey", "keys")
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by the user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies LEDGERKEY_* environment variables
func applyEnvOverrides(cfg *Config) {
	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	setString("TRANSPORT", &cfg.Transport.Kind)
	if v := os.Getenv(EnvPrefix + "CONCURRENCY"); v != "" {
		cfg.Transport.Concurrency = transport.Concurrency(v)
	}
	if v := os.Getenv(EnvPrefix + "EXCHANGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("Warning: invalid %sEXCHANGE_TIMEOUT value %q, using %s: %v",
				EnvPrefix, v, cfg.Transport.ExchangeTimeout, err)
		} else {
			cfg.Transport.ExchangeTimeout = d
		}
	}
	setString("HID_PATH", &cfg.Transport.HID.Path)
	setString("U2F_PATH", &cfg.Transport.U2F.Path)
	setString("IPC_COMMAND", &cfg.Transport.IPC.Command)
	setString("BRIDGE_URL", &cfg.Transport.Bridge.URL)
	setString("SPECULOS_URL", &cfg.Transport.Speculos.URL)

	if v := os.Getenv(EnvPrefix + "CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Warning: invalid %sCHUNK_SIZE value %q, using %d: %v",
				EnvPrefix, v, cfg.Protocol.ChunkSize, err)
		} else {
			cfg.Protocol.ChunkSize = n
		}
	}
	if v := os.Getenv(EnvPrefix + "PATH_PLACEMENT"); v != "" {
		cfg.Protocol.PathPlacement = apdu.PathPlacement(v)
	}

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	if v := os.Getenv(EnvPrefix + "METRICS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: invalid %sMETRICS value %q: %v", EnvPrefix, v, err)
		} else {
			cfg.Metrics.Enabled = enabled
		}
	}

	setString("KEYRING_BACKEND", &cfg.Keyring.Backend)
	setString("KEYRING_PATH", &cfg.Keyring.Path)
	setString("EMULATOR_SEED", &cfg.Emulator.Seed)
	setString("BRIDGE_LISTEN", &cfg.Bridge.Listen)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !slices.Contains(transport.Kinds(), c.Transport.Kind) {
		return fmt.Errorf("invalid transport: %q (must be one of %s)",
			c.Transport.Kind, strings.Join(transport.Kinds(), ", "))
	}
	switch c.Transport.Concurrency {
	case transport.ConcurrencyQueue, transport.ConcurrencyFailFast:
	default:
		return fmt.Errorf("invalid concurrency: %q (must be queue or fail_fast)", c.Transport.Concurrency)
	}
	if c.Transport.ExchangeTimeout <= 0 {
		return fmt.Errorf("exchange_timeout must be positive, got %s", c.Transport.ExchangeTimeout)
	}

	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	if c.Transport.Kind == transport.KindU2F {
		frame := c.Protocol.ChunkSize
		if c.Protocol.PathPlacement == apdu.PathFirst {
			frame += apdu.PathLength
		}
		if frame+5 > u2f.MaxAPDU {
			return fmt.Errorf("protocol: chunk_size %d does not fit a u2f key handle (max %d with path %s)",
				c.Protocol.ChunkSize, u2f.MaxAPDU-5-(frame-c.Protocol.ChunkSize), c.Protocol.PathPlacement)
		}
	}

	switch c.Transport.Kind {
	case transport.KindIPC:
		if c.Transport.IPC.Command == "" {
			return errors.New("transport.ipc.command is required for the ipc transport")
		}
	case transport.KindBridge:
		if c.Transport.Bridge.URL == "" {
			return errors.New("transport.bridge.url is required for the bridge transport")
		}
	case transport.KindSpeculos:
		if c.Transport.Speculos.URL == "" {
			return errors.New("transport.speculos.url is required for the speculos transport")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	switch c.Keyring.Backend {
	case "memory":
	case "file":
		if c.Keyring.Path == "" {
			return errors.New("keyring path must be specified for the file backend")
		}
	default:
		return fmt.Errorf("invalid keyring backend: %q (must be file or memory)", c.Keyring.Backend)
	}

	if c.Bridge.RateLimit.Enabled && c.Bridge.RateLimit.PerMinute < 1 {
		return fmt.Errorf("bridge.ratelimit.per_minute must be positive when enabled")
	}
	return nil
}
