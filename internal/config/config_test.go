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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgerkey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, transport.KindHID, cfg.Transport.Kind)
	assert.Equal(t, transport.ConcurrencyQueue, cfg.Transport.Concurrency)
	assert.Equal(t, apdu.DefaultChunkSize, cfg.Protocol.ChunkSize)
	assert.Equal(t, apdu.PathFirst, cfg.Protocol.PathPlacement)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Transport.Kind, cfg.Transport.Kind)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
transport:
  kind: emulator
  concurrency: fail_fast
  exchange_timeout: 30s
protocol:
  cla: 0x80
  ins_sign: 0x02
  ins_get_public_key: 0x04
  chunk_size: 200
  path_placement: last
logging:
  level: debug
  format: json
keyring:
  backend: memory
emulator:
  seed: test-seed
bridge:
  listen: 0.0.0.0:9000
  allowed_origins: ["https://wallet.example"]
  ratelimit:
    enabled: true
    per_minute: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, transport.KindEmulator, cfg.Transport.Kind)
	assert.Equal(t, transport.ConcurrencyFailFast, cfg.Transport.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Transport.ExchangeTimeout)
	assert.Equal(t, byte(0x80), cfg.Protocol.CLA)
	assert.Equal(t, 200, cfg.Protocol.ChunkSize)
	assert.Equal(t, apdu.PathLast, cfg.Protocol.PathPlacement)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Keyring.Backend)
	assert.Equal(t, "test-seed", cfg.Emulator.Seed)
	assert.Equal(t, []string{"https://wallet.example"}, cfg.Bridge.AllowedOrigins)
	assert.Equal(t, 10, cfg.Bridge.RateLimit.PerMinute)
	// untouched sections keep defaults
	assert.Equal(t, Default().Transport.Speculos.URL, cfg.Transport.Speculos.URL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "transport: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeConfig(t, "transport:\n  kind: carrier-pigeon\n"))
	assert.ErrorContains(t, err, "invalid transport")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGERKEY_TRANSPORT", "speculos")
	t.Setenv("LEDGERKEY_SPECULOS_URL", "http://speculos:5000")
	t.Setenv("LEDGERKEY_EXCHANGE_TIMEOUT", "5s")
	t.Setenv("LEDGERKEY_CHUNK_SIZE", "100")
	t.Setenv("LEDGERKEY_LOG_LEVEL", "warn")
	t.Setenv("LEDGERKEY_METRICS", "false")
	t.Setenv("LEDGERKEY_KEYRING_PATH", "/var/lib/ledgerkey")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, transport.KindSpeculos, cfg.Transport.Kind)
	assert.Equal(t, "http://speculos:5000", cfg.Transport.Speculos.URL)
	assert.Equal(t, 5*time.Second, cfg.Transport.ExchangeTimeout)
	assert.Equal(t, 100, cfg.Protocol.ChunkSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/var/lib/ledgerkey", cfg.Keyring.Path)
}

func TestEnvOverrides_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("LEDGERKEY_EXCHANGE_TIMEOUT", "soon")
	t.Setenv("LEDGERKEY_CHUNK_SIZE", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, transport.DefaultExchangeTimeout, cfg.Transport.ExchangeTimeout)
	assert.Equal(t, apdu.DefaultChunkSize, cfg.Protocol.ChunkSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad concurrency", func(c *Config) { c.Transport.Concurrency = "yolo" }, "invalid concurrency"},
		{"zero timeout", func(c *Config) { c.Transport.ExchangeTimeout = 0 }, "exchange_timeout"},
		{"chunk too large", func(c *Config) { c.Protocol.ChunkSize = 236 }, "protocol"},
		{"bad placement", func(c *Config) { c.Protocol.PathPlacement = "middle" }, "protocol"},
		{"u2f chunk too large", func(c *Config) { c.Transport.Kind = transport.KindU2F }, "u2f key handle"},
		{"ipc without command", func(c *Config) { c.Transport.Kind = transport.KindIPC }, "transport.ipc.command"},
		{"bridge without url", func(c *Config) {
			c.Transport.Kind = transport.KindBridge
			c.Transport.Bridge.URL = ""
		}, "transport.bridge.url"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"bad keyring", func(c *Config) { c.Keyring.Backend = "s3" }, "invalid keyring backend"},
		{"file keyring without path", func(c *Config) { c.Keyring.Path = "" }, "keyring path"},
		{"rate limit without rate", func(c *Config) { c.Bridge.RateLimit.PerMinute = 0 }, "per_minute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestValidate_U2FChunkFits(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = transport.KindU2F
	cfg.Protocol.ChunkSize = 230
	assert.NoError(t, cfg.Validate())

	cfg.Protocol.PathPlacement = apdu.PathLast
	cfg.Protocol.ChunkSize = 250
	assert.NoError(t, cfg.Validate())
	cfg.Protocol.ChunkSize = 251
	assert.Error(t, cfg.Validate())
}
