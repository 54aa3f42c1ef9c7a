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

// Package server wires configuration into a running ledgerkey: the
// logger, the shared device pool, the keyring and the bridge servers.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/jeremyhahn/go-ledgerkey/internal/config"
	"github.com/jeremyhahn/go-ledgerkey/pkg/keyring"
	"github.com/jeremyhahn/go-ledgerkey/pkg/keys"
	"github.com/jeremyhahn/go-ledgerkey/pkg/ledger"
	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/metrics"
	"github.com/jeremyhahn/go-ledgerkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-ledgerkey/pkg/storage"
	"github.com/jeremyhahn/go-ledgerkey/pkg/storage/file"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/bridge"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/hid"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/ipc"
)

// Options carries what the configuration file cannot.
type Options struct {
	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer

	// Enumerator defaults to hid.DefaultEnumerator.
	Enumerator hid.Enumerator
}

// Server is a configured ledgerkey instance.
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	pool     *transport.Pool
	factory  transport.Factory
	backend  storage.Backend
	keyring  *keyring.Keyring
	registry *keys.Registry
	proxy    *ledger.Proxy
}

// New creates a server from cfg. No device is opened until first use.
func New(cfg *config.Config, opts Options) (*Server, error) {
	logger := setupLogger(cfg.Logging, opts.LogOutput)

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	factory, err := NewFactory(FactoryConfig{
		Transport:  cfg.Transport,
		Protocol:   cfg.Protocol,
		Emulator:   cfg.Emulator,
		Enumerator: opts.Enumerator,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	backend, err := openKeyringBackend(cfg.Keyring)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyring: %w", err)
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		factory:  factory,
		backend:  backend,
		registry: keys.NewRegistry(),
		pool: transport.NewPool(transport.DeviceOptions{
			ExchangeTimeout: cfg.Transport.ExchangeTimeout,
			Concurrency:     cfg.Transport.Concurrency,
			Logger:          logger,
		}),
	}
	// The proxy resolves the pooled device per operation, so keys loaded
	// from the keyring keep signing after the pool reopens a closed device.
	s.proxy, err = ledger.NewProxyFrom(s.Device, ledger.ProxyOptions{
		Protocol: &cfg.Protocol,
		Logger:   logger,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := s.registry.Register(ledger.NewDeserializer(s.proxy)); err != nil {
		_ = backend.Close()
		return nil, err
	}
	s.keyring = keyring.New(backend, s.registry)
	return s, nil
}

func openKeyringBackend(cfg config.KeyringConfig) (storage.Backend, error) {
	if cfg.Backend == "memory" {
		return storage.NewMemory(), nil
	}
	return file.New(cfg.Path)
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig, out io.Writer) *logging.Logger {
	return logging.New(logging.Options{
		Level:  cfg.Level,
		Format: logging.Format(cfg.Format),
		Output: out,
	})
}

// Logger returns the configured logger.
func (s *Server) Logger() *logging.Logger {
	return s.logger
}

// Config returns the configuration the server was built from.
func (s *Server) Config() *config.Config {
	return s.config
}

// Device returns the shared device for the configured transport, opening
// it on first use.
func (s *Server) Device(ctx context.Context) (*transport.Device, error) {
	return s.pool.Get(ctx, s.config.Transport.Kind, s.factory)
}

// Proxy returns the ledger proxy, opening the device first so that an
// unavailable transport is reported here rather than on first use.
func (s *Server) Proxy(ctx context.Context) (*ledger.Proxy, error) {
	if _, err := s.Device(ctx); err != nil {
		return nil, err
	}
	return s.proxy, nil
}

// Keyring returns the keyring. LEDGER keys it loads sign through Proxy.
func (s *Server) Keyring() *keyring.Keyring {
	return s.keyring
}

// ServeStdio serves the device over CBOR on r and w until r is closed.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	device, err := s.Device(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("serving device over stdio", "transport", device.Kind())
	return ipc.Serve(ctx, r, w, device, s.logger)
}

// ServeWS serves the device over WebSocket until ctx is done.
func (s *Server) ServeWS(ctx context.Context, addr string) error {
	device, err := s.Device(ctx)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(&s.config.Bridge.RateLimit)
	defer limiter.Stop()

	srv := bridge.NewServer(device, bridge.ServerOptions{
		Limiter:        limiter,
		AllowedOrigins: s.config.Bridge.AllowedOrigins,
		Protocol:       &s.config.Protocol,
		Logger:         s.logger,
	})
	if addr == "" {
		addr = s.config.Bridge.Listen
	}
	return srv.ListenAndServe(ctx, addr)
}

// Close closes the device pool and the keyring backend.
func (s *Server) Close() error {
	poolErr := s.pool.Close()
	if err := s.backend.Close(); err != nil {
		return err
	}
	return poolErr
}

// Version returns the build version from module or VCS information.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()
	return ctx
}
