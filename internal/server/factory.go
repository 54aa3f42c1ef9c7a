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

package server

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-ledgerkey/internal/config"
	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/emulator"
	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/bridge"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/hid"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/ipc"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/speculos"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/u2f"
)

// FactoryConfig is what a transport factory needs from the configuration.
type FactoryConfig struct {
	Transport  config.TransportConfig
	Protocol   apdu.Protocol
	Emulator   config.EmulatorConfig
	Enumerator hid.Enumerator
	Logger     *logging.Logger
}

// NewFactory returns a transport.Factory for the configured kind.
func NewFactory(cfg FactoryConfig) (transport.Factory, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("transport", cfg.Transport.Kind)
	enum := cfg.Enumerator
	if enum == nil {
		enum = hid.DefaultEnumerator()
	}
	tc := cfg.Transport

	switch tc.Kind {
	case transport.KindHID:
		return func(context.Context) (transport.Transport, error) {
			opts := hid.Options{Logger: log}
			if tc.HID.Path == "" {
				return hid.Open(enum, opts)
			}
			dev, err := enum.Open(tc.HID.Path)
			if err != nil {
				return nil, transport.NewError(transport.KindHID, transport.ReasonConnectionUnavailable, err)
			}
			return hid.New(dev, opts), nil
		}, nil

	case transport.KindU2F:
		return func(ctx context.Context) (transport.Transport, error) {
			opts := u2f.Options{ScrambleKey: tc.U2F.ScrambleKey, AppID: tc.U2F.AppID, Logger: log}
			if tc.U2F.Path == "" {
				return u2f.Open(ctx, enum, opts)
			}
			dev, err := enum.Open(tc.U2F.Path)
			if err != nil {
				return nil, transport.NewError(transport.KindU2F, transport.ReasonConnectionUnavailable, err)
			}
			return u2f.New(ctx, dev, opts)
		}, nil

	case transport.KindIPC:
		return func(context.Context) (transport.Transport, error) {
			// The helper outlives the request that opened it.
			return ipc.Spawn(context.Background(), ipc.Options{Logger: log}, tc.IPC.Command, tc.IPC.Args...)
		}, nil

	case transport.KindBridge:
		return func(ctx context.Context) (transport.Transport, error) {
			return bridge.Dial(ctx, tc.Bridge.URL, bridge.Options{
				HandshakeTimeout: tc.Bridge.HandshakeTimeout,
				Logger:           log,
			})
		}, nil

	case transport.KindSpeculos:
		return func(context.Context) (transport.Transport, error) {
			return speculos.New(speculos.Options{URL: tc.Speculos.URL, Logger: log}), nil
		}, nil

	case transport.KindEmulator:
		proto := cfg.Protocol
		return func(context.Context) (transport.Transport, error) {
			return emulator.New(emulator.Options{
				Seed:     []byte(cfg.Emulator.Seed),
				Protocol: &proto,
				Reject:   cfg.Emulator.Reject,
				Logger:   log,
			}), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", tc.Kind)
}
