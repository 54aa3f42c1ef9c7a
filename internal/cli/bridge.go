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
	"github.com/spf13/cobra"
)

func newBridgeCmd(a *app) *cobra.Command {
	bridgeCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Expose the configured device to other processes",
	}
	bridgeCmd.AddCommand(newBridgeStdioCmd(a))
	bridgeCmd.AddCommand(newBridgeWSCmd(a))
	return bridgeCmd
}

// newBridgeStdioCmd is the helper spawned by the ipc transport.
func newBridgeStdioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the device over CBOR on stdin and stdout",
		Long: `Serve the configured device to a parent process over CBOR messages on
stdin and stdout. This is the helper the ipc transport spawns; logs go
to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()
			return srv.ServeStdio(cmd.Context(), cmd.InOrStdin(), a.out)
		},
	}
}

func newBridgeWSCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "ws",
		Short: "Serve the device over WebSocket",
		Long: `Serve the configured device to bridge clients over WebSocket at /ws.
/healthz reports device health and /metrics exposes Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()
			return srv.ServeWS(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from bridge.listen)")
	return cmd
}
