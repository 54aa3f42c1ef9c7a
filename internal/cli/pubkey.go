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

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
)

func newPubkeyCmd(a *app) *cobra.Command {
	var (
		index uint32
		neo   bool
	)
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Read a public key from the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()

			proxy, err := srv.Proxy(cmd.Context())
			if err != nil {
				return err
			}
			a.printVerbose("requesting public key %s", apdu.NewPath(index, neo))
			pub, err := proxy.GetPublicKey(cmd.Context(), index, neo)
			if err != nil {
				return err
			}
			return a.printer().PrintKeyInfo(KeyInfo{
				Index:     index,
				Neo:       neo,
				Path:      apdu.NewPath(index, neo).String(),
				PublicKey: pub.Hex(),
				Address:   pub.Address().Base58(),
			})
		},
	}
	cmd.Flags().Uint32Var(&index, "index", 0, "key index on the device")
	cmd.Flags().BoolVar(&neo, "neo", false, "use the NEO derivation convention")
	return cmd
}
