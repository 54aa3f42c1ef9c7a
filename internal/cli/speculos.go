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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/speculos"
)

func newSpeculosCmd(a *app) *cobra.Command {
	speculosCmd := &cobra.Command{
		Use:   "speculos",
		Short: "Drive the Speculos emulator",
	}
	speculosCmd.AddCommand(&cobra.Command{
		Use:       "press <left|right|both>",
		Short:     "Press a button on the emulated device",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{speculos.ButtonLeft, speculos.ButtonRight, speculos.ButtonBoth},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config.Load()
			if err != nil {
				return err
			}
			t := speculos.New(speculos.Options{URL: cfg.Transport.Speculos.URL})
			defer func() { _ = t.Close() }()
			if err := t.Press(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.printer().PrintSuccess(fmt.Sprintf("Pressed %s", args[0]))
		},
	})
	return speculosCmd
}
