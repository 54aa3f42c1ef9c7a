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

	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/hid"
)

func newDevicesCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached Ledger devices",
		Long: `List the USB HID interfaces of attached Ledger devices. By default only
the APDU interface is shown; --all includes the U2F interface.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := hid.LedgerFilter()
			if all {
				filter = hid.Filter{VendorID: hid.LedgerVendorID}
			}
			devices, err := a.enumerator.Enumerate(filter)
			if err != nil {
				return fmt.Errorf("failed to enumerate devices: %w", err)
			}
			return a.printer().PrintDevices(devices)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include every Ledger interface")
	return cmd
}
