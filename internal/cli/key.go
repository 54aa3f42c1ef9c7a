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
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/keys"
	"github.com/jeremyhahn/go-ledgerkey/pkg/ledger"
	"github.com/jeremyhahn/go-ledgerkey/pkg/tx"
)

func newKeyCmd(a *app) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage keyring entries",
		Long:  `Create, inspect, sign with and delete Ledger keys stored in the keyring`,
	}
	keyCmd.AddCommand(newKeyCreateCmd(a))
	keyCmd.AddCommand(newKeyListCmd(a))
	keyCmd.AddCommand(newKeyShowCmd(a))
	keyCmd.AddCommand(newKeyDeleteCmd(a))
	keyCmd.AddCommand(newKeySignCmd(a))
	keyCmd.AddCommand(newKeyVerifyCmd(a))
	return keyCmd
}

func newKeyCreateCmd(a *app) *cobra.Command {
	var (
		index uint32
		neo   bool
		force bool
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Read a key from the device and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()

			proxy, err := srv.Proxy(cmd.Context())
			if err != nil {
				return err
			}
			key, err := ledger.Create(cmd.Context(), proxy, index, neo)
			if err != nil {
				return fmt.Errorf("failed to create key: %w", err)
			}
			if err := srv.Keyring().Save(name, key, force); err != nil {
				return err
			}
			a.printVerbose("stored %s at %s", name, apdu.NewPath(index, neo))
			return a.printer().PrintKeyInfo(keyInfo(name, key))
		},
	}
	cmd.Flags().Uint32Var(&index, "index", 0, "key index on the device")
	cmd.Flags().BoolVar(&neo, "neo", false, "use the NEO derivation convention")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing entry")
	return cmd
}

func newKeyListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keyring entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()

			entries, err := srv.Keyring().List()
			if err != nil {
				return err
			}
			return a.printer().PrintKeyList(entries)
		},
	}
}

// newKeyShowCmd prints a stored key without touching the device.
func newKeyShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()

			j, err := srv.Keyring().Get(name)
			if err != nil {
				return err
			}
			pk, err := ledger.NewDeserializer(nil).Deserialize(j)
			if err != nil {
				return err
			}
			return a.printer().PrintKeyInfo(keyInfo(name, pk.(*ledger.Key)))
		},
	}
}

func newKeyDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored key",
		Long:  `Delete a keyring entry. The key itself stays on the device.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()

			if err := srv.Keyring().Delete(args[0]); err != nil {
				return err
			}
			return a.printer().PrintSuccess(fmt.Sprintf("Deleted key %s", args[0]))
		},
	}
}

func newKeySignCmd(a *app) *cobra.Command {
	var (
		txHex  string
		txFile string
		scheme string
	)
	cmd := &cobra.Command{
		Use:   "sign <name>",
		Short: "Sign a serialized transaction on the device",
		Long: `Sign the unsigned serialization of a transaction, given in hex with --tx
or read from --tx-file. The device asks for confirmation before signing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			rt, err := readTransaction(txHex, txFile)
			if err != nil {
				return err
			}
			sigScheme := keys.SchemeUnspecified
			if scheme != "" {
				if sigScheme, err = keys.ParseSignatureScheme(scheme); err != nil {
					return err
				}
			}

			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()

			if _, err := srv.Proxy(cmd.Context()); err != nil {
				return err
			}
			key, err := srv.Keyring().Load(name)
			if err != nil {
				return err
			}
			a.printVerbose("signing %d bytes with %s", rt.Len(), name)
			sig, err := key.SignAsync(cmd.Context(), rt, sigScheme, "")
			if err != nil {
				return fmt.Errorf("failed to sign: %w", err)
			}
			return a.printer().PrintSignature(name, sig.Algorithm.String(), hex.EncodeToString(sig.Value))
		},
	}
	cmd.Flags().StringVar(&txHex, "tx", "", "unsigned transaction in hex")
	cmd.Flags().StringVar(&txFile, "tx-file", "", "file holding the unsigned transaction in hex")
	cmd.Flags().StringVar(&scheme, "scheme", "", "signature scheme (default SHA256withECDSA)")
	return cmd
}

// newKeyVerifyCmd checks a signature against the stored public key.
func newKeyVerifyCmd(a *app) *cobra.Command {
	var (
		txHex  string
		txFile string
		sigHex string
	)
	cmd := &cobra.Command{
		Use:   "verify <name>",
		Short: "Verify a signature with a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := readTransaction(txHex, txFile)
			if err != nil {
				return err
			}
			value, err := hex.DecodeString(strings.TrimSpace(sigHex))
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			srv, err := a.server()
			if err != nil {
				return err
			}
			defer func() { srv.Logger().MaybeError(srv.Close()) }()

			j, err := srv.Keyring().Get(args[0])
			if err != nil {
				return err
			}
			pk, err := ledger.NewDeserializer(nil).Deserialize(j)
			if err != nil {
				return err
			}
			msg, err := rt.GetSignContent()
			if err != nil {
				return err
			}
			sig := &keys.Signature{Algorithm: keys.SHA256withECDSA, Value: value}
			if !pk.GetPublicKey().Verify(msg, sig) {
				return fmt.Errorf("signature does not match key %s", args[0])
			}
			return a.printer().PrintSuccess("Signature OK")
		},
	}
	cmd.Flags().StringVar(&txHex, "tx", "", "unsigned transaction in hex")
	cmd.Flags().StringVar(&txFile, "tx-file", "", "file holding the unsigned transaction in hex")
	cmd.Flags().StringVar(&sigHex, "sig", "", "signature in hex (r||s)")
	_ = cmd.MarkFlagRequired("sig")
	return cmd
}

func readTransaction(txHex, txFile string) (*tx.RawTransaction, error) {
	switch {
	case txHex != "" && txFile != "":
		return nil, fmt.Errorf("--tx and --tx-file are mutually exclusive")
	case txFile != "":
		data, err := os.ReadFile(txFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read transaction: %w", err)
		}
		txHex = string(data)
	case txHex == "":
		return nil, fmt.Errorf("one of --tx or --tx-file is required")
	}
	return tx.ParseHex(strings.TrimSpace(txHex))
}

func keyInfo(name string, key *ledger.Key) KeyInfo {
	pub := key.GetPublicKey()
	return KeyInfo{
		Name:      name,
		Index:     key.Index(),
		Neo:       key.Neo(),
		Path:      apdu.NewPath(key.Index(), key.Neo()).String(),
		PublicKey: pub.Hex(),
		Address:   pub.Address().Base58(),
	}
}
